package fusion

import (
	"context"

	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
)

// LexicalSearcher is the full-text (BM25) retrieval backend.
type LexicalSearcher interface {
	SearchLexical(ctx context.Context, text string, filters map[string]string, k int) ([]candidate.Hit, error)
}

// VectorSearcher is the dense-vector (KNN) retrieval backend.
type VectorSearcher interface {
	SearchVector(ctx context.Context, vector []float32, filters map[string]string, k int) ([]candidate.Hit, error)
}
