// Package docstore adapts the FT document index into the two retrieval
// backends the fusion engine fans out to. The index is owned by the upstream
// ingestion pipeline; this repository only reads it.
package docstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/retrievex/internal/db"
	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
)

// store is the consumer interface for document search (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// Repo implements the fusion engine's LexicalSearcher and VectorSearcher.
type Repo struct {
	store     store
	indexName string
	keyPrefix string
	maxK      int
}

// New creates a document store repository. maxK caps how many candidates a
// single backend may return regardless of what the caller asks for.
func New(s store, indexName, keyPrefix string, maxK int) *Repo {
	if maxK <= 0 {
		maxK = 100
	}
	return &Repo{store: s, indexName: indexName, keyPrefix: keyPrefix, maxK: maxK}
}

// SearchLexical runs a BM25 full-text search and returns hits in backend
// rank order.
func (r *Repo) SearchLexical(
	ctx context.Context, text string, filters map[string]string, k int,
) ([]candidate.Hit, error) {
	q := &db.TextQuery{
		IndexName:    r.indexName,
		Query:        text,
		Filters:      filters,
		TopK:         r.clamp(k),
		ReturnFields: []string{"content"},
	}

	sr, err := r.store.SearchBM25(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search bm25: %w", err)
	}
	return r.toHits(sr), nil
}

// SearchVector runs a KNN similarity search and returns hits in backend
// rank order.
func (r *Repo) SearchVector(
	ctx context.Context, vector []float32, filters map[string]string, k int,
) ([]candidate.Hit, error) {
	q := &db.KNNQuery{
		IndexName:    r.indexName,
		Vector:       vector,
		Filters:      filters,
		K:            r.clamp(k),
		ReturnFields: []string{"content", "__vector_score"},
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}
	return r.toHits(sr), nil
}

func (r *Repo) clamp(k int) int {
	if k <= 0 || k > r.maxK {
		return r.maxK
	}
	return k
}

func (r *Repo) toHits(sr *db.SearchResult) []candidate.Hit {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	hits := make([]candidate.Hit, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		hits = append(hits, candidate.Hit{
			DocID:   strings.TrimPrefix(entry.Key, r.keyPrefix),
			Content: entry.Fields["content"],
			Score:   entry.Score,
		})
	}
	return hits
}
