package retrieve

import (
	"context"

	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
	"github.com/kailas-cloud/retrievex/internal/domain/profile"
	"github.com/kailas-cloud/retrievex/internal/domain/query"
	"github.com/kailas-cloud/retrievex/internal/repository/semcache"
)

// Fuser merges the lexical and vector rankings for a query.
type Fuser interface {
	Fuse(ctx context.Context, text string, embedding []float32, filters map[string]string, k int) (cands []candidate.Candidate, degraded bool, err error)
}

// RerankDoc is one candidate submitted for cross-encoder scoring.
type RerankDoc struct {
	ID   string
	Text string
}

// Reranker scores (query, document) pairs. Scores are keyed by document id.
type Reranker interface {
	Score(ctx context.Context, queryText string, docs []RerankDoc) (map[string]float64, error)
}

// ProfileSelector picks the threshold profile for a query.
type ProfileSelector interface {
	SelectProfile(q *query.Query) profile.Profile
}

// ResultCache is the semantic result cache consumed by the orchestrator.
type ResultCache interface {
	LookupExact(ctx context.Context, q *query.Query) (*semcache.Entry, bool)
	LookupSimilar(ctx context.Context, q *query.Query, embedding []float32) (*semcache.Entry, semcache.Hit)
	Store(ctx context.Context, q *query.Query, embedding []float32, results []candidate.Candidate)
	Invalidate(ctx context.Context, docID string) int
}
