// Package retrieve implements the retrieval orchestrator: the per-request
// pipeline of cache lookup, embedding, rank fusion, optional reranking and
// the detached cache write, all under a hard latency budget.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/retrievex/internal/domain"
	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
	"github.com/kailas-cloud/retrievex/internal/domain/query"
	"github.com/kailas-cloud/retrievex/internal/metrics"
	"github.com/kailas-cloud/retrievex/internal/repository/semcache"
)

// DefaultMinRerankBudget is the remaining budget below which the rerank
// stage is skipped and the fused ranking is returned as-is.
const DefaultMinRerankBudget = 40 * time.Millisecond

// Config holds orchestrator settings.
type Config struct {
	// MinRerankBudget is the minimum remaining budget required to attempt
	// the rerank stage.
	MinRerankBudget time.Duration
}

// Response is the outcome of one retrieval request.
type Response struct {
	Results []candidate.Candidate
	// CacheHit reports whether the response was served from the semantic
	// cache; CacheKind is "exact" or "semantic" when it is.
	CacheHit  bool
	CacheKind string
	// Degraded marks a response built from a single retrieval backend.
	Degraded bool
	// RerankApplied reports whether cross-encoder scores shaped the result.
	RerankApplied bool
	ElapsedMs     int64
}

// Service is the retrieval orchestrator.
type Service struct {
	embedder domain.Embedder
	fuser    Fuser
	reranker Reranker
	profiles ProfileSelector
	cache    ResultCache
	cfg      Config
	logger   *zap.Logger
}

// New creates the orchestrator. reranker and cache may be nil; the pipeline
// then runs without those stages.
func New(
	embedder domain.Embedder,
	fuser Fuser,
	reranker Reranker,
	profiles ProfileSelector,
	cache ResultCache,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MinRerankBudget <= 0 {
		cfg.MinRerankBudget = DefaultMinRerankBudget
	}
	return &Service{
		embedder: embedder,
		fuser:    fuser,
		reranker: reranker,
		profiles: profiles,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve answers a query within its latency budget. The budget is a
// countdown from this call: every downstream stage inherits the deadline,
// and the rerank stage is dropped first when time runs short.
func (s *Service) Retrieve(ctx context.Context, q *query.Query) (*Response, error) {
	start := time.Now()
	deadline := start.Add(time.Duration(q.BudgetMs()) * time.Millisecond)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	resp, err := s.retrieve(ctx, q, deadline)
	elapsed := time.Since(start)
	metrics.RetrievalDuration.WithLabelValues("total").Observe(elapsed.Seconds())

	switch {
	case err != nil:
		metrics.RetrievalRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	case resp.Degraded:
		metrics.RetrievalRequestsTotal.WithLabelValues("degraded").Inc()
	default:
		metrics.RetrievalRequestsTotal.WithLabelValues("ok").Inc()
	}

	resp.ElapsedMs = elapsed.Milliseconds()
	return resp, nil
}

func (s *Service) retrieve(ctx context.Context, q *query.Query, deadline time.Time) (*Response, error) {
	// Exact-key cache check before paying for an embedding.
	if s.cache != nil {
		if entry, ok := s.cache.LookupExact(ctx, q); ok {
			return cachedResponse(entry, "exact", q.TopK()), nil
		}
	}

	embedding := s.embed(ctx, q.Text())

	if s.cache != nil && len(embedding) > 0 {
		if entry, hit := s.cache.LookupSimilar(ctx, q, embedding); hit != semcache.Miss {
			return cachedResponse(entry, "semantic", q.TopK()), nil
		}
	}

	prof := s.profiles.SelectProfile(q)

	cands, degraded, err := s.fuse(ctx, q, embedding, prof.CandidatePool)
	if err != nil {
		return nil, err
	}

	reranked := false
	if s.reranker != nil {
		remaining := time.Until(deadline)
		if remaining < s.cfg.MinRerankBudget {
			metrics.RerankSkipsTotal.Inc()
			s.logger.Debug("Skipping rerank, budget exhausted",
				zap.Duration("remaining", remaining),
				zap.String("tenant_id", q.TenantID()))
		} else {
			cands, reranked = s.rerank(ctx, q.Text(), cands, prof.CandidatePool, prof.RerankThreshold)
		}
	}

	candidate.Sort(cands)

	// The full post-rerank list goes to the cache so a later hit can serve
	// any top_k; this response is truncated to its own. Degraded results
	// never enter the cache at all.
	if s.cache != nil && !degraded && len(cands) > 0 {
		s.storeDetached(ctx, q, embedding, cands)
	}

	results := cands
	if len(results) > q.TopK() {
		results = results[:q.TopK()]
	}

	return &Response{
		Results:       results,
		Degraded:      degraded,
		RerankApplied: reranked,
	}, nil
}

// embed computes the query embedding. Failure is soft: the pipeline
// continues lexical-only and fusion reports the degradation.
func (s *Service) embed(ctx context.Context, text string) []float32 {
	stage := time.Now()
	res, err := s.embedder.Embed(ctx, text)
	metrics.RetrievalDuration.WithLabelValues("embed").Observe(time.Since(stage).Seconds())
	if err != nil {
		metrics.BackendErrorsTotal.WithLabelValues("embedding").Inc()
		s.logger.Warn("Query embedding failed, continuing lexical-only", zap.Error(err))
		return nil
	}
	return res.Embedding
}

// fuse runs rank fusion with one retry on total backend failure. The retry
// asks for half the candidate pool to fit inside what is left of the budget.
func (s *Service) fuse(ctx context.Context, q *query.Query, embedding []float32, pool int) ([]candidate.Candidate, bool, error) {
	stage := time.Now()
	defer func() {
		metrics.RetrievalDuration.WithLabelValues("fuse").Observe(time.Since(stage).Seconds())
	}()

	cands, degraded, err := s.fuser.Fuse(ctx, q.Text(), embedding, q.Filters(), pool)
	if err == nil {
		return cands, degraded, nil
	}
	if !errors.Is(err, domain.ErrBackendUnavailable) || ctx.Err() != nil {
		return nil, false, err
	}

	retryPool := pool / 2
	if retryPool < q.TopK() {
		retryPool = q.TopK()
	}
	// The retry must ask for strictly less; when the pool cannot shrink
	// below top_k there is nothing cheaper to try.
	if retryPool >= pool {
		return nil, false, err
	}
	s.logger.Warn("Both backends failed, retrying with reduced pool",
		zap.Int("pool", retryPool), zap.Error(err))

	cands, degraded, retryErr := s.fuser.Fuse(ctx, q.Text(), embedding, q.Filters(), retryPool)
	if retryErr != nil {
		return nil, false, fmt.Errorf("retry after backend failure: %w", retryErr)
	}
	return cands, degraded, nil
}

// rerank sends the top of the fused ranking to the cross-encoder, drops
// candidates scoring below the profile cutoff and records the scores for
// tie-breaking. The fused score stays the primary sort key. Reranker
// failure falls back to the fused ranking unchanged.
func (s *Service) rerank(ctx context.Context, text string, cands []candidate.Candidate, pool int, cutoff float64) ([]candidate.Candidate, bool) {
	if pool > len(cands) {
		pool = len(cands)
	}
	if pool == 0 {
		return cands, false
	}

	docs := make([]RerankDoc, pool)
	for i := range cands[:pool] {
		docs[i] = RerankDoc{ID: cands[i].DocID, Text: cands[i].Content}
	}

	stage := time.Now()
	scores, err := s.reranker.Score(ctx, text, docs)
	metrics.RetrievalDuration.WithLabelValues("rerank").Observe(time.Since(stage).Seconds())
	if err != nil {
		metrics.BackendErrorsTotal.WithLabelValues("reranker").Inc()
		s.logger.Warn("Rerank failed, serving fused ranking", zap.Error(err))
		return cands, false
	}

	kept := make([]candidate.Candidate, 0, len(cands))
	for i, c := range cands {
		score, ok := scores[c.DocID]
		if i >= pool || !ok {
			// Beyond the rerank pool: survives on fused score alone.
			kept = append(kept, c)
			continue
		}
		if score < cutoff {
			continue
		}
		c.RerankScore = score
		c.Reranked = true
		kept = append(kept, c)
	}
	return kept, true
}

// storeDetached writes the result set to the cache without blocking the
// response or inheriting its deadline.
func (s *Service) storeDetached(ctx context.Context, q *query.Query, embedding []float32, results []candidate.Candidate) {
	snapshot := make([]candidate.Candidate, len(results))
	copy(snapshot, results)
	wctx := context.WithoutCancel(ctx)
	go s.cache.Store(wctx, q, embedding, snapshot)
}

// Invalidate purges cached result sets that reference the document. It is
// the hook behind the document change-notification endpoint.
func (s *Service) Invalidate(ctx context.Context, docID string) int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Invalidate(ctx, docID)
}

func cachedResponse(entry *semcache.Entry, kind string, topK int) *Response {
	results := entry.Results
	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]candidate.Candidate, len(results))
	copy(out, results)
	return &Response{Results: out, CacheHit: true, CacheKind: kind}
}
