package retrieve

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/retrievex/internal/domain"
	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
	"github.com/kailas-cloud/retrievex/internal/domain/profile"
	"github.com/kailas-cloud/retrievex/internal/domain/query"
	"github.com/kailas-cloud/retrievex/internal/repository/semcache"
)

// --- Mocks ---

type mockEmbedder struct {
	vec    []float32
	err    error
	called bool
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.called = true
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

type fuseCall struct {
	k int
}

type mockFuser struct {
	cands    []candidate.Candidate
	degraded bool
	errs     []error // consumed per call; nil entry means success
	calls    []fuseCall
}

func (m *mockFuser) Fuse(_ context.Context, _ string, _ []float32, _ map[string]string, k int) ([]candidate.Candidate, bool, error) {
	m.calls = append(m.calls, fuseCall{k: k})
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, false, err
		}
	}
	return m.cands, m.degraded, nil
}

type mockReranker struct {
	scores map[string]float64
	err    error
	called bool
	docs   []RerankDoc
}

func (m *mockReranker) Score(_ context.Context, _ string, docs []RerankDoc) (map[string]float64, error) {
	m.called = true
	m.docs = docs
	return m.scores, m.err
}

type mockProfiles struct {
	p profile.Profile
}

func (m *mockProfiles) SelectProfile(_ *query.Query) profile.Profile { return m.p }

type mockCache struct {
	exact      *semcache.Entry
	similar    *semcache.Entry
	similarHit semcache.Hit
	stored     chan []candidate.Candidate
	purged     int
}

func newMockCache() *mockCache {
	return &mockCache{
		similarHit: semcache.Miss,
		stored:     make(chan []candidate.Candidate, 1),
	}
}

func (m *mockCache) LookupExact(_ context.Context, _ *query.Query) (*semcache.Entry, bool) {
	return m.exact, m.exact != nil
}

func (m *mockCache) LookupSimilar(_ context.Context, _ *query.Query, _ []float32) (*semcache.Entry, semcache.Hit) {
	return m.similar, m.similarHit
}

func (m *mockCache) Store(_ context.Context, _ *query.Query, _ []float32, results []candidate.Candidate) {
	m.stored <- results
}

func (m *mockCache) Invalidate(_ context.Context, _ string) int { return m.purged }

// --- Helpers ---

func makeQuery(t *testing.T, budgetMs int) *query.Query {
	t.Helper()
	q, err := query.New("tenant-a", "user-1", "how does replication work", nil, 2, budgetMs, false)
	if err != nil {
		t.Fatalf("build query: %v", err)
	}
	return &q
}

func fusedCandidates(scores map[string]float64) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(scores))
	for id, s := range scores {
		out = append(out, candidate.Candidate{DocID: id, Content: "content " + id, LexicalRank: 1, FusedScore: s})
	}
	candidate.Sort(out)
	return out
}

func balancedProfile() profile.Profile {
	return profile.Profile{Bias: profile.Balanced, CandidatePool: 20, RerankThreshold: 0.35}
}

func newService(emb *mockEmbedder, f *mockFuser, r Reranker, c ResultCache) *Service {
	return New(emb, f, r, &mockProfiles{p: balancedProfile()}, c, Config{}, zap.NewNop())
}

// --- Tests ---

func TestRetrieve_ExactCacheHitSkipsPipeline(t *testing.T) {
	cache := newMockCache()
	cache.exact = &semcache.Entry{
		Key:      "k",
		TenantID: "tenant-a",
		Results:  fusedCandidates(map[string]float64{"D1": 0.5, "D2": 0.4, "D3": 0.3}),
	}
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{}

	svc := newService(emb, fuser, nil, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.CacheHit || resp.CacheKind != "exact" {
		t.Errorf("expected exact cache hit, got hit=%v kind=%q", resp.CacheHit, resp.CacheKind)
	}
	if emb.called {
		t.Error("embedder must not run on an exact cache hit")
	}
	if len(fuser.calls) != 0 {
		t.Error("fusion must not run on an exact cache hit")
	}
	if len(resp.Results) != 2 {
		t.Errorf("expected cached results truncated to top_k=2, got %d", len(resp.Results))
	}
}

func TestRetrieve_SemanticCacheHit(t *testing.T) {
	cache := newMockCache()
	cache.similar = &semcache.Entry{
		Key:      "k2",
		TenantID: "tenant-a",
		Results:  fusedCandidates(map[string]float64{"D9": 0.7}),
	}
	cache.similarHit = semcache.HitSemantic
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{}

	svc := newService(emb, fuser, nil, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.CacheHit || resp.CacheKind != "semantic" {
		t.Errorf("expected semantic cache hit, got hit=%v kind=%q", resp.CacheHit, resp.CacheKind)
	}
	if !emb.called {
		t.Error("similarity lookup requires the embedding")
	}
	if len(fuser.calls) != 0 {
		t.Error("fusion must not run on a cache hit")
	}
}

func TestRetrieve_MissRunsFullPipelineAndCaches(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{cands: fusedCandidates(map[string]float64{"D1": 0.5, "D2": 0.4, "D3": 0.3})}
	reranker := &mockReranker{scores: map[string]float64{"D1": 0.9, "D2": 0.8, "D3": 0.7}}

	svc := newService(emb, fuser, reranker, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.CacheHit || resp.Degraded {
		t.Errorf("expected fresh non-degraded response, got %+v", resp)
	}
	if !resp.RerankApplied {
		t.Error("expected rerank to be applied")
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected top_k=2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].DocID != "D1" {
		t.Errorf("expected D1 first by fused score, got %s", resp.Results[0].DocID)
	}

	// The cache receives the full post-rerank list, not the top_k=2 slice,
	// so an exact hit can serve a later request asking for more results.
	select {
	case stored := <-cache.stored:
		if len(stored) != 3 {
			t.Errorf("expected full reranked list cached, got %d", len(stored))
		}
	case <-time.After(time.Second):
		t.Fatal("expected a detached cache write")
	}
}

func TestRetrieve_RerankCutoffFilters(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{cands: fusedCandidates(map[string]float64{"D1": 0.5, "D2": 0.4, "D3": 0.3})}
	// D1 falls below the 0.35 cutoff and must be dropped despite the top
	// fused score.
	reranker := &mockReranker{scores: map[string]float64{"D1": 0.1, "D2": 0.8, "D3": 0.7}}

	svc := newService(emb, fuser, reranker, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].DocID != "D2" || resp.Results[1].DocID != "D3" {
		t.Errorf("expected D2, D3 after cutoff, got %s, %s", resp.Results[0].DocID, resp.Results[1].DocID)
	}
	for _, r := range resp.Results {
		if !r.Reranked {
			t.Errorf("expected %s marked reranked", r.DocID)
		}
	}
}

func TestRetrieve_BudgetExhausted_SkipsRerank(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{cands: fusedCandidates(map[string]float64{"D1": 0.5})}
	reranker := &mockReranker{scores: map[string]float64{"D1": 0.9}}

	// A 1ms budget leaves less than the minimum rerank budget by the time
	// fusion returns.
	svc := newService(emb, fuser, reranker, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reranker.called {
		t.Error("reranker must not be called when the budget is exhausted")
	}
	if resp.RerankApplied {
		t.Error("expected fused-only response")
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected fused results, got %d", len(resp.Results))
	}
}

func TestRetrieve_EmbeddingFailure_LexicalOnly(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{err: errors.New("provider 500")}
	fuser := &mockFuser{cands: fusedCandidates(map[string]float64{"D1": 0.5}), degraded: true}

	svc := newService(emb, fuser, nil, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Degraded {
		t.Error("expected degraded response")
	}
	if len(fuser.calls) != 1 {
		t.Fatalf("expected one fusion call, got %d", len(fuser.calls))
	}
}

func TestRetrieve_RetryWithReducedPool(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{
		cands: fusedCandidates(map[string]float64{"D1": 0.5}),
		errs:  []error{domain.ErrBackendUnavailable, nil},
	}

	svc := newService(emb, fuser, nil, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fuser.calls) != 2 {
		t.Fatalf("expected a retry, got %d calls", len(fuser.calls))
	}
	if fuser.calls[0].k != 20 || fuser.calls[1].k != 10 {
		t.Errorf("expected pool 20 then 10, got %d then %d", fuser.calls[0].k, fuser.calls[1].k)
	}
	if len(resp.Results) != 1 {
		t.Errorf("expected retry results, got %d", len(resp.Results))
	}
}

func TestRetrieve_NoRetryWhenPoolCannotShrink(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{errs: []error{domain.ErrBackendUnavailable}}

	// With the pool already at top_k, halving floors back to the same size;
	// repeating the identical call would be a retry storm, not a retry.
	profiles := &mockProfiles{p: profile.Profile{Bias: profile.Balanced, CandidatePool: 2, RerankThreshold: 0.35}}
	svc := New(emb, fuser, nil, profiles, cache, Config{}, zap.NewNop())

	_, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if len(fuser.calls) != 1 {
		t.Errorf("expected no retry with an unreducible pool, got %d calls", len(fuser.calls))
	}
}

func TestRetrieve_RetryFails(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{errs: []error{domain.ErrBackendUnavailable, domain.ErrBackendUnavailable}}

	svc := newService(emb, fuser, nil, cache)
	_, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRetrieve_DegradedResultNotCached(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{cands: fusedCandidates(map[string]float64{"D1": 0.5}), degraded: true}

	svc := newService(emb, fuser, nil, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Degraded {
		t.Fatal("expected degraded response")
	}

	select {
	case <-cache.stored:
		t.Error("degraded results must not be cached")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetrieve_RerankerFailure_FusedFallback(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{cands: fusedCandidates(map[string]float64{"D1": 0.5, "D2": 0.4})}
	reranker := &mockReranker{err: domain.ErrRerankerUnavailable}

	svc := newService(emb, fuser, reranker, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RerankApplied {
		t.Error("expected fused-only fallback")
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected fused results, got %d", len(resp.Results))
	}
	if resp.Results[0].DocID != "D1" {
		t.Errorf("expected fused order preserved, got %s first", resp.Results[0].DocID)
	}
}

func TestInvalidate_Passthrough(t *testing.T) {
	cache := newMockCache()
	cache.purged = 3

	svc := newService(&mockEmbedder{}, &mockFuser{}, nil, cache)
	if got := svc.Invalidate(context.Background(), "D1"); got != 3 {
		t.Errorf("expected 3 purged entries, got %d", got)
	}
}

func TestRetrieve_ElapsedReported(t *testing.T) {
	cache := newMockCache()
	emb := &mockEmbedder{vec: []float32{1}}
	fuser := &mockFuser{cands: fusedCandidates(map[string]float64{"D1": 0.5})}

	svc := newService(emb, fuser, nil, cache)
	resp, err := svc.Retrieve(context.Background(), makeQuery(t, 150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ElapsedMs < 0 {
		t.Errorf("expected non-negative elapsed, got %d", resp.ElapsedMs)
	}
}
