package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/retrievex/internal/domain"
	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
	"github.com/kailas-cloud/retrievex/internal/domain/profile"
	"github.com/kailas-cloud/retrievex/internal/domain/query"
	"github.com/kailas-cloud/retrievex/internal/repository/semcache"
	healthuc "github.com/kailas-cloud/retrievex/internal/usecase/health"
	retrieveuc "github.com/kailas-cloud/retrievex/internal/usecase/retrieve"
)

// --- Mocks ---

type mockEmbedder struct {
	vec []float32
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

type mockFuser struct {
	cands []candidate.Candidate
	err   error
}

func (m *mockFuser) Fuse(_ context.Context, _ string, _ []float32, _ map[string]string, _ int) ([]candidate.Candidate, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return m.cands, false, nil
}

type mockProfiles struct{}

func (mockProfiles) SelectProfile(_ *query.Query) profile.Profile {
	return profile.Profile{Bias: profile.Balanced, CandidatePool: 20, RerankThreshold: 0.35}
}

type mockCache struct {
	purged int
}

func (m *mockCache) LookupExact(_ context.Context, _ *query.Query) (*semcache.Entry, bool) {
	return nil, false
}

func (m *mockCache) LookupSimilar(_ context.Context, _ *query.Query, _ []float32) (*semcache.Entry, semcache.Hit) {
	return nil, semcache.Miss
}

func (m *mockCache) Store(_ context.Context, _ *query.Query, _ []float32, _ []candidate.Candidate) {
}

func (m *mockCache) Invalidate(_ context.Context, _ string) int { return m.purged }

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

// --- Helpers ---

func newTestRouter(t *testing.T, fuser *mockFuser, dbErr error) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	retrievalSvc := retrieveuc.New(
		&mockEmbedder{vec: []float32{1}},
		fuser, nil, mockProfiles{}, &mockCache{purged: 2},
		retrieveuc.Config{}, logger,
	)
	healthSvc := healthuc.New(&mockPinger{err: dbErr}, nil, nil)

	r := chirouter.NewRouter()
	NewServer(retrievalSvc, healthSvc, logger).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestRetrieveEndpoint(t *testing.T) {
	fuser := &mockFuser{cands: []candidate.Candidate{
		{DocID: "D1", Content: "first", LexicalRank: 1, VectorRank: 2, FusedScore: 0.5},
		{DocID: "D2", Content: "second", VectorRank: 1, FusedScore: 0.4},
	}}
	router := newTestRouter(t, fuser, nil)

	rr := doJSON(t, router, "POST", "/api/v1/retrieve",
		`{"tenant_id":"acme","user_id":"u-1","query":"how does replication work"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp retrieveResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 2 || len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %+v", resp)
	}
	if resp.Results[0].ID != "D1" || resp.Results[0].Score != 0.5 {
		t.Errorf("unexpected first result: %+v", resp.Results[0])
	}
	if resp.Results[0].LexicalRank != 1 || resp.Results[0].VectorRank != 2 {
		t.Errorf("expected per-source ranks 1/2 for D1, got %+v", resp.Results[0])
	}
	if len(resp.Results[0].Sources) != 2 {
		t.Errorf("expected both sources for D1, got %v", resp.Results[0].Sources)
	}
	if len(resp.Results[1].Sources) != 1 || resp.Results[1].Sources[0] != "vector" {
		t.Errorf("expected vector-only source for D2, got %v", resp.Results[1].Sources)
	}
}

func TestRetrieveEndpoint_AbsentRankOmitted(t *testing.T) {
	fuser := &mockFuser{cands: []candidate.Candidate{
		{DocID: "D2", Content: "second", VectorRank: 1, FusedScore: 0.4},
	}}
	router := newTestRouter(t, fuser, nil)

	rr := doJSON(t, router, "POST", "/api/v1/retrieve",
		`{"tenant_id":"acme","user_id":"u-1","query":"how does replication work"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"vector_rank":1`) {
		t.Errorf("expected vector_rank in body: %s", body)
	}
	if strings.Contains(body, "lexical_rank") {
		t.Errorf("absent lexical rank must be omitted: %s", body)
	}
}

func TestRetrieveEndpoint_InvalidBody(t *testing.T) {
	router := newTestRouter(t, &mockFuser{}, nil)

	rr := doJSON(t, router, "POST", "/api/v1/retrieve", `{not json`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var e errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.Code != codeBadRequest {
		t.Errorf("expected %s, got %s", codeBadRequest, e.Code)
	}
}

func TestRetrieveEndpoint_ValidationError(t *testing.T) {
	router := newTestRouter(t, &mockFuser{}, nil)

	rr := doJSON(t, router, "POST", "/api/v1/retrieve", `{"user_id":"u-1","query":"x"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var e errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.Code != codeInvalidQuery {
		t.Errorf("expected %s, got %s", codeInvalidQuery, e.Code)
	}
}

func TestRetrieveEndpoint_BackendUnavailable(t *testing.T) {
	router := newTestRouter(t, &mockFuser{err: domain.ErrBackendUnavailable}, nil)

	rr := doJSON(t, router, "POST", "/api/v1/retrieve",
		`{"tenant_id":"acme","user_id":"u-1","query":"anything"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var e errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.Code != codeBackendUnavailable {
		t.Errorf("expected %s, got %s", codeBackendUnavailable, e.Code)
	}
}

func TestRetrieveEndpoint_UnknownErrorIs500(t *testing.T) {
	router := newTestRouter(t, &mockFuser{err: errors.New("boom")}, nil)

	rr := doJSON(t, router, "POST", "/api/v1/retrieve",
		`{"tenant_id":"acme","user_id":"u-1","query":"anything"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Error("internal error details must not leak to the client")
	}
}

func TestInvalidateEndpoint(t *testing.T) {
	router := newTestRouter(t, &mockFuser{}, nil)

	rr := doJSON(t, router, "POST", "/api/v1/invalidate/D42", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		DocID  string `json:"doc_id"`
		Purged int    `json:"purged"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.DocID != "D42" || resp.Purged != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &mockFuser{}, nil)

	rr := doJSON(t, router, "GET", "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	router := newTestRouter(t, &mockFuser{}, errors.New("db down"))

	rr := doJSON(t, router, "GET", "/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
