// Package chi exposes the retrieval API over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/retrievex/internal/domain"
	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
	"github.com/kailas-cloud/retrievex/internal/domain/query"
	healthuc "github.com/kailas-cloud/retrievex/internal/usecase/health"
	retrieveuc "github.com/kailas-cloud/retrievex/internal/usecase/retrieve"
)

// Error response codes.
const (
	codeBadRequest         = "bad_request"
	codeInvalidQuery       = "invalid_query"
	codeBackendUnavailable = "backend_unavailable"
	codeProviderError      = "embedding_provider_error"
	codeInternalError      = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server handles the retrieval API endpoints.
type Server struct {
	retrieval     *retrieveuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(retrieval *retrieveuc.Service, health *healthuc.Service, logger *zap.Logger) *Server {
	s := &Server{
		retrieval: retrieval,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, codeInvalidQuery),
		sentinelHandler(domain.ErrBackendUnavailable, http.StatusServiceUnavailable, codeBackendUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeProviderError),
	}
	return s
}

// RegisterRoutes mounts the API endpoints on the router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/retrieve", s.Retrieve)
	r.Post("/api/v1/invalidate/{docId}", s.Invalidate)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type retrieveRequest struct {
	TenantID          string            `json:"tenant_id"`
	UserID            string            `json:"user_id"`
	Query             string            `json:"query"`
	Filters           map[string]string `json:"filters,omitempty"`
	TopK              int               `json:"top_k,omitempty"`
	BudgetMs          int               `json:"budget_ms,omitempty"`
	PrecisionPriority bool              `json:"precision_priority,omitempty"`
}

type resultItem struct {
	ID          string   `json:"id"`
	Content     string   `json:"content,omitempty"`
	Score       float64  `json:"score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
	LexicalRank int      `json:"lexical_rank,omitempty"`
	VectorRank  int      `json:"vector_rank,omitempty"`
	Sources     []string `json:"sources"`
}

type retrieveResponse struct {
	Results       []resultItem `json:"results"`
	Total         int          `json:"total"`
	CacheHit      bool         `json:"cache_hit"`
	CacheKind     string       `json:"cache_kind,omitempty"`
	Degraded      bool         `json:"degraded"`
	RerankApplied bool         `json:"rerank_applied"`
	ElapsedMs     int64        `json:"elapsed_ms"`
}

// Retrieve handles POST /api/v1/retrieve.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	q, err := query.New(
		req.TenantID, req.UserID, req.Query,
		req.Filters, req.TopK, req.BudgetMs, req.PrecisionPriority,
	)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp, err := s.retrieval.Retrieve(r.Context(), &q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, retrieveResponseToJSON(resp))
}

// Invalidate handles POST /api/v1/invalidate/{docId}. It purges cached
// result sets referencing the document after an index update.
func (s *Server) Invalidate(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docId")
	if docID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "document id is required")
		return
	}

	purged := s.retrieval.Invalidate(r.Context(), docID)
	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id": docID,
		"purged": purged,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func retrieveResponseToJSON(resp *retrieveuc.Response) retrieveResponse {
	items := make([]resultItem, len(resp.Results))
	for i := range resp.Results {
		items[i] = resultToJSON(&resp.Results[i])
	}
	return retrieveResponse{
		Results:       items,
		Total:         len(items),
		CacheHit:      resp.CacheHit,
		CacheKind:     resp.CacheKind,
		Degraded:      resp.Degraded,
		RerankApplied: resp.RerankApplied,
		ElapsedMs:     resp.ElapsedMs,
	}
}

func resultToJSON(c *candidate.Candidate) resultItem {
	item := resultItem{
		ID:          c.DocID,
		Content:     c.Content,
		Score:       c.FusedScore,
		LexicalRank: c.LexicalRank,
		VectorRank:  c.VectorRank,
	}
	if c.Reranked {
		score := c.RerankScore
		item.RerankScore = &score
	}
	if c.FoundByLexical() {
		item.Sources = append(item.Sources, "lexical")
	}
	if c.FoundByVector() {
		item.Sources = append(item.Sources, "vector")
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidQuery,
		domain.ErrBackendUnavailable,
		domain.ErrEmbeddingProviderError,
		domain.ErrRerankerUnavailable,
		domain.ErrCacheInconsistency,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
