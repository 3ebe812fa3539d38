// Package rerank provides the HTTP client for the cross-encoder reranking
// service. The reranker scores (query, document) pairs directly; the engine
// treats it as an opaque scoring function with a bounded output range.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/retrievex/internal/domain"
)

// Config holds reranker client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// RateLimitRPS caps outgoing rerank calls. 0 disables the limiter.
	RateLimitRPS float64
	RateBurst    int
	Logger       *zap.Logger
}

// Document is one candidate sent for scoring.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Client calls a cross-encoder rerank endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a reranker client.
func NewClient(cfg *Config) *Client {
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  cfg.Logger,
	}
}

type rerankRequest struct {
	Model     string     `json:"model,omitempty"`
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
}

type rerankResponse struct {
	Scores []scoredDocument `json:"scores"`
}

type scoredDocument struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Score returns cross-encoder scores keyed by document id. Scores are in
// [0,1]. All failures wrap domain.ErrRerankerUnavailable; callers fall back
// to the fused ranking.
func (c *Client) Score(ctx context.Context, queryText string, docs []Document) (map[string]float64, error) {
	if len(docs) == 0 {
		return map[string]float64{}, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rerank rate limit: %w: %w", err, domain.ErrRerankerUnavailable)
		}
	}

	body, err := json.Marshal(rerankRequest{Model: c.model, Query: queryText, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w: %w", err, domain.ErrRerankerUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API status %d: %w", resp.StatusCode, domain.ErrRerankerUnavailable)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w: %w", err, domain.ErrRerankerUnavailable)
	}

	scores := make(map[string]float64, len(parsed.Scores))
	for _, s := range parsed.Scores {
		scores[s.ID] = s.Score
	}
	return scores, nil
}

// HealthCheck probes the rerank endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reranker health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reranker health status %d", resp.StatusCode)
	}
	return nil
}
