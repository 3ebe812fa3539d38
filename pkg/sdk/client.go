package retrievex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors mapped from API error codes. Use errors.Is() to check.
var (
	ErrInvalidQuery       = errors.New("invalid query")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrBackendUnavailable = errors.New("retrieval backend unavailable")
)

const defaultTimeout = 5 * time.Second

// Option configures the client.
type Option func(*Client)

// WithAPIKey sets the Bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client is the retrievex API client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request is one retrieval request.
type Request struct {
	TenantID          string            `json:"tenant_id"`
	UserID            string            `json:"user_id"`
	Query             string            `json:"query"`
	Filters           map[string]string `json:"filters,omitempty"`
	TopK              int               `json:"top_k,omitempty"`
	BudgetMs          int               `json:"budget_ms,omitempty"`
	PrecisionPriority bool              `json:"precision_priority,omitempty"`
}

// Result is one ranked document. LexicalRank and VectorRank are 1-indexed;
// zero means the document was absent from that ranking.
type Result struct {
	ID          string   `json:"id"`
	Content     string   `json:"content,omitempty"`
	Score       float64  `json:"score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
	LexicalRank int      `json:"lexical_rank,omitempty"`
	VectorRank  int      `json:"vector_rank,omitempty"`
	Sources     []string `json:"sources"`
}

// Response is the outcome of a retrieval request.
type Response struct {
	Results       []Result `json:"results"`
	Total         int      `json:"total"`
	CacheHit      bool     `json:"cache_hit"`
	CacheKind     string   `json:"cache_kind,omitempty"`
	Degraded      bool     `json:"degraded"`
	RerankApplied bool     `json:"rerank_applied"`
	ElapsedMs     int64    `json:"elapsed_ms"`
}

// InvalidateResult reports how many cached result sets were purged.
type InvalidateResult struct {
	DocID  string `json:"doc_id"`
	Purged int    `json:"purged"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Retrieve answers a query against the hybrid index.
func (c *Client) Retrieve(ctx context.Context, req Request) (*Response, error) {
	var resp Response
	if err := c.post(ctx, "/api/v1/retrieve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Invalidate purges cached result sets referencing the document. Call it
// after the document is updated or deleted in the index.
func (c *Client) Invalidate(ctx context.Context, docID string) (*InvalidateResult, error) {
	var resp InvalidateResult
	if err := c.post(ctx, "/api/v1/invalidate/"+url.PathEscape(docID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("retrievex: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("retrievex: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("retrievex: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("retrievex: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var e apiError
	_ = json.NewDecoder(resp.Body).Decode(&e)

	var sentinel error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusBadRequest:
		sentinel = ErrInvalidQuery
	case http.StatusServiceUnavailable:
		sentinel = ErrBackendUnavailable
	}

	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	if sentinel != nil {
		return fmt.Errorf("retrievex: %s: %w", msg, sentinel)
	}
	return fmt.Errorf("retrievex: %s (status %d)", msg, resp.StatusCode)
}
