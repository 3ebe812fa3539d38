package domain

import "errors"

var (
	// ErrInvalidQuery signals a client-caused validation failure.
	// Rejected before the cache or any backend is touched, never retried.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrBackendUnavailable signals that both retrieval backends failed.
	// A single surviving backend degrades the result instead.
	ErrBackendUnavailable = errors.New("retrieval backends unavailable")
	// ErrCacheInconsistency signals a tenant mismatch or corrupted cache entry.
	// Handled as a miss, never served.
	ErrCacheInconsistency = errors.New("cache inconsistency")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrRerankerUnavailable signals a reranker failure. The orchestrator
	// falls back to the fused-only ranking.
	ErrRerankerUnavailable = errors.New("reranker unavailable")
)
