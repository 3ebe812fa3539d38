package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval pipeline Prometheus metrics.
var (
	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrievex",
			Name:      "retrieval_stage_duration_seconds",
			Help:      "Duration of retrieval pipeline stages",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.25, 0.5},
		},
		[]string{"stage"}, // embed / fuse / rerank / total
	)

	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrievex",
			Name:      "retrieval_requests_total",
			Help:      "Total retrieval requests by outcome",
		},
		[]string{"outcome"}, // ok / degraded / error
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrievex",
			Name:      "cache_lookups_total",
			Help:      "Semantic cache lookups by result",
		},
		[]string{"result"}, // hit_exact / hit_semantic / miss
	)

	BackendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrievex",
			Name:      "backend_errors_total",
			Help:      "Retrieval backend failures",
		},
		[]string{"backend"}, // lexical / vector / embedding / reranker
	)

	RerankSkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "retrievex",
			Name:      "rerank_skips_total",
			Help:      "Requests that returned a fused-only ranking because the latency budget ran out",
		},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrievex",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrievex",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"provider", "model"},
	)
)

var retrievalMetricsRegistered bool

// RegisterRetrievalMetrics registers pipeline metrics. Must be called once from main.
func RegisterRetrievalMetrics() {
	if retrievalMetricsRegistered {
		return
	}
	prometheus.MustRegister(RetrievalDuration)
	prometheus.MustRegister(RetrievalRequestsTotal)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(BackendErrorsTotal)
	prometheus.MustRegister(RerankSkipsTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	retrievalMetricsRegistered = true
}
