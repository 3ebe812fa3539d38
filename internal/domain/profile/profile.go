// Package profile defines the per-query threshold profile selected by the
// threshold manager.
package profile

// Bias is the precision/recall bias of a profile.
type Bias string

const (
	// Balanced is the default bias.
	Balanced Bias = "balanced"
	// HighRecall widens the candidate pool and lowers the rerank cutoff.
	HighRecall Bias = "high_recall"
	// HighPrecision narrows the pool and raises the rerank cutoff.
	HighPrecision Bias = "high_precision"
)

// Profile controls how many fused candidates reach the reranker and the
// minimum rerank score required to keep a candidate. Computed per request,
// never persisted. Cutoffs are derived offline from labeled relevance data
// (Youden's J over the score ROC) and refreshed out of band.
type Profile struct {
	Bias            Bias
	CandidatePool   int
	RerankThreshold float64
}
