// Package threshold selects the per-query threshold profile: how many fused
// candidates go to the reranker and the minimum rerank score to keep.
package threshold

import (
	"strings"
	"sync"

	"github.com/kailas-cloud/retrievex/internal/domain/profile"
	"github.com/kailas-cloud/retrievex/internal/domain/query"
)

// highRecallComplexity is the complexity score above which a query gets the
// high-recall profile.
const highRecallComplexity = 0.7

// relationalKeywords mark comparison-style queries that need a wider
// candidate pool to answer well.
var relationalKeywords = []string{
	"compare", "versus", "vs", "difference", "between", "than",
	"before", "after", "except", "instead", "rather",
}

// Manager holds the precomputed profile table and picks one per query.
// Cutoff values are derived offline from labeled relevance data (Youden's J
// over the rerank-score ROC) and refreshed via UpdateProfiles, never
// recomputed on the request path.
type Manager struct {
	mu       sync.RWMutex
	profiles map[profile.Bias]profile.Profile
}

// New creates a Manager with the given profile table.
func New(profiles map[profile.Bias]profile.Profile) *Manager {
	m := &Manager{}
	m.UpdateProfiles(profiles)
	return m
}

// UpdateProfiles atomically replaces the profile table. Called by the
// offline threshold refresh, not by request handling.
func (m *Manager) UpdateProfiles(profiles map[profile.Bias]profile.Profile) {
	cp := make(map[profile.Bias]profile.Profile, len(profiles))
	for k, v := range profiles {
		cp[k] = v
	}
	m.mu.Lock()
	m.profiles = cp
	m.mu.Unlock()
}

// SelectProfile picks the threshold profile for a query. Caller-declared
// precision priority wins; otherwise high complexity widens the pool.
func (m *Manager) SelectProfile(q *query.Query) profile.Profile {
	bias := profile.Balanced
	switch {
	case q.PrecisionPriority():
		bias = profile.HighPrecision
	case Complexity(q.Text()) > highRecallComplexity:
		bias = profile.HighRecall
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.profiles[bias]; ok {
		return p
	}
	return m.profiles[profile.Balanced]
}

// Complexity scores a query in [0,1] from token count, relational keywords,
// and clause structure. Rule-based so the hot path stays deterministic.
func Complexity(text string) float64 {
	lower := strings.ToLower(text)
	tokens := strings.Fields(lower)

	// Token count: saturates at 20 tokens.
	tokenScore := float64(len(tokens)) / 20.0
	if tokenScore > 1 {
		tokenScore = 1
	}

	var relScore float64
	for _, kw := range relationalKeywords {
		if containsWord(tokens, kw) {
			relScore = 1
			break
		}
	}

	clauses := 1 + strings.Count(lower, ",") + strings.Count(lower, ";") +
		countWord(tokens, "and") + countWord(tokens, "or")
	clauseScore := float64(clauses-1) / 3.0
	if clauseScore > 1 {
		clauseScore = 1
	}

	return 0.4*tokenScore + 0.3*relScore + 0.3*clauseScore
}

func containsWord(tokens []string, w string) bool {
	for _, t := range tokens {
		if strings.Trim(t, ".,;:?!") == w {
			return true
		}
	}
	return false
}

func countWord(tokens []string, w string) int {
	n := 0
	for _, t := range tokens {
		if strings.Trim(t, ".,;:?!") == w {
			n++
		}
	}
	return n
}
