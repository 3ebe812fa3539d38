package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/retrievex/internal/domain"
)

// Query parameter limits.
const (
	// MaxQueryLength is the maximum allowed query text length.
	MaxQueryLength = 4096
	MaxIDLength    = 128
	DefaultTopK    = 10
	MaxTopK        = 100
	MaxFilters     = 16

	// DefaultBudgetMs is the default end-to-end latency budget.
	DefaultBudgetMs = 150
	MaxBudgetMs     = 10_000
)

// Query is a validated, immutable retrieval request. It lives for the
// duration of one request; its embedding is computed once by the
// orchestrator and passed alongside.
type Query struct {
	tenantID          string
	userID            string
	text              string
	filters           map[string]string
	topK              int
	budgetMs          int
	precisionPriority bool
}

// New validates and normalizes retrieval parameters.
// Defaults: topK=10, budgetMs=150. All validation failures wrap
// domain.ErrInvalidQuery so they map to a client error before any
// backend is touched.
func New(
	tenantID, userID, text string,
	filters map[string]string,
	topK, budgetMs int,
	precisionPriority bool,
) (Query, error) {
	if err := validateID("tenant_id", tenantID); err != nil {
		return Query{}, err
	}
	if err := validateID("user_id", userID); err != nil {
		return Query{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Query{}, fmt.Errorf("%w: query_text is required", domain.ErrInvalidQuery)
	}
	if len(text) > MaxQueryLength {
		return Query{}, fmt.Errorf("%w: query_text too long (max %d chars)", domain.ErrInvalidQuery, MaxQueryLength)
	}
	if err := validateFilters(filters); err != nil {
		return Query{}, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if budgetMs <= 0 {
		budgetMs = DefaultBudgetMs
	}
	if budgetMs > MaxBudgetMs {
		budgetMs = MaxBudgetMs
	}

	cp := make(map[string]string, len(filters))
	for k, v := range filters {
		cp[k] = v
	}

	return Query{
		tenantID:          tenantID,
		userID:            userID,
		text:              text,
		filters:           cp,
		topK:              topK,
		budgetMs:          budgetMs,
		precisionPriority: precisionPriority,
	}, nil
}

// TenantID returns the tenant identifier.
func (q *Query) TenantID() string { return q.tenantID }

// UserID returns the user identifier.
func (q *Query) UserID() string { return q.userID }

// Text returns the raw query text.
func (q *Query) Text() string { return q.text }

// Filters returns the metadata filters.
func (q *Query) Filters() map[string]string { return q.filters }

// TopK returns the number of final results requested.
func (q *Query) TopK() int { return q.topK }

// BudgetMs returns the end-to-end latency budget in milliseconds.
func (q *Query) BudgetMs() int { return q.budgetMs }

// PrecisionPriority reports whether the caller declared a precision bias
// (administrative and compliance queries).
func (q *Query) PrecisionPriority() bool { return q.precisionPriority }

// NormalizedText returns the query text lowercased with whitespace
// collapsed, used for exact-match cache keys.
func (q *Query) NormalizedText() string {
	return strings.Join(strings.Fields(strings.ToLower(q.text)), " ")
}

// CanonicalFilters renders filters as a stable "k=v" list sorted by key,
// used for cache key derivation.
func (q *Query) CanonicalFilters() string {
	if len(q.filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q.filters))
	for k := range q.filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(q.filters[k])
	}
	return b.String()
}

func validateID(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidQuery, name)
	}
	if len(v) > MaxIDLength {
		return fmt.Errorf("%w: %s too long (max %d chars)", domain.ErrInvalidQuery, name, MaxIDLength)
	}
	for _, r := range v {
		if !isIdentRune(r) {
			return fmt.Errorf("%w: %s contains disallowed character %q", domain.ErrInvalidQuery, name, r)
		}
	}
	return nil
}

func validateFilters(filters map[string]string) error {
	if len(filters) > MaxFilters {
		return fmt.Errorf("%w: too many filters (max %d)", domain.ErrInvalidQuery, MaxFilters)
	}
	for k, v := range filters {
		if k == "" {
			return fmt.Errorf("%w: empty filter key", domain.ErrInvalidQuery)
		}
		for _, r := range k {
			if !isIdentRune(r) {
				return fmt.Errorf("%w: filter key %q contains disallowed character %q", domain.ErrInvalidQuery, k, r)
			}
		}
		if strings.ContainsAny(v, "{}()|@\n") {
			return fmt.Errorf("%w: filter value for %q contains disallowed characters", domain.ErrInvalidQuery, k)
		}
	}
	return nil
}

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.' || r == ':':
		return true
	}
	return false
}
