package fusion

import (
	"strings"
	"unicode"
)

// Lexical-heavy weights applied when the query is dominated by exact-match
// signals (quoted phrases, identifiers, code tokens). BM25 handles those far
// better than embedding similarity.
const (
	lexicalHeavyLex = 0.7
	lexicalHeavyVec = 0.3
)

// adaptWeights picks the RRF weights for a query. The heuristic is
// deliberately rule-based so the hot path stays deterministic.
func adaptWeights(text string, defLex, defVec float64) (wLex, wVec float64) {
	if isExactMatchQuery(text) {
		return lexicalHeavyLex, lexicalHeavyVec
	}
	return defLex, defVec
}

// isExactMatchQuery reports whether the query is dominated by quoted phrases,
// exact identifiers, or code tokens.
func isExactMatchQuery(text string) bool {
	if strings.Count(text, `"`) >= 2 {
		return true
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}

	exact := 0
	for _, tok := range fields {
		if isCodeToken(tok) {
			exact++
		}
	}
	// Dominated: at least half the tokens look like identifiers.
	return exact*2 >= len(fields)
}

func isCodeToken(tok string) bool {
	if strings.ContainsAny(tok, "_/\\()[]{}<>=") {
		return true
	}
	// ERR-1234, ABC123 style identifiers
	hasDigit := strings.ContainsFunc(tok, unicode.IsDigit)
	hasLetter := strings.ContainsFunc(tok, unicode.IsLetter)
	if hasDigit && hasLetter {
		return true
	}
	// camelCase / PascalCase with an interior upper-case rune
	for i, r := range tok {
		if i > 0 && unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
