// Package candidate holds the per-document result shape flowing through
// fusion, reranking and the final response.
package candidate

import "sort"

// AbsentRank is the effective rank for the side of the fusion that did not
// surface a document. Large enough that a single-source document is never
// boosted above one found strongly by both sources, without the divide-by-zero
// a rank of 0 would invite.
const AbsentRank = 1_000_000

// Hit is one ranked document as returned by a single retrieval backend,
// before fusion. Order in the backend's result list defines its rank.
type Hit struct {
	DocID   string
	Content string
	Score   float64
}

// Candidate is one document surfaced by lexical search, vector search, or
// both. Ranks are 1-indexed; 0 means the document was absent from that
// ranking. At least one rank is always set.
type Candidate struct {
	DocID        string
	Content      string
	LexicalRank  int
	VectorRank   int
	LexicalScore float64
	VectorScore  float64
	FusedScore   float64
	RerankScore  float64
	Reranked     bool
}

// FoundByLexical reports whether lexical search surfaced the document.
func (c *Candidate) FoundByLexical() bool { return c.LexicalRank > 0 }

// FoundByVector reports whether vector search surfaced the document.
func (c *Candidate) FoundByVector() bool { return c.VectorRank > 0 }

// RankSum returns the combined rank with AbsentRank substituted for a
// missing side. Used as the first fused-score tie-break.
func (c *Candidate) RankSum() int {
	return effectiveRank(c.LexicalRank) + effectiveRank(c.VectorRank)
}

func effectiveRank(rank int) int {
	if rank <= 0 {
		return AbsentRank
	}
	return rank
}

// Less is the canonical candidate ordering: fused score descending, then
// rerank score descending when both sides carry one, then the smaller
// combined rank sum, then the lexicographically smaller document id.
// The last two rules exist for determinism on exact float ties.
func Less(a, b *Candidate) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	if a.Reranked && b.Reranked && a.RerankScore != b.RerankScore {
		return a.RerankScore > b.RerankScore
	}
	if a.RankSum() != b.RankSum() {
		return a.RankSum() < b.RankSum()
	}
	return a.DocID < b.DocID
}

// Sort orders candidates in place by Less.
func Sort(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		return Less(&cands[i], &cands[j])
	})
}
