package fusion

import (
	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
)

// DefaultRRFK is the Reciprocal Rank Fusion constant (standard value from
// Cormack et al. 2009).
const DefaultRRFK = 60

// rrf returns the reciprocal-rank contribution for a 1-indexed rank.
// An absent rank contributes via candidate.AbsentRank so a document found
// by only one backend is never boosted above one found strongly by both.
func rrf(k, rank int) float64 {
	if rank <= 0 {
		rank = candidate.AbsentRank
	}
	return 1.0 / float64(k+rank)
}

// fuseRRF merges the two backend rankings into weighted-RRF candidates.
// Both input lists are in backend rank order (rank = index + 1).
func fuseRRF(lexical, vector []candidate.Hit, k int, wLex, wVec float64) []candidate.Candidate {
	merged := make(map[string]*candidate.Candidate, len(lexical)+len(vector))

	for i, h := range lexical {
		merged[h.DocID] = &candidate.Candidate{
			DocID:        h.DocID,
			Content:      h.Content,
			LexicalRank:  i + 1,
			LexicalScore: h.Score,
		}
	}

	for i, h := range vector {
		c, ok := merged[h.DocID]
		if !ok {
			c = &candidate.Candidate{DocID: h.DocID}
			merged[h.DocID] = c
		}
		c.VectorRank = i + 1
		c.VectorScore = h.Score
		if c.Content == "" {
			c.Content = h.Content
		}
	}

	results := make([]candidate.Candidate, 0, len(merged))
	for _, c := range merged {
		c.FusedScore = wLex*rrf(k, c.LexicalRank) + wVec*rrf(k, c.VectorRank)
		results = append(results, *c)
	}

	candidate.Sort(results)
	return results
}
