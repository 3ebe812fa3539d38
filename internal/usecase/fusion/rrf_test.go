package fusion

import (
	"math"
	"testing"

	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
)

func hits(ids ...string) []candidate.Hit {
	out := make([]candidate.Hit, len(ids))
	for i, id := range ids {
		out[i] = candidate.Hit{DocID: id, Content: "content of " + id, Score: float64(len(ids) - i)}
	}
	return out
}

func TestRRF_AbsentRankContribution(t *testing.T) {
	top := rrf(DefaultRRFK, 1)
	absent := rrf(DefaultRRFK, 0)

	if absent >= top {
		t.Fatalf("absent contribution %v must be below rank-1 contribution %v", absent, top)
	}
	if absent <= 0 {
		t.Fatalf("absent contribution must stay positive, got %v", absent)
	}
}

func TestFuseRRF_BothSourcesBeatSingleSource(t *testing.T) {
	// D3 appears in both rankings and tops vector; D1 and D2 each come from
	// a single backend. With default weights D3 must win, and D2's
	// vector-weighted contribution outranks D1's lexical one.
	lexical := hits("D1", "D3")
	vector := hits("D3", "D2")

	fused := fuseRRF(lexical, vector, DefaultRRFK, 0.4, 0.6)

	if len(fused) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(fused))
	}
	if fused[0].DocID != "D3" {
		t.Errorf("expected D3 ranked first, got %s", fused[0].DocID)
	}
	if fused[1].DocID != "D2" || fused[2].DocID != "D1" {
		t.Errorf("expected single-source order D2, D1, got %s, %s", fused[1].DocID, fused[2].DocID)
	}
}

func TestFuseRRF_ScoreFormula(t *testing.T) {
	lexical := hits("D1")
	vector := hits("D1")

	fused := fuseRRF(lexical, vector, 60, 0.4, 0.6)

	want := 0.4/61.0 + 0.6/61.0
	if math.Abs(fused[0].FusedScore-want) > 1e-12 {
		t.Errorf("expected fused score %v, got %v", want, fused[0].FusedScore)
	}
}

func TestFuseRRF_SingleSourceCarriesAbsentRank(t *testing.T) {
	fused := fuseRRF(hits("D1"), nil, 60, 0.4, 0.6)

	if len(fused) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(fused))
	}
	c := fused[0]
	if !c.FoundByLexical() || c.FoundByVector() {
		t.Errorf("expected lexical-only candidate, got lex=%v vec=%v", c.FoundByLexical(), c.FoundByVector())
	}
	want := 0.4/61.0 + 0.6/float64(60+candidate.AbsentRank)
	if math.Abs(c.FusedScore-want) > 1e-12 {
		t.Errorf("expected fused score %v, got %v", want, c.FusedScore)
	}
}

func TestFuseRRF_RankMonotonicity(t *testing.T) {
	lexical := hits("A", "B", "C", "D")
	vector := hits("A", "B", "C", "D")

	fused := fuseRRF(lexical, vector, 60, 0.4, 0.6)

	for i := 1; i < len(fused); i++ {
		if fused[i-1].FusedScore < fused[i].FusedScore {
			t.Fatalf("fused scores not descending at %d: %v < %v", i, fused[i-1].FusedScore, fused[i].FusedScore)
		}
	}
	if fused[0].DocID != "A" || fused[3].DocID != "D" {
		t.Errorf("identical rankings must be preserved, got %v first %v last", fused[0].DocID, fused[3].DocID)
	}
}

func TestFuseRRF_TieBreakByDocID(t *testing.T) {
	// X and Y get mirrored ranks with equal weights: exact score tie.
	lexical := hits("X", "Y")
	vector := hits("Y", "X")

	fused := fuseRRF(lexical, vector, 60, 0.5, 0.5)

	if fused[0].FusedScore != fused[1].FusedScore {
		t.Fatalf("expected a score tie, got %v and %v", fused[0].FusedScore, fused[1].FusedScore)
	}
	if fused[0].DocID != "X" {
		t.Errorf("tie must break by doc id, expected X first, got %s", fused[0].DocID)
	}
}

func TestFuseRRF_ContentMergedFromEitherSide(t *testing.T) {
	vector := []candidate.Hit{{DocID: "D1", Content: "vector content", Score: 0.9}}
	lexical := []candidate.Hit{{DocID: "D1", Content: "", Score: 2}}

	fused := fuseRRF(lexical, vector, 60, 0.5, 0.5)

	if fused[0].Content != "vector content" {
		t.Errorf("expected content filled from vector hit, got %q", fused[0].Content)
	}
}
