package engine

import (
	"testing"

	"github.com/corvusengine/vela/internal/board"
)

// recomposeEvaluate rebuilds the tapered score from the same per-component
// terms evaluate() sums internally, so a mismatch here means evaluate()
// dropped or double-counted a term.
func recomposeEvaluate(pos *board.Position, pawnTable *PawnTable) int {
	var mgScore, egScore int
	var phase int

	for c := board.White; c <= board.Black; c++ {
		sign := 1
		if c == board.Black {
			sign = -1
		}
		for pt := board.Pawn; pt <= board.King; pt++ {
			bb := pos.Pieces[c][pt]
			for bb != 0 {
				sq := bb.PopLSB()

				if pt == board.King {
					pstSq := sq
					if c == board.Black {
						pstSq = sq.Mirror()
					}
					mgScore += sign * kingMidgamePST[pstSq]
					egScore += sign * kingEndgamePST[pstSq]
					continue
				}

				mgScore += sign * mgPieceValues[pt]
				egScore += sign * egPieceValues[pt]

				switch pt {
				case board.Rook:
					pstSq := sq
					if c == board.Black {
						pstSq = sq.Mirror()
					}
					mgScore += sign * rookPST[pstSq]
				case board.Queen:
					pstSq := sq
					if c == board.Black {
						pstSq = sq.Mirror()
					}
					mgScore += sign * queenPST[pstSq]
				case board.Pawn:
					pstSq := sq
					if c == board.Black {
						pstSq = sq.Mirror()
					}
					mgScore += sign * pawnPST[pstSq]
					egScore += sign * pawnPST[pstSq]
				}

				switch pt {
				case board.Knight, board.Bishop:
					phase += 1
				case board.Rook:
					phase += 2
				case board.Queen:
					phase += 4
				}
			}
		}
	}

	components := []struct {
		mg, eg int
	}{}
	add := func(mg, eg int) { components = append(components, struct{ mg, eg int }{mg, eg}) }

	cMg := evaluateCentralization(pos)
	add(cMg, 0)
	psMg, psEg := evaluatePawnStructureWithCache(pos, pawnTable)
	add(psMg, psEg)
	ksMg, ksEg := evaluateKingShield(pos)
	add(ksMg, ksEg)
	mobMg, mobEg := evaluateMobility(pos)
	add(mobMg, mobEg)
	bpMg, bpEg := evaluateBishopPair(pos)
	add(bpMg, bpEg)
	rfMg, rfEg := evaluateRooksOnFiles(pos)
	add(rfMg, rfEg)

	for _, comp := range components {
		mgScore += comp.mg
		egScore += comp.eg
	}

	const maxPhase = 24
	if phase > maxPhase {
		phase = maxPhase
	}

	score := (mgScore*phase + egScore*(maxPhase-phase)) / maxPhase

	if pos.SideToMove == board.White {
		score += tempoBonus
	} else {
		score -= tempoBonus
	}
	if pos.SideToMove == board.Black {
		score = -score
	}

	if score > evalClampBound {
		score = evalClampBound
	} else if score < -evalClampBound {
		score = -evalClampBound
	}

	return score
}

// TestEvalComponentSumEqualsTotal checks that summing the classical
// evaluator's per-component terms (material, centralization, pawn
// structure, king shield, mobility, bishop pair, rook files) and applying
// the same tapering reproduces evaluate()'s total exactly, across a
// handful of representative positions.
func TestEvalComponentSumEqualsTotal(t *testing.T) {
	fens := []string{
		board.StartFEN,
		"r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3",
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
		"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
		"4k3/8/8/8/8/8/4P3/4K3 w - - 0 1",
	}

	for _, fen := range fens {
		pos, err := board.ParseFEN(fen)
		if err != nil {
			t.Fatalf("ParseFEN(%q) failed: %v", fen, err)
		}

		got := Evaluate(pos)
		want := recomposeEvaluate(pos, nil)
		if got != want {
			t.Errorf("FEN %q: Evaluate() = %d, recomposed components sum to %d", fen, got, want)
		}
	}
}

func TestEvalPawnTableCacheConsistency(t *testing.T) {
	pt := NewPawnTable(1)
	pos := board.NewPosition()

	first := EvaluateWithPawnTable(pos, pt)
	second := EvaluateWithPawnTable(pos, pt)
	if first != second {
		t.Errorf("cached evaluation changed across calls: %d then %d", first, second)
	}
	if first != Evaluate(pos) {
		t.Errorf("pawn-table-cached eval (%d) diverged from uncached eval (%d)", first, Evaluate(pos))
	}
}
