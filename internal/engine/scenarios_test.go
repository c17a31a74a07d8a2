package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/corvusengine/vela/internal/board"
)

func mustParseFEN(t *testing.T, fen string) *board.Position {
	t.Helper()
	pos, err := board.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q) failed: %v", fen, err)
	}
	return pos
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(WithHashSizeMB(32))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return eng
}

// TestScenarioOpeningBalance covers concrete scenario #1: the starting
// position at depth 6 should be close to balanced.
func TestScenarioOpeningBalance(t *testing.T) {
	eng := newTestEngine(t)
	pos := board.NewPosition()

	result := eng.Search(context.Background(), pos, 6, 2*time.Second)
	if result.Move == board.NoMove {
		t.Fatal("expected a legal move from the starting position")
	}
	if result.Score < -50 || result.Score > 50 {
		t.Errorf("expected a near-balanced score at depth 6, got %d cp", result.Score)
	}
}

// TestScenarioKPKWinning covers concrete scenario #2: a won king-and-pawn
// endgame should score clearly positive for White and not stalemate Black.
func TestScenarioKPKWinning(t *testing.T) {
	eng := newTestEngine(t)
	pos := mustParseFEN(t, "8/8/8/3k4/3P4/8/3K4/8 w - - 0 1")

	result := eng.Search(context.Background(), pos, 8, 3*time.Second)
	if result.Move == board.NoMove {
		t.Fatal("expected a legal move in the KPK position")
	}
	if result.Score <= 0 {
		t.Errorf("expected a winning score for White in KPK, got %d", result.Score)
	}

	undo := pos.MakeMove(result.Move)
	defer pos.UnmakeMove(result.Move, undo)
	if pos.IsStalemate() {
		t.Error("best move should not stalemate Black in a winning KPK position")
	}
}

// TestScenarioDoesNotHangRook covers concrete scenario #3: from
// `8/1R6/8/PR6/3k4/P7/1KP2p2/6r1 w - - 4 43` at depth 6, the engine must not
// choose a move that leaves a White rook hanging to Black's …f1=Q reply.
func TestScenarioDoesNotHangRook(t *testing.T) {
	eng := newTestEngine(t)
	pos := mustParseFEN(t, "8/1R6/8/PR6/3k4/P7/1KP2p2/6r1 w - - 4 43")

	result := eng.Search(context.Background(), pos, 6, 3*time.Second)
	if result.Move == board.NoMove {
		t.Fatal("expected a legal move")
	}

	undo := pos.MakeMove(result.Move)
	defer pos.UnmakeMove(result.Move, undo)

	promo := findMove(pos, board.F2, board.F1)
	if promo == board.NoMove {
		// Black's f1=Q threat is no longer available after White's reply
		// (e.g. the pawn was captured or blocked); nothing left to hang.
		return
	}

	promoUndo := pos.MakeMove(promo)
	defer pos.UnmakeMove(promo, promoUndo)

	rooks := pos.Pieces[board.White][board.Rook]
	for bb := rooks; bb != 0; {
		sq := bb.PopLSB()
		attacked := pos.AttackersByColor(sq, board.Black, pos.AllOccupied) != 0
		defended := pos.AttackersByColor(sq, board.White, pos.AllOccupied) != 0
		if attacked && !defended {
			t.Errorf("rook on %s is hanging to Black after %s then %s",
				sq, result.Move.String(), promo.String())
		}
	}
}

// findMove returns the legal move from `from` to `to` in pos, or NoMove if
// none exists (used to look up a specific threatened reply by squares
// rather than by promotion piece, castling flag, etc).
func findMove(pos *board.Position, from, to board.Square) board.Move {
	moves := pos.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() == from && m.To() == to {
			return m
		}
	}
	return board.NoMove
}

// TestScenarioFindsPromotion covers concrete scenario #4: a forced
// promotion should be found from a sharp middlegame position.
func TestScenarioFindsPromotion(t *testing.T) {
	eng := newTestEngine(t)
	pos := mustParseFEN(t, "2R1N2N/P4K1P/qr5p/1bP1pPRP/1P1pPp1B/ppb2n2/2rppnPQ/2k4B w - - 0 1")

	result := eng.Search(context.Background(), pos, 5, 3*time.Second)
	if result.Move == board.NoMove {
		t.Fatal("expected a legal move")
	}
	if result.Move.From() != board.A7 || result.Move.To() != board.A8 || !result.Move.IsPromotion() {
		t.Errorf("expected an a7a8 promotion, got %s", result.Move.String())
	}
}

// TestScenarioForcedDrawCapture covers concrete scenario #5: the engine
// should find the perpetual-check/forced-draw capture on g6.
func TestScenarioForcedDrawCapture(t *testing.T) {
	eng := newTestEngine(t)
	pos := mustParseFEN(t, "1r3rk1/5p2/5Qpp/2q5/n1b5/P7/1P6/K5R1 w - - 3 3")

	result := eng.Search(context.Background(), pos, 5, 3*time.Second)
	if result.Move == board.NoMove {
		t.Fatal("expected a legal move")
	}
	if result.Move.To() != board.G6 {
		t.Errorf("expected the forced-draw capture on g6, got %s", result.Move.String())
	}
}

// TestScenarioAvoidsMateInOne covers concrete scenario #6: Black to move
// must not walk into a mate-in-1.
func TestScenarioAvoidsMateInOne(t *testing.T) {
	eng := newTestEngine(t)
	pos := mustParseFEN(t, "1k1rr3/pp3p1Q/5q2/P7/4n1B1/1P1p3P/3P1PP1/1R3K1R b - - 2 25")

	result := eng.Search(context.Background(), pos, 5, 3*time.Second)
	if result.Move == board.NoMove {
		t.Fatal("expected a legal move")
	}
	if result.Score <= -MateScore+10 {
		t.Errorf("expected score > -MATE+10, got %d", result.Score)
	}
}

// TestPropertyFindBestMoveAlwaysLegal runs find_best_move over a batch of
// randomly-reached positions and random shallow depths, and checks it
// always returns a move that is legal in that position. A representative
// subset of the property stands in for exhaustive randomized coverage.
func TestPropertyFindBestMoveAlwaysLegal(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	eng := newTestEngine(t)

	for i := 0; i < 50; i++ {
		pos := board.NewPosition()
		plies := rng.Intn(12)
		reachable := true
		for p := 0; p < plies; p++ {
			moves := pos.GenerateLegalMoves()
			if moves.Len() == 0 {
				reachable = false
				break
			}
			m := moves.Get(rng.Intn(moves.Len()))
			pos.MakeMove(m)
		}
		if !reachable {
			continue
		}

		legal := pos.GenerateLegalMoves()
		if legal.Len() == 0 {
			continue // checkmate or stalemate reached; nothing to search
		}

		depth := 1 + rng.Intn(4)
		eng.NewGame()
		move := eng.FindBestMove(context.Background(), pos, depth, 500*time.Millisecond)

		found := false
		for j := 0; j < legal.Len(); j++ {
			if legal.Get(j) == move {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("iteration %d: FindBestMove returned an illegal move %s", i, move.String())
		}
	}
}

// TestPropertyDeterministicUnderFixedBudget checks that running the same
// search twice from a fresh engine and a fixed depth budget produces the
// same move and score.
func TestPropertyDeterministicUnderFixedBudget(t *testing.T) {
	fens := []string{
		board.StartFEN,
		"r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3",
		"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
	}

	for _, fen := range fens {
		pos1 := mustParseFEN(t, fen)
		pos2 := mustParseFEN(t, fen)

		eng1 := newTestEngine(t)
		eng2 := newTestEngine(t)

		r1 := eng1.Search(context.Background(), pos1, 4, 0)
		r2 := eng2.Search(context.Background(), pos2, 4, 0)

		if r1.Move != r2.Move || r1.Score != r2.Score {
			t.Errorf("FEN %q: non-deterministic result: (%s, %d) vs (%s, %d)",
				fen, r1.Move.String(), r1.Score, r2.Move.String(), r2.Score)
		}
	}
}

// TestMaxDepthOneReturnsLegalMove covers the max_depth = 1 boundary
// behavior: search must still return a legal move with no quiescence-only
// edge case.
func TestMaxDepthOneReturnsLegalMove(t *testing.T) {
	eng := newTestEngine(t)
	pos := board.NewPosition()

	move := eng.FindBestMove(context.Background(), pos, 1, 500*time.Millisecond)
	if move == board.NoMove {
		t.Fatal("expected a legal move at max_depth = 1")
	}

	legal := pos.GenerateLegalMoves()
	found := false
	for i := 0; i < legal.Len(); i++ {
		if legal.Get(i) == move {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("move %s returned at depth 1 is not legal", move.String())
	}
}
