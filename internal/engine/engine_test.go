package engine

import (
	"context"
	"testing"
	"time"

	"github.com/corvusengine/vela/internal/board"
)

func TestSearchBasic(t *testing.T) {
	pos := board.NewPosition()
	eng, err := NewEngine(WithHashSizeMB(16))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	move := eng.FindBestMove(context.Background(), pos, 4, 500*time.Millisecond)
	if move == board.NoMove {
		t.Error("FindBestMove returned NoMove for starting position")
	}
	t.Logf("Best move: %s", move.String())
}

func TestSearchEvalSideToMoveView(t *testing.T) {
	eng, err := NewEngine(WithHashSizeMB(16))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	// White completely up a queen should score clearly positive for White...
	white, _ := board.ParseFEN("4k3/8/8/8/8/8/8/4KQ2 w - - 0 1")
	whiteScore := eng.SearchEval(context.Background(), white, 4, 500*time.Millisecond)
	if whiteScore <= 0 {
		t.Errorf("expected a positive side-to-move score for White up a queen, got %v", whiteScore)
	}

	// ...and clearly positive for Black when Black holds the same material
	// edge, since search_eval is always from the side-to-move's perspective.
	black, _ := board.ParseFEN("4kq2/8/8/8/8/8/8/4K3 b - - 0 1")
	blackScore := eng.SearchEval(context.Background(), black, 4, 500*time.Millisecond)
	if blackScore <= 0 {
		t.Errorf("expected a positive side-to-move score for Black up a queen, got %v", blackScore)
	}
}

func TestSearchResultDiagnostics(t *testing.T) {
	eng, err := NewEngine(WithHashSizeMB(16))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	pos := board.NewPosition()
	result := eng.Search(context.Background(), pos, 5, 1*time.Second)

	if result.Move == board.NoMove {
		t.Fatal("expected a move for the starting position")
	}
	if result.Nodes == 0 {
		t.Error("expected a nonzero node count")
	}
	if len(result.PV) == 0 {
		t.Error("expected a nonempty principal variation")
	}
	if result.Evaluator != eng.Evaluator() {
		t.Errorf("SearchResult.Evaluator = %v, want %v", result.Evaluator, eng.Evaluator())
	}
}

func TestFindBestMoveRespectsDeadline(t *testing.T) {
	eng, err := NewEngine(WithHashSizeMB(16))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	pos := board.NewPosition()

	start := time.Now()
	move := eng.FindBestMove(context.Background(), pos, MaxPly, 200*time.Millisecond)
	elapsed := time.Since(start)

	if move == board.NoMove {
		t.Error("FindBestMove returned NoMove within the deadline")
	}
	if elapsed > 2*time.Second {
		t.Errorf("search ran long past its 200ms deadline: %v", elapsed)
	}
}

func TestFindBestMoveAcrossPositions(t *testing.T) {
	eng, err := NewEngine(WithHashSizeMB(16))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	positions := []string{
		board.StartFEN,
		"r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3", // Italian Game
		"8/8/8/4k3/8/4K3/4P3/8 w - - 0 1",                                  // KP endgame
	}

	for i, fen := range positions {
		pos, err := board.ParseFEN(fen)
		if err != nil {
			t.Fatalf("Failed to parse position %d: %v", i, err)
		}

		eng.NewGame()
		move := eng.FindBestMove(context.Background(), pos, 5, 300*time.Millisecond)
		if move == board.NoMove {
			if !pos.InCheck() || pos.GenerateLegalMoves().Len() > 0 {
				t.Errorf("Position %d: FindBestMove returned NoMove", i)
			}
		} else {
			t.Logf("Position %d: best move = %s", i, move.String())
		}
	}
}

func TestEngineTraceMode(t *testing.T) {
	eng, err := NewEngine(WithHashSizeMB(16))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	eng.EnableTrace()

	pos := board.NewPosition()
	result := eng.Search(context.Background(), pos, 4, 1*time.Second)
	if result.Move == board.NoMove {
		t.Fatal("expected a move for the starting position")
	}

	trace := eng.LastTrace()
	if len(trace) == 0 {
		t.Fatal("expected at least one trace row with tracing enabled")
	}
	for i, row := range trace {
		if row.Depth != i+1 {
			t.Errorf("trace row %d has depth %d, want %d", i, row.Depth, i+1)
		}
	}
}

func TestPerft(t *testing.T) {
	eng, err := NewEngine(WithHashSizeMB(16))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	pos := board.NewPosition()

	// Well-known perft node counts from the starting position.
	cases := []struct {
		depth int
		want  uint64
	}{
		{1, 20},
		{2, 400},
		{3, 8902},
	}

	for _, c := range cases {
		got := eng.Perft(pos, c.depth)
		if got != c.want {
			t.Errorf("Perft(%d) = %d, want %d", c.depth, got, c.want)
		}
	}
}

func TestPawnHashTable(t *testing.T) {
	pt := NewPawnTable(1) // 1MB

	pos := board.NewPosition()

	// First probe should miss
	_, _, found := pt.Probe(pos.PawnKey)
	if found {
		t.Error("Expected cache miss on first probe")
	}

	// Store and retrieve
	pt.Store(pos.PawnKey, -15, -20)

	mg, eg, found := pt.Probe(pos.PawnKey)
	if !found {
		t.Error("Expected cache hit after store")
	}
	if mg != -15 || eg != -20 {
		t.Errorf("Wrong values: got mg=%d, eg=%d, want -15, -20", mg, eg)
	}

	// Verify PawnKey changes when pawns move
	oldKey := pos.PawnKey
	move := board.NewMove(board.E2, board.E4)
	undo := pos.MakeMove(move)
	if pos.PawnKey == oldKey {
		t.Error("PawnKey should change when pawn moves")
	}

	// Verify PawnKey is restored on unmake
	pos.UnmakeMove(move, undo)
	if pos.PawnKey != oldKey {
		t.Error("PawnKey should be restored on unmake")
	}

	t.Logf("PawnKey: %016x", pos.PawnKey)
}
