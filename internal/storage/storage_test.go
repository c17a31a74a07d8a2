package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	store, err := OpenAt(dir)
	if err != nil {
		t.Fatalf("OpenAt failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTraceRoundTrip(t *testing.T) {
	store := openTestStore(t)

	const zobrist = uint64(0x1234567890abcdef)

	row := TraceRow{
		Depth:     6,
		Alpha:     -32000,
		Beta:      32000,
		Nodes:     123456,
		PV:        []string{"e2e4", "e7e5", "g1f3"},
		BestMove:  "e2e4",
		Score:     34,
		Evaluator: string(EvaluatorNNUE),
	}

	if err := store.PutTrace(zobrist, row); err != nil {
		t.Fatalf("PutTrace failed: %v", err)
	}

	got, found, err := store.GetTrace(zobrist, 6)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if !found {
		t.Fatalf("expected trace row to be found")
	}
	if got.Depth != row.Depth || got.Alpha != row.Alpha || got.Beta != row.Beta ||
		got.Nodes != row.Nodes || got.BestMove != row.BestMove || got.Score != row.Score ||
		got.Evaluator != row.Evaluator {
		t.Errorf("round-tripped row mismatch: got %+v, want %+v", got, row)
	}
	if len(got.PV) != len(row.PV) {
		t.Fatalf("PV length mismatch: got %d, want %d", len(got.PV), len(row.PV))
	}
	for i := range row.PV {
		if got.PV[i] != row.PV[i] {
			t.Errorf("PV[%d] = %q, want %q", i, got.PV[i], row.PV[i])
		}
	}
}

func TestTraceMissingKey(t *testing.T) {
	store := openTestStore(t)

	_, found, err := store.GetTrace(0xdeadbeef, 3)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if found {
		t.Errorf("expected no trace row for an unstored key")
	}
}

func TestTraceForPosition(t *testing.T) {
	store := openTestStore(t)
	const zobrist = uint64(0xaabbccdd)

	for d := 1; d <= 5; d++ {
		if d == 3 {
			continue // leave depth 3 unstored to exercise the skip path
		}
		if err := store.PutTrace(zobrist, TraceRow{Depth: d, Score: d * 10}); err != nil {
			t.Fatalf("PutTrace depth %d failed: %v", d, err)
		}
	}

	rows, err := store.TraceForPosition(zobrist, 5)
	if err != nil {
		t.Fatalf("TraceForPosition failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows (depth 3 skipped), got %d", len(rows))
	}
	for _, r := range rows {
		if r.Depth == 3 {
			t.Errorf("unexpected row for unstored depth 3")
		}
	}
}

func TestEvaluatorSelectionRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if _, found, err := store.GetEvaluatorSelection(); err != nil {
		t.Fatalf("GetEvaluatorSelection failed: %v", err)
	} else if found {
		t.Errorf("expected no evaluator selection before any Put")
	}

	if err := store.PutEvaluatorSelection(EvaluatorNNUE); err != nil {
		t.Fatalf("PutEvaluatorSelection failed: %v", err)
	}

	kind, found, err := store.GetEvaluatorSelection()
	if err != nil {
		t.Fatalf("GetEvaluatorSelection failed: %v", err)
	}
	if !found {
		t.Fatalf("expected evaluator selection to be found after Put")
	}
	if kind != EvaluatorNNUE {
		t.Errorf("GetEvaluatorSelection = %q, want %q", kind, EvaluatorNNUE)
	}

	if err := store.PutEvaluatorSelection(EvaluatorClassical); err != nil {
		t.Fatalf("PutEvaluatorSelection failed: %v", err)
	}
	if kind, _, err := store.GetEvaluatorSelection(); err != nil {
		t.Fatalf("GetEvaluatorSelection failed: %v", err)
	} else if kind != EvaluatorClassical {
		t.Errorf("GetEvaluatorSelection after overwrite = %q, want %q", kind, EvaluatorClassical)
	}
}

func TestDataPaths(t *testing.T) {
	dataDir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir failed: %v", err)
	}
	if dataDir == "" {
		t.Error("GetDataDir returned empty path")
	}

	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		t.Errorf("Data directory was not created: %s", dataDir)
	}

	t.Logf("Data directory: %s", dataDir)
}
