package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// keyEvaluatorSelection is the fixed key under which the last-successful
// evaluator choice (classical vs NNUE) is persisted across restarts.
const keyEvaluatorSelection = "evaluator-selection"

// EvaluatorKind names which evaluator a search used or should prefer.
type EvaluatorKind string

const (
	EvaluatorClassical EvaluatorKind = "classical"
	EvaluatorNNUE      EvaluatorKind = "nnue"
)

// TraceRow is one row of a per-depth search trace: the window a depth was
// searched under, the node count it spent, and the line it settled on.
type TraceRow struct {
	Depth     int       `json:"depth"`
	Alpha     int       `json:"alpha"`
	Beta      int       `json:"beta"`
	Nodes     uint64    `json:"nodes"`
	PV        []string  `json:"pv"`
	BestMove  string    `json:"best_move"`
	Score     int       `json:"score"`
	Evaluator string    `json:"evaluator"`
	StoredAt  time.Time `json:"stored_at"`
}

// traceKey formats the row's storage key as position-zobrist:depth, matching
// the access pattern a trace viewer replays a search by (same position,
// walking depth 1..N).
func traceKey(zobrist uint64, depth int) []byte {
	return []byte(fmt.Sprintf("trace:%016x:%d", zobrist, depth))
}

// Store wraps BadgerDB for persistent storage of search traces and engine
// configuration that should survive process restarts.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) the badger database under the
// platform data directory.
func Open() (*Store, error) {
	dbDir, err := GetDatabaseDir()
	if err != nil {
		return nil, err
	}
	return OpenAt(dbDir)
}

// OpenAt opens the badger database at an explicit directory, bypassing the
// platform data directory. Callers that want an isolated store (tests, the
// benchmark driver with a scratch directory) use this directly.
func OpenAt(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutTrace stores one per-depth trace row, keyed by the position's zobrist
// hash and the depth it was searched at.
func (s *Store) PutTrace(zobrist uint64, row TraceRow) error {
	row.StoredAt = time.Now()

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal trace row: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(traceKey(zobrist, row.Depth), data)
	})
}

// GetTrace loads the trace row stored for a position at a given depth. The
// bool return is false if no row has been stored for that key yet.
func (s *Store) GetTrace(zobrist uint64, depth int) (TraceRow, bool, error) {
	var row TraceRow
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(zobrist, depth))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
	})

	return row, found, err
}

// TraceForPosition loads every stored row for a position, depth 1 through
// maxDepth, skipping depths that were never recorded.
func (s *Store) TraceForPosition(zobrist uint64, maxDepth int) ([]TraceRow, error) {
	rows := make([]TraceRow, 0, maxDepth)
	for d := 1; d <= maxDepth; d++ {
		row, found, err := s.GetTrace(zobrist, d)
		if err != nil {
			return nil, fmt.Errorf("load trace depth %d: %w", d, err)
		}
		if found {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// PutEvaluatorSelection persists which evaluator last completed a search
// successfully, so a future process start can prefer it without re-probing.
func (s *Store) PutEvaluatorSelection(kind EvaluatorKind) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyEvaluatorSelection), []byte(kind))
	})
}

// GetEvaluatorSelection loads the persisted evaluator selection. The bool
// return is false if nothing has ever been recorded.
func (s *Store) GetEvaluatorSelection() (EvaluatorKind, bool, error) {
	var kind EvaluatorKind
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyEvaluatorSelection))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			kind = EvaluatorKind(val)
			return nil
		})
	})

	return kind, found, err
}
