package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corvusengine/vela/internal/board"
	"github.com/corvusengine/vela/internal/storage"
	"github.com/corvusengine/vela/sfnnue"
)

// Sentinel errors matching the engine's error taxonomy. ErrParameterFile is
// wrapped with fmt.Errorf and matched with errors.Is; ErrIllegalPosition and
// ErrInternalInvariant are declared but not returned by any function in this
// package. A search abort never surfaces as an error (it simply returns the
// best move found before the deadline).
var (
	ErrParameterFile     = errors.New("nnue parameter file")
	ErrIllegalPosition   = errors.New("illegal position")
	ErrInternalInvariant = errors.New("internal invariant violation")
)

const defaultHashSizeMB = 64

// EngineConfig holds the tunables applied when constructing an Engine.
// Zero-valued fields fall back to documented defaults applied in NewEngine;
// see the With* functional options below.
type EngineConfig struct {
	hashSizeMB int
	timeBudget time.Duration
	nnuePath   string
	traceStore *storage.Store
	logger     *slog.Logger
}

// Option configures an EngineConfig.
type Option func(*EngineConfig)

// WithHashSizeMB sets the transposition table size in megabytes.
func WithHashSizeMB(mb int) Option {
	return func(c *EngineConfig) { c.hashSizeMB = mb }
}

// WithTimeBudget sets the default per-search wall-clock budget used when a
// caller does not supply one explicitly. Zero means no default deadline.
func WithTimeBudget(d time.Duration) Option {
	return func(c *EngineConfig) { c.timeBudget = d }
}

// WithNNUE points the engine at a network parameter file to load at
// construction time. Load failure falls back to the classical evaluator
// and is logged as a warning rather than returned as an error, matching the
// documented NNUE-unavailable behavior.
func WithNNUE(path string) Option {
	return func(c *EngineConfig) { c.nnuePath = path }
}

// WithTraceStore attaches a badger-backed store used to persist per-depth
// search traces and the evaluator-selection record. Without this option,
// trace mode and evaluator persistence are no-ops.
func WithTraceStore(store *storage.Store) Option {
	return func(c *EngineConfig) { c.traceStore = store }
}

// WithLogger overrides the default slog.Logger (slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *EngineConfig) { c.logger = l }
}

// SearchResult reports the outcome of a single find_best_move/search_eval
// call, including the per-search diagnostic counters a trace consumer wants.
type SearchResult struct {
	Move        board.Move
	Score       int // centipawns, side-to-move view
	Depth       int
	PV          []board.Move
	Nodes       uint64
	BetaCutoffs uint64
	TTHits      uint64
	Evaluator   storage.EvaluatorKind
	Elapsed     time.Duration
}

// TraceRow is one row of the optional per-depth trace table: the work a
// depth cost and the line it settled on. Alpha and Beta are always recorded
// as the full window (-Infinity, Infinity); the aspiration window a depth
// was actually searched under is not recorded.
type TraceRow struct {
	Depth    int
	Alpha    int
	Beta     int
	Nodes    uint64
	PV       []board.Move
	BestMove board.Move
	Score    int
}

// Engine owns a single Searcher plus the shared, long-lived state an
// Evaluator needs: the transposition table and pawn hash table are
// exclusively owned by that one searcher for the duration of a search
// (this repository never runs two searches concurrently against the same
// Engine), while parameters (NNUE weights, evaluator choice) are read-only
// after load and may be shared freely.
type Engine struct {
	tt        *TranspositionTable
	pawnTable *PawnTable
	searcher  *Searcher

	evaluator storage.EvaluatorKind
	nnue      *sfnnue.Evaluator

	rootPosHashes []uint64

	trace      bool
	traceStore *storage.Store
	traceRows  []TraceRow

	timeBudget time.Duration
	log        *slog.Logger
}

// NewEngine constructs an Engine. With no options, it allocates a
// defaultHashSizeMB transposition table, a 1MB pawn hash table, uses the
// classical evaluator, and has no default time budget (find_best_move and
// search_eval then require an explicit deadline or run to max_depth).
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := EngineConfig{
		hashSizeMB: defaultHashSizeMB,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hashSizeMB <= 0 {
		cfg.hashSizeMB = defaultHashSizeMB
	}

	tt := NewTranspositionTable(cfg.hashSizeMB)
	pawnTable := NewPawnTable(1)
	searcher := NewSearcher(tt, pawnTable)

	e := &Engine{
		tt:         tt,
		pawnTable:  pawnTable,
		searcher:   searcher,
		evaluator:  storage.EvaluatorClassical,
		traceStore: cfg.traceStore,
		timeBudget: cfg.timeBudget,
		log:        cfg.logger,
	}

	if cfg.nnuePath != "" {
		if err := e.LoadNNUE(cfg.nnuePath); err != nil {
			e.log.Warn("nnue load failed, falling back to classical evaluator",
				slog.String("path", cfg.nnuePath), slog.Any("error", err))
		}
	}

	if e.traceStore != nil {
		if kind, found, err := e.traceStore.GetEvaluatorSelection(); err == nil && found {
			e.log.Info("restored evaluator selection from trace store", slog.String("evaluator", string(kind)))
		}
	}

	return e, nil
}

// LoadNNUE loads a network parameter file and switches the engine to NNUE
// evaluation on success. On failure it wraps the error with
// ErrParameterFile and leaves the classical evaluator active.
func (e *Engine) LoadNNUE(path string) error {
	ev, err := sfnnue.NewEvaluator(path)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", path, ErrParameterFile, err)
	}
	e.nnue = ev
	e.evaluator = storage.EvaluatorNNUE
	e.searcher.SetNNUE(ev)
	if e.traceStore != nil {
		if perr := e.traceStore.PutEvaluatorSelection(storage.EvaluatorNNUE); perr != nil {
			e.log.Warn("failed to persist evaluator selection", slog.Any("error", perr))
		}
	}
	return nil
}

// UseClassical switches the engine back to the classical evaluator.
func (e *Engine) UseClassical() {
	e.evaluator = storage.EvaluatorClassical
	e.searcher.SetNNUE(nil)
	if e.traceStore != nil {
		if err := e.traceStore.PutEvaluatorSelection(storage.EvaluatorClassical); err != nil {
			e.log.Warn("failed to persist evaluator selection", slog.Any("error", err))
		}
	}
}

// Evaluator reports which evaluator is currently active.
func (e *Engine) Evaluator() storage.EvaluatorKind {
	return e.evaluator
}

// SetPositionHistory supplies the game's position-hash history, used for
// repetition detection across the root.
func (e *Engine) SetPositionHistory(hashes []uint64) {
	e.rootPosHashes = append([]uint64(nil), hashes...)
	e.searcher.SetRootHistory(e.rootPosHashes)
}

// EnableTrace turns on per-depth trace row collection for subsequent
// searches. When the engine was built with WithTraceStore, each row is
// also persisted keyed by position-zobrist:depth.
func (e *Engine) EnableTrace() { e.trace = true }

// DisableTrace turns off trace row collection.
func (e *Engine) DisableTrace() { e.trace = false }

// LastTrace returns the trace rows collected during the most recent search,
// or nil if tracing was not enabled.
func (e *Engine) LastTrace() []TraceRow { return e.traceRows }

// deadlineFor resolves the context a search should run under: an explicit
// caller timeBudget takes priority, then the engine's configured default,
// then no deadline at all.
func (e *Engine) deadlineFor(ctx context.Context, timeBudget time.Duration) (*Deadline, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	budget := timeBudget
	if budget <= 0 {
		budget = e.timeBudget
	}
	derived, cancel := WithTimeBudget(ctx, int(budget/time.Millisecond))
	return NewDeadline(derived), cancel
}

// FindBestMove searches position to maxDepth (or until timeBudget / the
// engine's default budget expires, whichever is tighter) and returns the
// best move found. maxDepth <= 0 means MaxPly.
func (e *Engine) FindBestMove(ctx context.Context, pos *board.Position, maxDepth int, timeBudget time.Duration) board.Move {
	result := e.search(ctx, pos, maxDepth, timeBudget)
	return result.Move
}

// SearchEval searches position to maxDepth (or until the deadline expires)
// and returns the resulting score as centipawns from the side-to-move's
// point of view, divided by 100 (i.e. in pawns).
func (e *Engine) SearchEval(ctx context.Context, pos *board.Position, maxDepth int, timeBudget time.Duration) float64 {
	result := e.search(ctx, pos, maxDepth, timeBudget)
	return float64(result.Score) / 100.0
}

// Search runs a full search and returns the SearchResult, including node
// and cutoff diagnostics. This is the entry point find_best_move and
// search_eval both delegate to.
func (e *Engine) Search(ctx context.Context, pos *board.Position, maxDepth int, timeBudget time.Duration) SearchResult {
	return e.search(ctx, pos, maxDepth, timeBudget)
}

func (e *Engine) search(ctx context.Context, pos *board.Position, maxDepth int, timeBudget time.Duration) SearchResult {
	deadline, cancel := e.deadlineFor(ctx, timeBudget)
	defer cancel()

	if maxDepth <= 0 {
		maxDepth = MaxPly
	}

	e.traceRows = nil
	startTime := time.Now()

	var move board.Move
	var score int

	if e.trace {
		move, score = e.searchTraced(pos, maxDepth, deadline)
	} else {
		move, score = e.searcher.Search(pos, maxDepth, deadline)
	}

	return SearchResult{
		Move:        move,
		Score:       score,
		Depth:       maxDepth,
		PV:          e.searcher.GetPV(),
		Nodes:       e.searcher.Nodes(),
		BetaCutoffs: e.searcher.betaCutoffs,
		TTHits:      e.searcher.ttHits,
		Evaluator:   e.evaluator,
		Elapsed:     time.Since(startTime),
	}
}

// searchTraced runs the search exactly once via Searcher.SearchTraced,
// recording (and optionally persisting) a TraceRow from the depth callback
// the searcher invokes after each completed depth. It never restarts the
// search from depth 1: doing so per outer depth would redo every shallower
// depth from scratch and, because Searcher.Search calls tt.NewSearch() on
// every invocation, would also age out the prior depth's transposition-table
// entries before the next depth could benefit from them.
func (e *Engine) searchTraced(pos *board.Position, maxDepth int, deadline *Deadline) (board.Move, int) {
	onDepth := func(depth, score int, nodes uint64) {
		row := TraceRow{
			Depth:    depth,
			Alpha:    -Infinity,
			Beta:     Infinity,
			Nodes:    nodes,
			PV:       e.searcher.GetPV(),
			BestMove: e.searcher.rootBestMove,
			Score:    score,
		}
		e.traceRows = append(e.traceRows, row)

		if e.traceStore != nil {
			tr := storage.TraceRow{
				Depth:     row.Depth,
				Alpha:     row.Alpha,
				Beta:      row.Beta,
				Nodes:     row.Nodes,
				PV:        movesToUCI(row.PV),
				BestMove:  row.BestMove.String(),
				Score:     row.Score,
				Evaluator: string(e.evaluator),
			}
			if err := e.traceStore.PutTrace(pos.Hash, tr); err != nil {
				e.log.Warn("failed to persist trace row", slog.Int("depth", depth), slog.Any("error", err))
			}
		}
	}

	return e.searcher.SearchTraced(pos, maxDepth, deadline, onDepth)
}

func movesToUCI(moves []board.Move) []string {
	out := make([]string, len(moves))
	for i, m := range moves {
		out[i] = m.String()
	}
	return out
}

// NewGame resets per-game state (transposition table, pawn hash table, move
// ordering history) ahead of searching a new game; it does not touch the
// persisted evaluator selection.
func (e *Engine) NewGame() {
	e.tt.Clear()
	e.pawnTable.Clear()
	e.searcher.Reset()
}

// Stop requests the in-flight search abort at the next poll point.
func (e *Engine) Stop() { e.searcher.Stop() }

// Perft performs a perft test (used to validate move generation and, via
// the benchmark driver, as a reproducible node-count workload).
func (e *Engine) Perft(pos *board.Position, depth int) uint64 {
	return perft(pos, depth)
}

func perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	moves := pos.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}

	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		move := moves.Get(i)
		undo := pos.MakeMove(move)
		nodes += perft(pos, depth-1)
		pos.UnmakeMove(move, undo)
	}

	return nodes
}

// StaticEval returns the static evaluation of a position under the engine's
// active evaluator, without searching.
func (e *Engine) StaticEval(pos *board.Position) int {
	if e.evaluator == storage.EvaluatorNNUE && e.nnue != nil {
		s := e.searcher
		prevPos := s.pos
		s.pos = pos
		s.resetNNUEAccumulators()
		score := s.nnueEvaluate()
		s.pos = prevPos
		return score
	}
	return EvaluateWithPawnTable(pos, e.pawnTable)
}

// ScoreToString renders a centipawn score (side-to-move view) as either a
// mate announcement or a signed pawns.centipawns string.
func ScoreToString(score int) string {
	if score > MateScore-100 {
		mateIn := (MateScore - score + 1) / 2
		return fmt.Sprintf("Mate in %d", mateIn)
	}
	if score < -MateScore+100 {
		mateIn := (MateScore + score + 1) / 2
		return fmt.Sprintf("Mated in %d", mateIn)
	}
	sign := ""
	if score < 0 {
		sign = "-"
		score = -score
	}
	return fmt.Sprintf("%s%d.%02d", sign, score/100, score%100)
}
