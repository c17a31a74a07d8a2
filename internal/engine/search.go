package engine

import (
	"github.com/corvusengine/vela/internal/board"
	"github.com/corvusengine/vela/sfnnue"
)

// Search constants
const (
	Infinity  = 30000
	MateScore = 29000
	MaxPly    = 64

	futilityBase   = 100 // ~1 pawn, scaled by depth in the futility margin
	nmpMinDepth    = 3
	lmrMinDepth    = 3
	lmrMinMoveIdx  = 6
	aspirationBase = 30 // cp half-width of the initial aspiration window
)

// PVTable stores the principal variation found at each ply.
type PVTable struct {
	length [MaxPly]int
	moves  [MaxPly][MaxPly]board.Move
}

// Searcher runs a single-threaded iterative-deepening alpha-beta search.
// All of its state (TT, move orderer, killer/history tables, NNUE
// accumulator stack) is owned exclusively for the duration of one root
// search; this repository never shares a TT across concurrently running
// searchers.
type Searcher struct {
	pos     *board.Position
	tt      *TranspositionTable
	orderer *MoveOrderer

	nodes    uint64
	deadline *Deadline
	stopped  bool

	pv PVTable

	evalStack [MaxPly]int

	posHistoryBuffer [MaxPly + 640]uint64
	posHistoryLen    int
	rootPosHashes    []uint64

	pawnTable *PawnTable

	useNNUE             bool
	nnueEval            *sfnnue.Evaluator
	dirtyState          DirtyState
	activeIndicesBuffer [64]int

	rootBestMove board.Move

	// Cumulative statistics for the last completed search, surfaced on
	// SearchResult for trace/diagnostic purposes.
	betaCutoffs uint64
	ttHits      uint64
}

// NewSearcher creates a searcher sharing the given transposition table and
// pawn hash table.
func NewSearcher(tt *TranspositionTable, pawnTable *PawnTable) *Searcher {
	return &Searcher{
		tt:        tt,
		orderer:   NewMoveOrderer(),
		pawnTable: pawnTable,
	}
}

// SetNNUE installs an NNUE evaluator; nil falls back to the classical
// evaluator.
func (s *Searcher) SetNNUE(ev *sfnnue.Evaluator) {
	s.nnueEval = ev
	s.useNNUE = ev != nil
}

// SetRootHistory supplies the game's position-hash history, used for
// repetition detection across the root.
func (s *Searcher) SetRootHistory(hashes []uint64) {
	s.rootPosHashes = hashes
}

// Stop requests the search abort at the next poll point.
func (s *Searcher) Stop() {
	s.stopped = true
}

// Reset clears per-search tables for a fresh game (not called between
// iterative-deepening depths within the same search).
func (s *Searcher) Reset() {
	s.orderer.Clear()
	s.resetNNUEAccumulators()
}

// Nodes returns the number of nodes visited in the last search.
func (s *Searcher) Nodes() uint64 {
	return s.nodes
}

// GetPV returns the principal variation from the last completed search.
func (s *Searcher) GetPV() []board.Move {
	pv := make([]board.Move, s.pv.length[0])
	copy(pv, s.pv.moves[0][:s.pv.length[0]])
	return pv
}

// initSearch prepares per-search state before a root call, given a dedicated
// position the caller will not mutate concurrently.
func (s *Searcher) initSearch(pos *board.Position, deadline *Deadline) {
	s.pos = pos
	s.deadline = deadline
	s.stopped = false
	s.nodes = 0
	s.betaCutoffs = 0
	s.ttHits = 0

	if s.nnueEval != nil {
		s.nnueEval.Reset()
	}

	rootLen := len(s.rootPosHashes)
	if rootLen > 640 {
		rootLen = 640
		copy(s.posHistoryBuffer[:rootLen], s.rootPosHashes[len(s.rootPosHashes)-640:])
	} else {
		copy(s.posHistoryBuffer[:rootLen], s.rootPosHashes)
	}
	s.posHistoryBuffer[rootLen] = s.pos.Hash
	s.posHistoryLen = rootLen + 1
}

// DepthCallback is invoked once after each iterative-deepening depth
// completes, with the cumulative node count for the search so far. It must
// not call back into the Searcher.
type DepthCallback func(depth, score int, nodes uint64)

// Search runs iterative deepening from depth 1 to maxDepth (or until the
// deadline expires), returning the best move and score found at the last
// fully completed depth.
//
// Per-depth aspiration windows start at ±aspirationBase cp around the prior
// score and widen geometrically (double plus a small constant) on fail-high
// or fail-low, falling back to an infinite window after four widenings.
func (s *Searcher) Search(pos *board.Position, maxDepth int, deadline *Deadline) (board.Move, int) {
	return s.search(pos, maxDepth, deadline, nil)
}

// SearchTraced runs the exact same iterative-deepening loop as Search,
// calling initSearch/tt.NewSearch() exactly once for the whole call, and
// invokes cb after each depth completes so a caller can record a trace row
// without restarting the search from depth 1 on every call.
func (s *Searcher) SearchTraced(pos *board.Position, maxDepth int, deadline *Deadline, cb DepthCallback) (board.Move, int) {
	return s.search(pos, maxDepth, deadline, cb)
}

func (s *Searcher) search(pos *board.Position, maxDepth int, deadline *Deadline, cb DepthCallback) (board.Move, int) {
	s.initSearch(pos, deadline)
	s.tt.NewSearch()

	var bestMove board.Move
	score := 0

	for depth := 1; depth <= maxDepth; depth++ {
		if s.timeUp() {
			break
		}

		var depthScore int
		if depth < 3 {
			depthScore = s.negamax(depth, 0, -Infinity, Infinity, board.NoMove)
		} else {
			alpha := score - aspirationBase
			beta := score + aspirationBase
			window := aspirationBase

			for attempt := 0; ; attempt++ {
				depthScore = s.negamax(depth, 0, alpha, beta, board.NoMove)
				if s.timeUp() {
					break
				}
				if depthScore <= alpha {
					if attempt >= 4 {
						alpha = -Infinity
					} else {
						window = window*2 + 10
						alpha = maxInt(depthScore-window, -Infinity)
					}
					continue
				}
				if depthScore >= beta {
					if attempt >= 4 {
						beta = Infinity
					} else {
						window = window*2 + 10
						beta = minInt(depthScore+window, Infinity)
					}
					continue
				}
				break
			}
		}

		if s.timeUp() && depth > 1 {
			// Partial depth discarded; keep the previous depth's result.
			break
		}

		score = depthScore
		if s.pv.length[0] > 0 {
			bestMove = s.pv.moves[0][0]
			s.rootBestMove = bestMove
		}

		if cb != nil {
			cb(depth, score, s.nodes)
		}

		if absInt(score) >= MateScore-MaxPly {
			break
		}
	}

	if bestMove == board.NoMove {
		moves := pos.GenerateLegalMoves()
		if moves.Len() > 0 {
			bestMove = moves.Get(0)
		}
	}

	return bestMove, score
}

// timeUp polls the deadline, also honoring an explicit Stop() call.
func (s *Searcher) timeUp() bool {
	if s.stopped {
		return true
	}
	if s.deadline != nil && s.deadline.TimeUp() {
		return true
	}
	return false
}

// evaluate returns the static evaluation of the current position via NNUE or
// the classical evaluator.
func (s *Searcher) evaluate() int {
	if s.useNNUE {
		return s.nnueEvaluate()
	}
	return EvaluateWithPawnTable(s.pos, s.pawnTable)
}

// isDraw reports 50-move, insufficient-material, or repetition draws for the
// current position. A position counts as repeated as soon as its hash occurs
// once earlier in the game history or the current search path.
func (s *Searcher) isDraw() bool {
	if s.pos.HalfMoveClock >= 100 {
		return true
	}
	if s.pos.IsInsufficientMaterial() {
		return true
	}
	if s.posHistoryLen > 0 {
		currentHash := s.pos.Hash
		count := 0
		for i := 0; i < s.posHistoryLen; i++ {
			if s.posHistoryBuffer[i] == currentHash {
				count++
				if count >= 2 {
					return true
				}
			}
		}
	}
	return false
}

func (s *Searcher) makeMove(m board.Move) board.UndoInfo {
	s.computeDirtyPieces(m)
	s.nnuePush()
	undo := s.pos.MakeMove(m)
	if undo.Valid {
		s.posHistoryBuffer[s.posHistoryLen] = s.pos.Hash
		s.posHistoryLen++
	}
	return undo
}

func (s *Searcher) unmakeMove(m board.Move, undo board.UndoInfo) {
	s.pos.UnmakeMove(m, undo)
	if undo.Valid {
		s.posHistoryLen--
	}
	s.nnuePop()
}

// negamax implements the ordered node sequence: time check, draw detection,
// mate-distance pruning, leaf quiescence, move generation with terminal
// detection, TT probe, futility pruning, null-move pruning, then the main
// move loop with LMR/PVS.
func (s *Searcher) negamax(depth, ply int, alpha, beta int, rootPVMove board.Move) int {
	if s.nodes&2047 == 0 && s.timeUp() {
		return alpha
	}

	s.pv.length[ply] = ply
	s.nodes++

	if ply > 0 && s.isDraw() {
		return 0
	}

	if alpha < -MateScore+ply {
		alpha = -MateScore + ply
	}
	if beta > MateScore-ply {
		beta = MateScore - ply
	}
	if alpha >= beta {
		return alpha
	}

	if depth <= 0 || ply >= MaxPly-1 {
		return s.quiescence(ply, alpha, beta, 0)
	}

	inCheck := s.pos.InCheck()

	moves := s.pos.GenerateLegalMoves()
	if moves.Len() == 0 {
		if inCheck {
			return -MateScore + ply
		}
		return 0
	}

	var ttMove board.Move
	ttEntry, found := s.tt.Probe(s.pos.Hash)
	if found {
		s.ttHits++
		ttMove = ttEntry.BestMove
		if int(ttEntry.Depth) >= depth {
			ttScore := AdjustScoreFromTT(int(ttEntry.Score), ply)
			switch ttEntry.Flag {
			case TTExact:
				if ply == 0 && ttMove != board.NoMove {
					s.pv.moves[0][0] = ttMove
					s.pv.length[0] = 1
				}
				return ttScore
			case TTLowerBound:
				if ttScore > alpha {
					alpha = ttScore
				}
			case TTUpperBound:
				if ttScore < beta {
					beta = ttScore
				}
			}
			if alpha >= beta {
				return ttScore
			}
		}
	}

	rawEval := s.evaluate()
	staticEval := rawEval
	if found {
		// Tighten the static-eval estimate with the TT value when it is
		// consistent with the stored bound (per 4.1); the entry itself
		// always records the pre-refinement value.
		ttScore := AdjustScoreFromTT(int(ttEntry.Score), ply)
		switch ttEntry.Flag {
		case TTExact:
			staticEval = ttScore
		case TTLowerBound:
			if ttScore > staticEval {
				staticEval = ttScore
			}
		case TTUpperBound:
			if ttScore < staticEval {
				staticEval = ttScore
			}
		}
	}
	s.evalStack[ply] = staticEval

	// Futility pruning (forward).
	if !inCheck && depth <= 2 && ply > 0 && absInt(staticEval) < MateScore-256 {
		margin := futilityBase * maxInt(depth, 1)
		if staticEval+margin <= alpha {
			return s.quiescence(ply, alpha, beta, 0)
		}
	}

	// Null-move pruning.
	if !inCheck && ply > 0 && depth >= nmpMinDepth && staticEval >= beta && s.pos.HasNonPawnMaterial() {
		R := 2 + depth/4
		s.dirtyState.Count = 0
		s.dirtyState.Computed = false
		s.nnuePush()
		nullUndo := s.pos.MakeNullMove()
		nullScore := -s.negamax(depth-1-R, ply+1, -beta, -beta+1, board.NoMove)
		s.pos.UnmakeNullMove(nullUndo)
		s.nnuePop()

		if s.timeUp() {
			return alpha
		}
		if nullScore >= beta {
			return nullScore
		}
	}

	scores := s.orderer.ScoreMoves(s.pos, moves, ply, ttMove)
	if ply == 0 && rootPVMove != board.NoMove {
		for i := 0; i < moves.Len(); i++ {
			if moves.Get(i) == rootPVMove {
				scores[i] = TTMoveScore + 1
				break
			}
		}
	}

	originalAlpha := alpha
	best := -Infinity
	var bestMove board.Move
	movesSearched := 0

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		move := moves.Get(i)

		isCapture := move.IsCapture(s.pos)
		isPromotion := move.IsPromotion()
		isQuiet := !isCapture && !isPromotion

		undo := s.makeMove(move)
		if !undo.Valid {
			s.unmakeMove(move, undo)
			continue
		}
		movesSearched++

		givesCheck := s.pos.InCheck()

		newDepth := depth - 1
		reduction := 0
		if isQuiet && !inCheck && !givesCheck && depth >= lmrMinDepth && movesSearched > lmrMinMoveIdx {
			reduction = 1
		}

		var score int
		if movesSearched == 1 {
			score = -s.negamax(newDepth, ply+1, -beta, -alpha, board.NoMove)
		} else {
			score = -s.negamax(newDepth-reduction, ply+1, -alpha-1, -alpha, board.NoMove)
			if score > alpha && reduction > 0 {
				score = -s.negamax(newDepth, ply+1, -alpha-1, -alpha, board.NoMove)
			}
			if score > alpha && score < beta {
				score = -s.negamax(newDepth, ply+1, -beta, -alpha, board.NoMove)
			}
		}

		s.unmakeMove(move, undo)

		if s.timeUp() {
			return alpha
		}

		if score > best {
			best = score
			bestMove = move

			s.pv.moves[ply][ply] = move
			copy(s.pv.moves[ply][ply+1:s.pv.length[ply+1]], s.pv.moves[ply+1][ply+1:s.pv.length[ply+1]])
			s.pv.length[ply] = s.pv.length[ply+1]

			if score > alpha {
				alpha = score
			}
		}

		if alpha >= beta {
			s.betaCutoffs++
			if isQuiet {
				s.orderer.UpdateKillers(move, ply)
				s.orderer.UpdateHistory(move, depth, true)
			}
			s.tt.Store(s.pos.Hash, depth, AdjustScoreToTT(best, ply), rawEval, TTLowerBound, bestMove)
			return best
		}
	}

	flag := TTUpperBound
	if best > originalAlpha {
		flag = TTExact
	}
	if !s.timeUp() {
		s.tt.Store(s.pos.Hash, depth, AdjustScoreToTT(best, ply), rawEval, flag, bestMove)
	}

	return best
}

// quiescence resolves tactical sequences (captures, promotions, and — when
// in check — all evasions) before returning a leaf evaluation. qdepth is a
// negative recursion counter used only for the optional depth cap.
func (s *Searcher) quiescence(ply, alpha, beta int, qdepth int) int {
	if s.nodes&2047 == 0 && s.timeUp() {
		return alpha
	}
	s.nodes++
	s.pv.length[ply] = ply

	inCheck := s.pos.InCheck()

	var standPat int
	if !inCheck {
		standPat = s.evaluate()
		if standPat >= beta {
			return standPat
		}
		if standPat > alpha {
			alpha = standPat
		}

		if standPat+QueenValue < alpha {
			return standPat
		}

		if qdepth <= -5 {
			return standPat
		}
	}

	var moves *board.MoveList
	if inCheck {
		moves = s.pos.GenerateLegalMoves()
		if moves.Len() == 0 {
			return -MateScore + ply
		}
	} else {
		moves = s.pos.GenerateCaptures()
	}

	scores := s.orderer.ScoreMoves(s.pos, moves, ply, board.NoMove)

	best := standPat
	if inCheck {
		best = -Infinity
	}

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		move := moves.Get(i)

		if !inCheck && !move.IsCapture(s.pos) && !move.IsPromotion() {
			continue
		}

		undo := s.makeMove(move)
		if !undo.Valid {
			s.unmakeMove(move, undo)
			continue
		}

		score := -s.quiescence(ply+1, -beta, -alpha, qdepth-1)
		s.unmakeMove(move, undo)

		if s.timeUp() {
			return alpha
		}

		if score > best {
			best = score
			if score > alpha {
				alpha = score
				s.pv.moves[ply][ply] = move
				if ply+1 < MaxPly {
					copy(s.pv.moves[ply][ply+1:s.pv.length[ply+1]], s.pv.moves[ply+1][ply+1:s.pv.length[ply+1]])
					s.pv.length[ply] = s.pv.length[ply+1]
				}
			}
		}

		if alpha >= beta {
			return best
		}
	}

	return best
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
