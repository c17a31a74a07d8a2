package engine

import (
	"github.com/corvusengine/vela/internal/board"
	"github.com/corvusengine/vela/sfnnue"
	"github.com/corvusengine/vela/sfnnue/features"
)

// DirtyPiece tracks a piece change for incremental accumulator updates.
// FromSq = -1 means piece was added (not moved from anywhere).
// ToSq = -1 means piece was removed (captured).
type DirtyPiece struct {
	Piece  int // sfnnue piece encoding (1-14)
	FromSq int // source square (-1 if added)
	ToSq   int // destination square (-1 if removed)
}

// MaxDirtyPieces is the maximum number of dirty pieces per move.
// Normal move: 1, capture: 2, en passant: 2, promotion+capture: 3
const MaxDirtyPieces = 3

// DirtyState tracks piece changes for incremental NNUE updates.
type DirtyState struct {
	Pieces    [MaxDirtyPieces]DirtyPiece
	Count     int
	KingMoved [2]bool // Whether king moved for each perspective
	KingSq    [2]int  // King squares after move
	Computed  bool    // Whether dirty state has been computed
}

// sfnnuePieceTable maps [color][pieceType] to sfnnue piece encoding.
// board types: Pawn=0, Knight=1, Bishop=2, Rook=3, Queen=4, King=5
// sfnnue types: W_PAWN=1, W_KNIGHT=2, ..., B_PAWN=9, B_KNIGHT=10, ...
var sfnnuePieceTable = [2][6]int{
	{1, 2, 3, 4, 5, 6},      // White: W_PAWN=1, W_KNIGHT=2, etc.
	{9, 10, 11, 12, 13, 14}, // Black: B_PAWN=9, B_KNIGHT=10, etc.
}

// appendActiveIndicesDirect computes active feature indices directly from a
// board.Position, avoiding interface dispatch and adapter allocation.
func appendActiveIndicesDirect(perspective int, pos *board.Position, active *features.IndexList) {
	ksq := int(pos.KingSquare[perspective])

	for c := 0; c < 2; c++ {
		for pt := board.Pawn; pt <= board.King; pt++ {
			sfPiece := sfnnuePieceTable[c][pt]
			bb := uint64(pos.Pieces[c][pt])

			for bb != 0 {
				sq := trailingZeros64(bb)
				bb &= bb - 1
				active.Push(features.MakeIndex(perspective, sq, sfPiece, ksq))
			}
		}
	}
}

// trailingZeros64 returns the number of trailing zero bits in x.
func trailingZeros64(x uint64) int {
	if x == 0 {
		return 64
	}
	n := 0
	if x&0xFFFFFFFF == 0 {
		n += 32
		x >>= 32
	}
	if x&0xFFFF == 0 {
		n += 16
		x >>= 16
	}
	if x&0xFF == 0 {
		n += 8
		x >>= 8
	}
	if x&0xF == 0 {
		n += 4
		x >>= 4
	}
	if x&0x3 == 0 {
		n += 2
		x >>= 2
	}
	if x&0x1 == 0 {
		n++
	}
	return n
}

// countPieces returns the total number of pieces on the board.
func countPieces(pos *board.Position) int {
	count := 0
	bb := pos.AllOccupied
	for bb != 0 {
		bb &= bb - 1
		count++
	}
	return count
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func popCount64(x uint64) int {
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// computeDirtyPieces computes NNUE feature changes for a move.
// Must be called BEFORE MakeMove while the position still has original state.
// Returns true if incremental update is possible (no king move on either side).
func (s *Searcher) computeDirtyPieces(m board.Move) bool {
	if !s.useNNUE || s.nnueEval == nil {
		return false
	}

	s.dirtyState.Count = 0
	s.dirtyState.KingMoved[0] = false
	s.dirtyState.KingMoved[1] = false
	s.dirtyState.Computed = false

	pos := s.pos
	from := m.From()
	to := m.To()
	movingPiece := pos.PieceAt(from)

	if movingPiece == board.NoPiece {
		return false
	}

	us := int(movingPiece.Color())
	pt := movingPiece.Type()
	sfPiece := sfnnuePieceTable[us][pt]

	s.dirtyState.KingSq[0] = int(pos.KingSquare[board.White])
	s.dirtyState.KingSq[1] = int(pos.KingSquare[board.Black])

	if pt == board.King {
		s.dirtyState.KingMoved[us] = true
		s.dirtyState.KingSq[us] = int(to)
		s.dirtyState.Computed = true
		return false
	}

	if m.IsCastling() {
		s.dirtyState.KingMoved[us] = true
		s.dirtyState.KingSq[us] = int(to)
		s.dirtyState.Computed = true
		return false
	}

	s.dirtyState.Pieces[s.dirtyState.Count] = DirtyPiece{
		Piece:  sfPiece,
		FromSq: int(from),
		ToSq:   int(to),
	}
	s.dirtyState.Count++

	if m.IsEnPassant() {
		var capturedSq board.Square
		if us == int(board.White) {
			capturedSq = to - 8
		} else {
			capturedSq = to + 8
		}
		capturedColor := 1 - us
		capturedSfPiece := sfnnuePieceTable[capturedColor][board.Pawn]
		s.dirtyState.Pieces[s.dirtyState.Count] = DirtyPiece{
			Piece:  capturedSfPiece,
			FromSq: int(capturedSq),
			ToSq:   -1,
		}
		s.dirtyState.Count++
	} else {
		capturedPiece := pos.PieceAt(to)
		if capturedPiece != board.NoPiece {
			capturedColor := int(capturedPiece.Color())
			capturedPt := capturedPiece.Type()
			capturedSfPiece := sfnnuePieceTable[capturedColor][capturedPt]
			s.dirtyState.Pieces[s.dirtyState.Count] = DirtyPiece{
				Piece:  capturedSfPiece,
				FromSq: int(to),
				ToSq:   -1,
			}
			s.dirtyState.Count++
		}
	}

	if m.IsPromotion() {
		promoPt := m.Promotion()
		promoSfPiece := sfnnuePieceTable[us][promoPt]

		s.dirtyState.Pieces[0] = DirtyPiece{
			Piece:  sfPiece,
			FromSq: int(from),
			ToSq:   -1,
		}
		s.dirtyState.Pieces[s.dirtyState.Count] = DirtyPiece{
			Piece:  promoSfPiece,
			FromSq: -1,
			ToSq:   int(to),
		}
		s.dirtyState.Count++
	}

	s.dirtyState.Computed = true
	return true
}

// computeFeatureDeltas computes removed/added feature indices for an
// incremental update, using pre-allocated buffer space to avoid allocation.
func (s *Searcher) computeFeatureDeltas(perspective, ksq int) (removed, added []int) {
	removedBuf := s.activeIndicesBuffer[0:32]
	addedBuf := s.activeIndicesBuffer[32:64]
	removedCount := 0
	addedCount := 0

	for i := 0; i < s.dirtyState.Count; i++ {
		dp := &s.dirtyState.Pieces[i]

		if dp.FromSq >= 0 {
			idx := features.MakeIndex(perspective, dp.FromSq, dp.Piece, ksq)
			removedBuf[removedCount] = idx
			removedCount++
		}

		if dp.ToSq >= 0 {
			idx := features.MakeIndex(perspective, dp.ToSq, dp.Piece, ksq)
			addedBuf[addedCount] = idx
			addedCount++
		}
	}

	return removedBuf[:removedCount], addedBuf[:addedCount]
}

// ensureAccumulatorComputed updates or fully recomputes the accumulator for
// each perspective that is not already valid.
func (s *Searcher) ensureAccumulatorComputed(net *sfnnue.Network, acc *sfnnue.Accumulator) {
	prevAcc := s.nnueEval.AccStack.Previous()

	for perspective := 0; perspective < 2; perspective++ {
		if acc.Computed[perspective] {
			continue
		}

		canIncremental := prevAcc != nil &&
			prevAcc.Computed[perspective] &&
			!acc.NeedsRefresh[perspective] &&
			s.dirtyState.Computed && s.dirtyState.Count > 0

		if canIncremental {
			ksq := int(s.pos.KingSquare[perspective])
			removed, added := s.computeFeatureDeltas(perspective, ksq)

			net.FeatureTransformer.UpdateAccumulator(
				removed, added,
				acc.Accumulation[perspective],
				acc.PSQTAccumulation[perspective],
			)
			acc.Computed[perspective] = true
			acc.KingSq[perspective] = ksq
		} else {
			computeAccumulator(net, s.pos, acc, perspective, s.activeIndicesBuffer[:])
		}
	}
}

// nnueEvaluate performs NNUE evaluation for the searcher's current position,
// falling back to the classical evaluator when no network is loaded.
func (s *Searcher) nnueEvaluate() int {
	if s.nnueEval == nil {
		return EvaluateWithPawnTable(s.pos, s.pawnTable)
	}

	pieceCount := countPieces(s.pos)
	sideToMove := 0
	if s.pos.SideToMove == board.Black {
		sideToMove = 1
	}

	acc := s.nnueEval.AccStack.Current()
	s.ensureAccumulatorComputed(s.nnueEval.Network, acc)

	psqt, positional := s.nnueEval.Network.Evaluate(
		acc.Accumulation,
		acc.PSQTAccumulation,
		sideToMove,
		pieceCount,
	)

	return sfnnue.CombineScore(psqt, positional)
}

// nonPawnMaterial calculates the total material value excluding pawns.
func nonPawnMaterial(pos *board.Position) int {
	pieceValues := [6]int{0, 320, 330, 500, 900, 0}
	total := 0
	for c := 0; c < 2; c++ {
		for pt := board.Knight; pt <= board.Queen; pt++ {
			total += popCount64(uint64(pos.Pieces[c][pt])) * pieceValues[pt]
		}
	}
	return total
}

// computeAccumulator computes the accumulator from scratch for a perspective,
// using a pre-allocated index buffer to avoid per-call allocation.
func computeAccumulator(net *sfnnue.Network, pos *board.Position, acc *sfnnue.Accumulator, perspective int, indexBuffer []int) {
	var activeList features.IndexList
	appendActiveIndicesDirect(perspective, pos, &activeList)

	activeIndices := indexBuffer[:activeList.Size]
	for i := 0; i < activeList.Size; i++ {
		activeIndices[i] = activeList.Values[i]
	}

	net.FeatureTransformer.ComputeAccumulator(
		activeIndices,
		acc.Accumulation[perspective],
		acc.PSQTAccumulation[perspective],
	)

	acc.Computed[perspective] = true
	acc.KingSq[perspective] = int(pos.KingSquare[perspective])
}

// resetNNUEAccumulators marks the accumulator stack as needing a full refresh.
func (s *Searcher) resetNNUEAccumulators() {
	if s.nnueEval != nil {
		s.nnueEval.Reset()
	}
}

// nnuePush advances the NNUE accumulator stack one ply. The dirty pieces
// must already be computed via computeDirtyPieces.
func (s *Searcher) nnuePush() {
	if !s.useNNUE || s.nnueEval == nil {
		return
	}
	s.nnueEval.Push()

	acc := s.nnueEval.AccStack.Current()

	if !s.dirtyState.Computed {
		acc.NeedsRefresh[0] = true
		acc.NeedsRefresh[1] = true
		acc.Computed[0] = false
		acc.Computed[1] = false
		return
	}

	for p := 0; p < 2; p++ {
		if s.dirtyState.KingMoved[p] {
			acc.NeedsRefresh[p] = true
		} else {
			acc.NeedsRefresh[p] = false
		}
		acc.Computed[p] = false
	}
}

// nnuePop restores the NNUE accumulator stack after unmaking a move.
func (s *Searcher) nnuePop() {
	if s.useNNUE && s.nnueEval != nil {
		s.nnueEval.Pop()
	}
}
