// Package engine implements the chess AI search engine.
package engine

import (
	"github.com/corvusengine/vela/internal/board"
)

// Evaluation constants
const (
	PawnValue   = 100
	KnightValue = 320
	BishopValue = 330
	RookValue   = 500
	QueenValue  = 900
	KingValue   = 20000
)

// Piece values array for quick lookup
var pieceValues = [7]int{PawnValue, KnightValue, BishopValue, RookValue, QueenValue, KingValue, 0}

// Piece (mg, eg) values, distinct from the flat pieceValues lookup so the
// tapered terms below can diverge from the material term used elsewhere
// (quiescence delta pruning, SEE-free move ordering).
var mgPieceValues = [6]int{100, 320, 330, 500, 900, 0}
var egPieceValues = [6]int{125, 400, 450, 650, 1300, 0}

// Passed pawn bonus by relative rank (index 0 = rank 1, 7 = rank 8).
var passedPawnBonus = [8]int{0, 10, 20, 40, 70, 120, 200, 0}

const (
	doubledPawnMgPenalty = -15
	doubledPawnEgPenalty = -15
)

// Pawn rank-advancement bonus, indexed by relative rank.
var pawnAdvanceBonus = [8]int{0, 0, 3, 6, 10, 16, 24, 0}

// Wing-advance bonus by file, for pawns that have reached relative rank 5+:
// edge-file (a/h) pawn storms count for more than central pawns, which are
// already covered by centralization and passed-pawn terms.
var wingAdvanceBonus = [8]int{12, 8, 4, 0, 0, 4, 8, 12}

const (
	knightCenterWeight = 5 // per unit of (6 - taxicab distance from center)
	bishopCenterWeight = 2 // per unit of (4 - file distance from center)
)

const (
	kingShieldPawnMg = 10
	kingShieldPawnEg = 3
)

const (
	bishopPairMgBonus = 30
	bishopPairEgBonus = 40
)

const (
	rookOpenFileMg     = 15
	rookOpenFileEg     = 10
	rookSemiOpenFileMg = 8
	rookSemiOpenFileEg = 5
)

// Mobility weight per piece type, multiplied by the count of attacked empty
// squares; the bonus grows linearly with that count for every piece type.
var mobilityMgWeight = [6]int{0, 4, 3, 2, 1, 0} // Pawn, Knight, Bishop, Rook, Queen, King
var mobilityEgWeight = [6]int{0, 3, 3, 4, 2, 0}

// Tempo bonus - small advantage for having the move
const tempoBonus = 10

// evalClampBound keeps classical evaluator output strictly inside the
// mate-score range so a lopsided material/PST sum can't be mistaken for a
// forced mate by mate-distance pruning.
const evalClampBound = MateScore - MaxPly - 1

// Piece-Square Tables (PST) for positional evaluation
// Values are from White's perspective; mirrored for Black

// Pawn PST - encourages central control and advancement
var pawnPST = [64]int{
	0, 0, 0, 0, 0, 0, 0, 0,
	50, 50, 50, 50, 50, 50, 50, 50,
	10, 10, 20, 30, 30, 20, 10, 10,
	5, 5, 10, 25, 25, 10, 5, 5,
	0, 0, 0, 20, 20, 0, 0, 0,
	5, -5, -10, 0, 0, -10, -5, 5,
	5, 10, 10, -20, -20, 10, 10, 5,
	0, 0, 0, 0, 0, 0, 0, 0,
}

// Rook PST - encourages 7th rank and open files
var rookPST = [64]int{
	0, 0, 0, 0, 0, 0, 0, 0,
	5, 10, 10, 10, 10, 10, 10, 5,
	-5, 0, 0, 0, 0, 0, 0, -5,
	-5, 0, 0, 0, 0, 0, 0, -5,
	-5, 0, 0, 0, 0, 0, 0, -5,
	-5, 0, 0, 0, 0, 0, 0, -5,
	-5, 0, 0, 0, 0, 0, 0, -5,
	0, 0, 0, 5, 5, 0, 0, 0,
}

// Queen PST - slight central preference
var queenPST = [64]int{
	-20, -10, -10, -5, -5, -10, -10, -20,
	-10, 0, 0, 0, 0, 0, 0, -10,
	-10, 0, 5, 5, 5, 5, 0, -10,
	-5, 0, 5, 5, 5, 5, 0, -5,
	0, 0, 5, 5, 5, 5, 0, -5,
	-10, 5, 5, 5, 5, 5, 0, -10,
	-10, 0, 5, 0, 0, 0, 0, -10,
	-20, -10, -10, -5, -5, -10, -10, -20,
}

// King PST (middlegame) - encourages castling
var kingMidgamePST = [64]int{
	-30, -40, -40, -50, -50, -40, -40, -30,
	-30, -40, -40, -50, -50, -40, -40, -30,
	-30, -40, -40, -50, -50, -40, -40, -30,
	-30, -40, -40, -50, -50, -40, -40, -30,
	-20, -30, -30, -40, -40, -30, -30, -20,
	-10, -20, -20, -20, -20, -20, -20, -10,
	20, 20, 0, 0, 0, 0, 20, 20,
	20, 30, 10, 0, 0, 10, 30, 20,
}

// King PST (endgame) - king should be active
var kingEndgamePST = [64]int{
	-50, -40, -30, -20, -20, -30, -40, -50,
	-30, -20, -10, 0, 0, -10, -20, -30,
	-30, -10, 20, 30, 30, 20, -10, -30,
	-30, -10, 30, 40, 40, 30, -10, -30,
	-30, -10, 30, 40, 40, 30, -10, -30,
	-30, -10, 20, 30, 30, 20, -10, -30,
	-30, -30, 0, 0, 0, 0, -30, -30,
	-50, -30, -30, -30, -30, -30, -30, -50,
}

// Evaluate returns the static evaluation of the position from the
// side-to-move's perspective, without a pawn hash table.
func Evaluate(pos *board.Position) int {
	return evaluate(pos, nil)
}

// EvaluateWithPawnTable returns the static evaluation of the position,
// caching the pawn-structure term in pawnTable across calls.
func EvaluateWithPawnTable(pos *board.Position, pawnTable *PawnTable) int {
	return evaluate(pos, pawnTable)
}

func evaluate(pos *board.Position, pawnTable *PawnTable) int {
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

	cMg := evaluateCentralization(pos)
	mgScore += cMg

	psMg, psEg := evaluatePawnStructureWithCache(pos, pawnTable)
	mgScore += psMg
	egScore += psEg

	ksMg, ksEg := evaluateKingShield(pos)
	mgScore += ksMg
	egScore += ksEg

	mobMg, mobEg := evaluateMobility(pos)
	mgScore += mobMg
	egScore += mobEg

	bpMg, bpEg := evaluateBishopPair(pos)
	mgScore += bpMg
	egScore += bpEg

	rfMg, rfEg := evaluateRooksOnFiles(pos)
	mgScore += rfMg
	egScore += rfEg

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

// EvaluateMaterial returns just the material balance (for quick evaluation).
func EvaluateMaterial(pos *board.Position) int {
	score := 0
	for pt := board.Pawn; pt < board.King; pt++ {
		score += pos.Pieces[board.White][pt].PopCount() * pieceValues[pt]
		score -= pos.Pieces[board.Black][pt].PopCount() * pieceValues[pt]
	}
	if pos.SideToMove == board.Black {
		return -score
	}
	return score
}

// IsEndgame returns true if the position is in the endgame phase.
func IsEndgame(pos *board.Position) bool {
	whiteQueens := pos.Pieces[board.White][board.Queen].PopCount()
	blackQueens := pos.Pieces[board.Black][board.Queen].PopCount()

	if whiteQueens == 0 && blackQueens == 0 {
		return true
	}

	whitePieces := pos.Pieces[board.White][board.Knight].PopCount() +
		pos.Pieces[board.White][board.Bishop].PopCount() +
		pos.Pieces[board.White][board.Rook].PopCount()
	blackPieces := pos.Pieces[board.Black][board.Knight].PopCount() +
		pos.Pieces[board.Black][board.Bishop].PopCount() +
		pos.Pieces[board.Black][board.Rook].PopCount()

	return whiteQueens+blackQueens <= 1 && whitePieces+blackPieces <= 4
}

// evaluateCentralization scores knight and bishop activity by distance from
// the board's center, rather than a piece-square table.
func evaluateCentralization(pos *board.Position) int {
	var mg int

	for c := board.White; c <= board.Black; c++ {
		sign := 1
		if c == board.Black {
			sign = -1
		}

		knights := pos.Pieces[c][board.Knight]
		for knights != 0 {
			sq := knights.PopLSB()
			f, r := int(sq.File()), int(sq.Rank())
			df, dr := absInt(f-3), absInt(r-3)
			dist := df + dr
			bonus := maxInt(6-dist, 0) * knightCenterWeight
			mg += sign * bonus
		}

		bishops := pos.Pieces[c][board.Bishop]
		for bishops != 0 {
			sq := bishops.PopLSB()
			f := int(sq.File())
			df := absInt(f - 3)
			bonus := maxInt(4-df, 0) * bishopCenterWeight
			mg += sign * bonus
		}
	}

	return mg
}

// evaluatePawnStructureWithCache evaluates pawn structure using the pawn
// hash table, falling back to a direct computation when none is supplied.
func evaluatePawnStructureWithCache(pos *board.Position, pt *PawnTable) (mgScore, egScore int) {
	if pt == nil {
		return evaluatePawnStructure(pos)
	}

	if mg, eg, found := pt.Probe(pos.PawnKey); found {
		return mg, eg
	}

	mg, eg := evaluatePawnStructure(pos)
	pt.Store(pos.PawnKey, mg, eg)
	return mg, eg
}

// evaluatePawnStructure scores passed pawns, doubled pawns, and
// rank/wing advancement for both sides.
func evaluatePawnStructure(pos *board.Position) (mgScore, egScore int) {
	for color := board.White; color <= board.Black; color++ {
		sign := 1
		if color == board.Black {
			sign = -1
		}

		pawns := pos.Pieces[color][board.Pawn]
		allPawns := pawns
		enemyPawns := pos.Pieces[color.Other()][board.Pawn]

		for pawns != 0 {
			sq := pawns.PopLSB()
			file := sq.File()
			fileMask := board.FileMask[file]
			relRank := int(sq.RelativeRank(color))

			if enemyPawns&fileMask == 0 {
				bonus := passedPawnBonus[relRank]
				mgScore += sign * bonus
				egScore += sign * (bonus * 3 / 2)
			}

			if (allPawns & fileMask).PopCount() > 1 {
				mgScore += sign * doubledPawnMgPenalty
				egScore += sign * doubledPawnEgPenalty
			}

			mgScore += sign * pawnAdvanceBonus[relRank]
			egScore += sign * pawnAdvanceBonus[relRank]

			if relRank >= 4 {
				mgScore += sign * wingAdvanceBonus[file]
			}
		}
	}
	return mgScore, egScore
}

// evaluateKingShield counts own pawns within one file of the king and within
// its two forward ranks.
func evaluateKingShield(pos *board.Position) (mgScore, egScore int) {
	for color := board.White; color <= board.Black; color++ {
		sign := 1
		if color == board.Black {
			sign = -1
		}

		kingSq := pos.KingSquare[color]
		kFile := int(kingSq.File())
		kRank := int(kingSq.Rank())

		pawns := pos.Pieces[color][board.Pawn]
		shieldPawns := 0
		for pawns != 0 {
			sq := pawns.PopLSB()
			pFile := int(sq.File())
			pRank := int(sq.Rank())

			if absInt(pFile-kFile) > 1 {
				continue
			}

			if color == board.White {
				if pRank > kRank && pRank <= kRank+2 {
					shieldPawns++
				}
			} else {
				if pRank < kRank && pRank >= kRank-2 {
					shieldPawns++
				}
			}
		}

		mgScore += sign * kingShieldPawnMg * shieldPawns
		egScore += sign * kingShieldPawnEg * shieldPawns
	}
	return mgScore, egScore
}

// evaluateMobility scores each piece by the number of empty squares it
// attacks, tapered by piece type.
func evaluateMobility(pos *board.Position) (mgBonus, egBonus int) {
	occupied := pos.AllOccupied
	empty := ^occupied

	for color := board.White; color <= board.Black; color++ {
		sign := 1
		if color == board.Black {
			sign = -1
		}

		knights := pos.Pieces[color][board.Knight]
		for knights != 0 {
			sq := knights.PopLSB()
			count := (board.KnightAttacks(sq) & empty).PopCount()
			mgBonus += sign * mobilityMgWeight[board.Knight] * count
			egBonus += sign * mobilityEgWeight[board.Knight] * count
		}

		bishops := pos.Pieces[color][board.Bishop]
		for bishops != 0 {
			sq := bishops.PopLSB()
			count := (board.BishopAttacks(sq, occupied) & empty).PopCount()
			mgBonus += sign * mobilityMgWeight[board.Bishop] * count
			egBonus += sign * mobilityEgWeight[board.Bishop] * count
		}

		rooks := pos.Pieces[color][board.Rook]
		for rooks != 0 {
			sq := rooks.PopLSB()
			count := (board.RookAttacks(sq, occupied) & empty).PopCount()
			mgBonus += sign * mobilityMgWeight[board.Rook] * count
			egBonus += sign * mobilityEgWeight[board.Rook] * count
		}

		queens := pos.Pieces[color][board.Queen]
		for queens != 0 {
			sq := queens.PopLSB()
			count := (board.QueenAttacks(sq, occupied) & empty).PopCount()
			mgBonus += sign * mobilityMgWeight[board.Queen] * count
			egBonus += sign * mobilityEgWeight[board.Queen] * count
		}
	}

	return mgBonus, egBonus
}

// evaluateBishopPair returns a bonus for having the bishop pair.
func evaluateBishopPair(pos *board.Position) (mgBonus, egBonus int) {
	for color := board.White; color <= board.Black; color++ {
		sign := 1
		if color == board.Black {
			sign = -1
		}

		if pos.Pieces[color][board.Bishop].PopCount() >= 2 {
			mgBonus += sign * bishopPairMgBonus
			egBonus += sign * bishopPairEgBonus
		}
	}
	return mgBonus, egBonus
}

// evaluateRooksOnFiles returns a bonus for rooks on open/semi-open files.
func evaluateRooksOnFiles(pos *board.Position) (mgBonus, egBonus int) {
	for color := board.White; color <= board.Black; color++ {
		sign := 1
		if color == board.Black {
			sign = -1
		}

		ownPawns := pos.Pieces[color][board.Pawn]
		enemyPawns := pos.Pieces[color.Other()][board.Pawn]

		rooks := pos.Pieces[color][board.Rook]
		for rooks != 0 {
			sq := rooks.PopLSB()
			fileMask := board.FileMask[sq.File()]

			hasOwnPawn := (ownPawns & fileMask) != 0
			hasEnemyPawn := (enemyPawns & fileMask) != 0

			if !hasOwnPawn {
				if !hasEnemyPawn {
					mgBonus += sign * rookOpenFileMg
					egBonus += sign * rookOpenFileEg
				} else {
					mgBonus += sign * rookSemiOpenFileMg
					egBonus += sign * rookSemiOpenFileEg
				}
			}
		}
	}
	return mgBonus, egBonus
}
