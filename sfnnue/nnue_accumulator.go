// NNUE Accumulator for incremental updates.
// Ported from Stockfish src/nnue/nnue_accumulator.h and .cpp

package sfnnue

// Accumulator holds the result of the feature transformer's affine step,
// per perspective, plus the bucketed PSQT term.
// Ported from nnue_accumulator.h:47-52
type Accumulator struct {
	Accumulation     [2][]int16 // [color][HalfDimensions]
	PSQTAccumulation [2][]int32 // [color][PSQTBuckets]
	Computed         [2]bool
	KingSq           [2]int
	NeedsRefresh     [2]bool
}

// SQ_NONE represents no square (for king tracking).
const SQ_NONE = 64

// NewAccumulator creates a new accumulator with the given half dimensions.
func NewAccumulator(halfDims int) *Accumulator {
	return &Accumulator{
		Accumulation: [2][]int16{
			make([]int16, halfDims),
			make([]int16, halfDims),
		},
		PSQTAccumulation: [2][]int32{
			make([]int32, PSQTBuckets),
			make([]int32, PSQTBuckets),
		},
		KingSq:       [2]int{SQ_NONE, SQ_NONE},
		NeedsRefresh: [2]bool{true, true},
	}
}

// Reset marks the accumulator as not computed.
func (a *Accumulator) Reset() {
	a.Computed[0], a.Computed[1] = false, false
	a.KingSq[0], a.KingSq[1] = SQ_NONE, SQ_NONE
	a.NeedsRefresh[0], a.NeedsRefresh[1] = true, true
}

// Copy copies values from another accumulator.
func (a *Accumulator) Copy(other *Accumulator) {
	copy(a.Accumulation[0], other.Accumulation[0])
	copy(a.Accumulation[1], other.Accumulation[1])
	copy(a.PSQTAccumulation[0], other.PSQTAccumulation[0])
	copy(a.PSQTAccumulation[1], other.PSQTAccumulation[1])
	a.Computed = other.Computed
	a.KingSq = other.KingSq
	a.NeedsRefresh = other.NeedsRefresh
}

// MaxStackSize is the maximum ply depth tracked by the stack.
const MaxStackSize = 256

// AccumulatorStack manages the ply-indexed accumulator stack mirroring a
// searcher's make/unmake sequence.
// Ported from nnue_accumulator.h:152-202
type AccumulatorStack struct {
	accumulators []Accumulator
	size         int
}

// NewAccumulatorStack creates a new accumulator stack.
func NewAccumulatorStack() *AccumulatorStack {
	stack := &AccumulatorStack{
		accumulators: make([]Accumulator, MaxStackSize),
		size:         1,
	}
	for i := range stack.accumulators {
		stack.accumulators[i] = *NewAccumulator(TransformedFeatureDimensions)
	}
	return stack
}

// Reset resets the stack to its initial (ply 0) state.
func (s *AccumulatorStack) Reset() {
	s.size = 1
	s.accumulators[0].Reset()
}

// Push copies the current accumulator to a new ply, ready for the caller to
// apply that ply's dirty-piece delta on top.
func (s *AccumulatorStack) Push() {
	if s.size < MaxStackSize {
		s.accumulators[s.size].Copy(&s.accumulators[s.size-1])
		s.size++
	}
}

// Pop discards the current ply's accumulator, returning to the parent.
func (s *AccumulatorStack) Pop() {
	if s.size > 1 {
		s.size--
	}
}

// Current returns the accumulator for the current ply.
func (s *AccumulatorStack) Current() *Accumulator {
	return &s.accumulators[s.size-1]
}

// Previous returns the accumulator for the parent ply, or nil at the root.
func (s *AccumulatorStack) Previous() *Accumulator {
	if s.size > 1 {
		return &s.accumulators[s.size-2]
	}
	return nil
}

// AtPly returns the accumulator at an arbitrary ply index (0-based from root).
func (s *AccumulatorStack) AtPly(ply int) *Accumulator {
	return &s.accumulators[ply]
}

// Ply returns the current ply index (0-based).
func (s *AccumulatorStack) Ply() int {
	return s.size - 1
}

// AccumulatorCache provides per-king-square caches ("Finny tables") so a
// king move can rebuild its perspective in O(symmetric-difference) instead
// of from scratch.
// Ported from nnue_accumulator.h:61-106
type AccumulatorCache struct {
	Entries [64][2]AccumulatorCacheEntry
}

// AccumulatorCacheEntry stores cached accumulator state for a king position.
type AccumulatorCacheEntry struct {
	Accumulation     []int16
	PSQTAccumulation []int32
	Pieces           [64]int
	PieceBB          uint64
}

// NewAccumulatorCache creates a new cache for the given dimensions.
func NewAccumulatorCache(halfDims int, biases []int16) *AccumulatorCache {
	cache := &AccumulatorCache{}
	for sq := 0; sq < 64; sq++ {
		for c := 0; c < 2; c++ {
			entry := &cache.Entries[sq][c]
			entry.Accumulation = make([]int16, halfDims)
			entry.PSQTAccumulation = make([]int32, PSQTBuckets)
			copy(entry.Accumulation, biases)
		}
	}
	return cache
}

// Clear resets the cache with the given biases.
func (c *AccumulatorCache) Clear(biases []int16) {
	for sq := 0; sq < 64; sq++ {
		for color := 0; color < 2; color++ {
			entry := &c.Entries[sq][color]
			copy(entry.Accumulation, biases)
			for i := range entry.PSQTAccumulation {
				entry.PSQTAccumulation[i] = 0
			}
			for i := range entry.Pieces {
				entry.Pieces[i] = 0
			}
			entry.PieceBB = 0
		}
	}
}

// GetEntry returns the cache entry for a king position and perspective.
func (c *AccumulatorCache) GetEntry(kingSq, perspective int) *AccumulatorCacheEntry {
	return &c.Entries[kingSq][perspective]
}

// RefreshFromCache rebuilds acc for perspective from the cache entry at
// kingSq, applying only the symmetric difference between the cached
// occupancy and the current one, then writes the result back into the
// cache entry so the next king move to the same square is cheap again.
func (c *AccumulatorCache) RefreshFromCache(
	kingSq, perspective int,
	acc *Accumulator,
	currentPieceBB uint64,
	currentPieces [64]int,
	halfDims int,
	weights []int16,
	psqtWeights []int32,
	makeIndexFn func(perspective, sq, piece, kingSq int) int,
) {
	entry := &c.Entries[kingSq][perspective]
	changedBB := entry.PieceBB ^ currentPieceBB

	copy(acc.Accumulation[perspective], entry.Accumulation)
	copy(acc.PSQTAccumulation[perspective], entry.PSQTAccumulation)

	bb := changedBB
	for bb != 0 {
		sq := trailingZeros64(bb)
		bb &= bb - 1

		wasPresent := entry.PieceBB&(1<<uint(sq)) != 0
		isPresent := currentPieceBB&(1<<uint(sq)) != 0

		if wasPresent {
			if pc := entry.Pieces[sq]; pc != 0 {
				idx := makeIndexFn(perspective, sq, pc, kingSq)
				subtractWeightColumn(acc, perspective, idx, halfDims, weights, psqtWeights)
			}
		}
		if isPresent {
			if pc := currentPieces[sq]; pc != 0 {
				idx := makeIndexFn(perspective, sq, pc, kingSq)
				addWeightColumn(acc, perspective, idx, halfDims, weights, psqtWeights)
			}
		}
	}

	acc.Computed[perspective] = true
	acc.KingSq[perspective] = kingSq

	entry.Accumulation, acc.Accumulation[perspective] = acc.Accumulation[perspective], entry.Accumulation
	copy(acc.Accumulation[perspective], entry.Accumulation)
	copy(entry.PSQTAccumulation, acc.PSQTAccumulation[perspective])
	entry.PieceBB = currentPieceBB
	copy(entry.Pieces[:], currentPieces[:])
}

func addWeightColumn(acc *Accumulator, perspective, idx, halfDims int, weights []int16, psqtWeights []int32) {
	offset := idx * halfDims
	for i := 0; i < halfDims; i++ {
		acc.Accumulation[perspective][i] += weights[offset+i]
	}
	psqtOffset := idx * PSQTBuckets
	for b := 0; b < PSQTBuckets; b++ {
		acc.PSQTAccumulation[perspective][b] += psqtWeights[psqtOffset+b]
	}
}

func subtractWeightColumn(acc *Accumulator, perspective, idx, halfDims int, weights []int16, psqtWeights []int32) {
	offset := idx * halfDims
	for i := 0; i < halfDims; i++ {
		acc.Accumulation[perspective][i] -= weights[offset+i]
	}
	psqtOffset := idx * PSQTBuckets
	for b := 0; b < PSQTBuckets; b++ {
		acc.PSQTAccumulation[perspective][b] -= psqtWeights[psqtOffset+b]
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
