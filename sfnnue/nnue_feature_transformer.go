// NNUE Feature Transformer.
// Ported from Stockfish src/nnue/nnue_feature_transformer.h

package sfnnue

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/corvusengine/vela/sfnnue/features"
)

// FeatureTransformer converts active HalfKAv2_hm features into the packed
// 8-bit activation buffer consumed by a bucket subnetwork.
// Ported from nnue_feature_transformer.h:81-435
type FeatureTransformer struct {
	HalfDimensions  int
	InputDimensions int // PSQ feature dimensions

	Biases      []int16   // len HalfDimensions
	Weights     []int16   // len HalfDimensions * InputDimensions
	PSQTWeights []int32   // len PSQTBuckets * InputDimensions
}

// NewFeatureTransformer creates a feature transformer sized for the
// architecture's single network.
func NewFeatureTransformer() *FeatureTransformer {
	halfDims := TransformedFeatureDimensions
	return &FeatureTransformer{
		HalfDimensions:  halfDims,
		InputDimensions: features.Dimensions,
		Biases:          make([]int16, halfDims),
		Weights:         make([]int16, halfDims*features.Dimensions),
		PSQTWeights:     make([]int32, features.Dimensions*PSQTBuckets),
	}
}

// GetHashValue returns the expected feature-transformer hash.
// Ported from nnue_feature_transformer.h:126-129
func (ft *FeatureTransformer) GetHashValue() uint32 {
	return FtHash
}

// ReadParameters reads transformer parameters from a stream.
// Ported from nnue_feature_transformer.h:157-192
func (ft *FeatureTransformer) ReadParameters(r io.Reader) error {
	if err := ReadLEB128(r, ft.Biases); err != nil {
		return fmt.Errorf("failed to read biases: %w", err)
	}
	if err := ReadLEB128(r, ft.Weights); err != nil {
		return fmt.Errorf("failed to read weights: %w", err)
	}
	if err := ReadLEB128(r, ft.PSQTWeights); err != nil {
		return fmt.Errorf("failed to read PSQT weights: %w", err)
	}

	// Permute 16-byte (8 x int16) blocks for the SIMD pack/unzip the
	// feature transform expects (nnue_feature_transformer.h:186).
	ft.permuteWeights()

	// Scale by x2 so later clipping against [0, 254] behaves correctly
	// (nnue_feature_transformer.h:188-189).
	ft.scaleWeights(true)

	return nil
}

// permuteWeights reorders weights in 16-byte blocks for SIMD.
// Ported from nnue_feature_transformer.h:131-137
func (ft *FeatureTransformer) permuteWeights() {
	order := []int{0, 2, 1, 3, 4, 6, 5, 7}
	ft.permuteInt16Slice(ft.Weights, order)
	ft.permuteInt16Slice(ft.Biases, order)
}

func (ft *FeatureTransformer) permuteInt16Slice(data []int16, order []int) {
	blockSize := len(order)
	temp := make([]int16, blockSize)
	for start := 0; start+blockSize <= len(data); start += blockSize {
		for i, o := range order {
			temp[i] = data[start+o]
		}
		copy(data[start:start+blockSize], temp)
	}
}

// scaleWeights scales weights by 2 (or back down) for proper clipping behavior.
// Ported from nnue_feature_transformer.h:147-152
func (ft *FeatureTransformer) scaleWeights(up bool) {
	if up {
		for i := range ft.Weights {
			ft.Weights[i] *= 2
		}
		for i := range ft.Biases {
			ft.Biases[i] *= 2
		}
	} else {
		for i := range ft.Weights {
			ft.Weights[i] /= 2
		}
		for i := range ft.Biases {
			ft.Biases[i] /= 2
		}
	}
}

// Transform converts accumulated features to the packed u8 transformer
// output, and returns the PSQT term for the given bucket.
// Ported from nnue_feature_transformer.h:243-424
func (ft *FeatureTransformer) Transform(
	accumulation [2][]int16,
	psqtAccumulation [2][]int32,
	perspectives [2]int, // [0]=stm, [1]=nstm
	bucket int,
	output []uint8,
) int32 {
	psqt := (psqtAccumulation[perspectives[0]][bucket] - psqtAccumulation[perspectives[1]][bucket]) / 2

	halfDims := ft.HalfDimensions
	halfHalfDims := halfDims / 2
	const maxVal = 254 // clamp each lane to [0, 127*2]

	for p := 0; p < 2; p++ {
		offset := halfHalfDims * p
		acc := accumulation[perspectives[p]]
		SIMDTransformClampMul(
			acc[:halfHalfDims],
			acc[halfHalfDims:halfDims],
			output[offset:offset+halfHalfDims],
			maxVal,
		)
	}

	return psqt
}

// ComputeAccumulator computes the full accumulator from scratch.
func (ft *FeatureTransformer) ComputeAccumulator(
	activeIndices []int,
	accumulation []int16,
	psqtAccumulation []int32,
) {
	SIMDCopyInt16(accumulation, ft.Biases)

	for i := range psqtAccumulation {
		psqtAccumulation[i] = 0
	}

	for _, idx := range activeIndices {
		if idx >= 0 && idx < ft.InputDimensions {
			offset := idx * ft.HalfDimensions
			SIMDAddInt16Offset(accumulation, ft.Weights, offset, ft.HalfDimensions)

			psqtOffset := idx * PSQTBuckets
			for b := 0; b < PSQTBuckets; b++ {
				psqtAccumulation[b] += ft.PSQTWeights[psqtOffset+b]
			}
		}
	}
}

// UpdateAccumulator incrementally updates the accumulator (in-place).
func (ft *FeatureTransformer) UpdateAccumulator(
	removedIndices, addedIndices []int,
	accumulation []int16,
	psqtAccumulation []int32,
) {
	linesPerFeature := (ft.HalfDimensions * 2) / CacheLineSize
	if linesPerFeature < 1 {
		linesPerFeature = 1
	}

	for i, idx := range removedIndices {
		if idx >= 0 && idx < ft.InputDimensions {
			offset := idx * ft.HalfDimensions
			if i+1 < len(removedIndices) {
				if nextIdx := removedIndices[i+1]; nextIdx >= 0 && nextIdx < ft.InputDimensions {
					PrefetchLines(unsafe.Pointer(&ft.Weights[nextIdx*ft.HalfDimensions]), linesPerFeature)
				}
			}
			SIMDSubInt16Offset(accumulation, ft.Weights, offset, ft.HalfDimensions)

			psqtOffset := idx * PSQTBuckets
			for b := 0; b < PSQTBuckets; b++ {
				psqtAccumulation[b] -= ft.PSQTWeights[psqtOffset+b]
			}
		}
	}

	for i, idx := range addedIndices {
		if idx >= 0 && idx < ft.InputDimensions {
			offset := idx * ft.HalfDimensions
			if i+1 < len(addedIndices) {
				if nextIdx := addedIndices[i+1]; nextIdx >= 0 && nextIdx < ft.InputDimensions {
					PrefetchLines(unsafe.Pointer(&ft.Weights[nextIdx*ft.HalfDimensions]), linesPerFeature)
				}
			}
			SIMDAddInt16Offset(accumulation, ft.Weights, offset, ft.HalfDimensions)

			psqtOffset := idx * PSQTBuckets
			for b := 0; b < PSQTBuckets; b++ {
				psqtAccumulation[b] += ft.PSQTWeights[psqtOffset+b]
			}
		}
	}
}

// ForwardUpdateIncremental derives currAcc from prevAcc by applying the
// delta feature indices for one ply advance.
// Ported from Stockfish nnue_accumulator.cpp:204-257
func (ft *FeatureTransformer) ForwardUpdateIncremental(
	prevAcc *Accumulator,
	currAcc *Accumulator,
	removedIndices, addedIndices []int,
	perspective int,
) {
	SIMDCopyInt16(currAcc.Accumulation[perspective], prevAcc.Accumulation[perspective])
	copy(currAcc.PSQTAccumulation[perspective], prevAcc.PSQTAccumulation[perspective])

	ft.UpdateAccumulator(removedIndices, addedIndices,
		currAcc.Accumulation[perspective], currAcc.PSQTAccumulation[perspective])

	currAcc.Computed[perspective] = true
	currAcc.KingSq[perspective] = prevAcc.KingSq[perspective]
}

// BackwardUpdateIncremental derives currAcc from a later, already-computed
// accumulator by reversing its delta (adds removed, removes added).
func (ft *FeatureTransformer) BackwardUpdateIncremental(
	laterAcc *Accumulator,
	currAcc *Accumulator,
	removedIndices, addedIndices []int,
	perspective int,
) {
	SIMDCopyInt16(currAcc.Accumulation[perspective], laterAcc.Accumulation[perspective])
	copy(currAcc.PSQTAccumulation[perspective], laterAcc.PSQTAccumulation[perspective])

	ft.UpdateAccumulator(addedIndices, removedIndices, // swapped
		currAcc.Accumulation[perspective], currAcc.PSQTAccumulation[perspective])

	currAcc.Computed[perspective] = true
	currAcc.KingSq[perspective] = laterAcc.KingSq[perspective]
}
