// NNUE network architecture definition.
// Ported from Stockfish src/nnue/nnue_architecture.h

package sfnnue

import (
	"io"

	"github.com/corvusengine/vela/sfnnue/features"
	"github.com/corvusengine/vela/sfnnue/layers"
)

// Network architecture constants (nnue_architecture.h:43-52)
const (
	TransformedFeatureDimensions = 3072
	L2                           = 15
	L3                           = 32

	PSQTBuckets = 8
	LayerStacks = 8
)

// PSQInputDimensions is the HalfKAv2_hm feature-set dimension.
const PSQInputDimensions = features.Dimensions // 22528

// FtHash and LayerHash are fixed validation constants from the parameter
// file contract rather than values recomputed by chaining per-layer hash
// functions: the external format only names these four magic numbers, not
// the bit-level hash-chaining algorithm that produces them upstream.
const (
	FtHash    uint32 = 0x7F234CB8
	LayerHash uint32 = 0x632DEACA
)

// ForwardBuffers holds pre-allocated buffers for the forward pass.
// Avoids allocation per Propagate call.
type ForwardBuffers struct {
	FC0Out    [32]int32 // CeilToMultiple(FC0Outputs, 32)
	AcSqr0Out [64]uint8 // CeilToMultiple(FC0Outputs*2, 32)
	Ac0Out    [32]uint8 // CeilToMultiple(FC0Outputs, 32)
	FC1Out    [32]int32 // CeilToMultiple(FC1Outputs, 32)
	Ac1Out    [32]uint8 // CeilToMultiple(FC1Outputs, 32)
	FC2Out    [32]int32 // CeilToMultiple(1, 32)
}

// NetworkArchitecture represents the neural network structure for one
// material-count bucket.
// Ported from nnue_architecture.h:60-153
type NetworkArchitecture struct {
	FC0Outputs int // L2 + 1
	FC1Outputs int // L3

	FC0    *layers.AffineTransformSparseInput // TransformedFeatureDimensions -> FC0Outputs
	AcSqr0 *layers.SqrClippedReLU             // FC0Outputs
	Ac0    *layers.ClippedReLU                // FC0Outputs
	FC1    *layers.AffineTransform            // FC0Outputs*2 -> FC1Outputs
	Ac1    *layers.ClippedReLU                // FC1Outputs
	FC2    *layers.AffineTransform            // FC1Outputs -> 1

	buffers ForwardBuffers
}

// NewNetworkArchitecture creates one bucket subnetwork.
// Ported from nnue_architecture.h:66-71
func NewNetworkArchitecture() *NetworkArchitecture {
	fc0Out := L2 + 1 // 16
	return &NetworkArchitecture{
		FC0Outputs: fc0Out,
		FC1Outputs: L3,
		FC0:        layers.NewAffineTransformSparseInput(TransformedFeatureDimensions, fc0Out),
		AcSqr0:     layers.NewSqrClippedReLU(fc0Out),
		Ac0:        layers.NewClippedReLU(fc0Out),
		FC1:        layers.NewAffineTransform(fc0Out*2, L3),
		Ac1:        layers.NewClippedReLU(L3),
		FC2:        layers.NewAffineTransform(L3, 1),
	}
}

// GetHashValue returns the expected layer-stack hash for this architecture.
func (n *NetworkArchitecture) GetHashValue() uint32 {
	return LayerHash
}

// ReadParameters reads all layer parameters from a stream.
// Ported from nnue_architecture.h:89-93
func (n *NetworkArchitecture) ReadParameters(r io.Reader) error {
	if err := n.FC0.ReadParameters(r); err != nil {
		return err
	}
	// Ac0 and AcSqr0 have no parameters
	if err := n.FC1.ReadParameters(r); err != nil {
		return err
	}
	// Ac1 has no parameters
	if err := n.FC2.ReadParameters(r); err != nil {
		return err
	}
	return nil
}

// Propagate performs the forward pass through all layers of a bucket.
// Ported from nnue_architecture.h:102-139
func (n *NetworkArchitecture) Propagate(transformedFeatures []uint8) int32 {
	fc0Out := n.buffers.FC0Out[:CeilToMultiple(n.FC0Outputs, 32)]
	acSqr0Out := n.buffers.AcSqr0Out[:CeilToMultiple(n.FC0Outputs*2, 32)]
	ac0Out := n.buffers.Ac0Out[:CeilToMultiple(n.FC0Outputs, 32)]
	fc1Out := n.buffers.FC1Out[:CeilToMultiple(n.FC1Outputs, 32)]
	ac1Out := n.buffers.Ac1Out[:CeilToMultiple(n.FC1Outputs, 32)]
	fc2Out := n.buffers.FC2Out[:CeilToMultiple(1, 32)]

	n.FC0.Propagate(transformedFeatures, fc0Out)
	n.AcSqr0.Propagate(fc0Out, acSqr0Out[:n.FC0Outputs])
	SIMDClippedReLU(fc0Out, ac0Out, WeightScaleBits)

	// Concatenate squared and regular clipped-relu outputs (nnue_architecture.h:127-128)
	copy(acSqr0Out[n.FC0Outputs:], ac0Out[:n.FC0Outputs])

	n.FC1.Propagate(acSqr0Out, fc1Out)
	SIMDClippedReLU(fc1Out, ac1Out, WeightScaleBits)
	n.FC2.Propagate(ac1Out, fc2Out)

	// Forward skip term from fc0_out[FC0Outputs-1] (nnue_architecture.h:133-137)
	fwdOut := fc0Out[n.FC0Outputs-1] * (600 * OutputScale) / (127 * (1 << WeightScaleBits))
	return fc2Out[0] + fwdOut
}

// ExpectedArchHash returns the architecture hash checked against the
// parameter file header.
func ExpectedArchHash() uint32 {
	return FtHash ^ LayerHash
}
