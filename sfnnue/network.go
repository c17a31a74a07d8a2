// NNUE Network loading and evaluation.
// Ported from Stockfish src/nnue/network.h and network.cpp

package sfnnue

import (
	"fmt"
	"io"
	"os"
)

// Network represents one complete NNUE parameter set: a feature transformer
// shared across perspectives plus one subnetwork per material-count bucket.
// Ported from network.h:57-118, collapsed to the single network the source
// spec describes (no Big/Small duality, no FullThreats variant).
type Network struct {
	FeatureTransformer *FeatureTransformer

	LayerStacks [LayerStacks]*NetworkArchitecture

	CurrentFile    string
	NetDescription string

	Initialized bool

	Hash uint32
}

// NewNetwork creates an uninitialized network skeleton ready for Load.
func NewNetwork() *Network {
	net := &Network{
		FeatureTransformer: NewFeatureTransformer(),
	}

	for i := 0; i < LayerStacks; i++ {
		net.LayerStacks[i] = NewNetworkArchitecture()
	}

	net.Hash = net.calculateHash()

	return net
}

// calculateHash calculates the expected hash for this network.
// Ported from network.h:114
func (n *Network) calculateHash() uint32 {
	return n.FeatureTransformer.GetHashValue() ^ n.LayerStacks[0].GetHashValue()
}

// Load loads network parameters from a file.
// Ported from network.cpp:111-137
func (n *Network) Load(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if err := n.LoadFromReader(f); err != nil {
		return err
	}
	n.CurrentFile = filename
	return nil
}

// LoadFromReader loads network parameters from a reader.
func (n *Network) LoadFromReader(r io.Reader) error {
	hashValue, description, err := n.readHeader(r)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	if hashValue != n.Hash {
		return fmt.Errorf("hash mismatch: expected %08x, got %08x", n.Hash, hashValue)
	}

	n.NetDescription = description

	if err := n.readParameters(r); err != nil {
		return fmt.Errorf("failed to read parameters: %w", err)
	}

	n.Initialized = true
	return nil
}

// readHeader reads and validates the network file header.
// Ported from network.cpp:344-358
func (n *Network) readHeader(r io.Reader) (uint32, string, error) {
	version, err := ReadLittleEndian[uint32](r)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read version: %w", err)
	}
	if version != Version {
		return 0, "", fmt.Errorf("version mismatch: expected %08x, got %08x", Version, version)
	}

	hashValue, err := ReadLittleEndian[uint32](r)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read hash: %w", err)
	}

	descSize, err := ReadLittleEndian[uint32](r)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read description size: %w", err)
	}

	descBytes := make([]byte, descSize)
	if _, err := io.ReadFull(r, descBytes); err != nil {
		return 0, "", fmt.Errorf("failed to read description: %w", err)
	}

	return hashValue, string(descBytes), nil
}

// readParameters reads all network parameters.
// Ported from network.cpp:374-390
func (n *Network) readParameters(r io.Reader) error {
	transformerHash, err := ReadLittleEndian[uint32](r)
	if err != nil {
		return fmt.Errorf("failed to read transformer hash: %w", err)
	}
	expectedTransformerHash := n.FeatureTransformer.GetHashValue()
	if transformerHash != expectedTransformerHash {
		return fmt.Errorf("transformer hash mismatch: expected %08x, got %08x",
			expectedTransformerHash, transformerHash)
	}

	if err := n.FeatureTransformer.ReadParameters(r); err != nil {
		return fmt.Errorf("failed to read transformer parameters: %w", err)
	}

	for i := 0; i < LayerStacks; i++ {
		stackHash, err := ReadLittleEndian[uint32](r)
		if err != nil {
			return fmt.Errorf("failed to read layer stack %d hash: %w", i, err)
		}
		expectedStackHash := n.LayerStacks[i].GetHashValue()
		if stackHash != expectedStackHash {
			return fmt.Errorf("layer stack %d hash mismatch: expected %08x, got %08x",
				i, expectedStackHash, stackHash)
		}

		if err := n.LayerStacks[i].ReadParameters(r); err != nil {
			return fmt.Errorf("failed to read layer stack %d: %w", i, err)
		}
	}

	return nil
}

// Evaluate evaluates a position using the network, returning the raw PSQT
// and positional terms (pre-OutputScale, pre-combine) for the given side to
// move and piece count. Callers combine the two with PSQT/positional weights
// (125/131 over 128) before dividing by OutputScale; see CombineScore.
// Ported from network.cpp:172-189
func (n *Network) Evaluate(
	accumulation [2][]int16,
	psqtAccumulation [2][]int32,
	sideToMove int,
	pieceCount int,
) (psqt int32, positional int32) {
	bucket := (pieceCount - 1) / 4
	if bucket < 0 {
		bucket = 0
	} else if bucket >= LayerStacks {
		bucket = LayerStacks - 1
	}

	perspectives := [2]int{sideToMove, 1 - sideToMove}

	halfDims := n.FeatureTransformer.HalfDimensions
	transformedFeatures := make([]uint8, halfDims)

	psqt = n.FeatureTransformer.Transform(
		accumulation,
		psqtAccumulation,
		perspectives,
		bucket,
		transformedFeatures,
	)

	positional = n.LayerStacks[bucket].Propagate(transformedFeatures)

	return psqt, positional
}

// psqtWeight and positionalWeight combine the PSQT and positional output
// streams into a single centipawn estimate, weighted 125/131 over 128.
// Ported from network.cpp:187 (the Big network's output blend).
const (
	psqtWeight       = 125
	positionalWeight = 131
)

// CombineScore blends the raw PSQT and positional outputs of Evaluate into a
// single centipawn score, scaled by OutputScale.
func CombineScore(psqt, positional int32) int {
	return int(psqtWeight*psqt+positionalWeight*positional) / 128 / OutputScale
}

// Evaluator provides a high-level interface for NNUE evaluation, pairing a
// loaded Network with the live accumulator stack and king-bucket refresh
// cache a searcher threads through make/unmake.
type Evaluator struct {
	Network  *Network
	AccStack *AccumulatorStack
	Cache    *AccumulatorCache
}

// NewEvaluator creates a new evaluator from a single network file.
func NewEvaluator(netFile string) (*Evaluator, error) {
	net := NewNetwork()
	if err := net.Load(netFile); err != nil {
		return nil, fmt.Errorf("failed to load network: %w", err)
	}

	return &Evaluator{
		Network:  net,
		AccStack: NewAccumulatorStack(),
		Cache:    NewAccumulatorCache(TransformedFeatureDimensions, net.FeatureTransformer.Biases),
	}, nil
}

// Push saves accumulator state before a move.
func (e *Evaluator) Push() {
	e.AccStack.Push()
}

// Pop restores accumulator state after unmaking a move.
func (e *Evaluator) Pop() {
	e.AccStack.Pop()
}

// Reset resets the accumulator stack and refresh cache to a fresh state.
func (e *Evaluator) Reset() {
	e.AccStack.Reset()
	e.Cache.Clear(e.Network.FeatureTransformer.Biases)
}

// Refresh forces a full recomputation of the current ply's accumulator.
func (e *Evaluator) Refresh() {
	e.AccStack.Current().Reset()
}
