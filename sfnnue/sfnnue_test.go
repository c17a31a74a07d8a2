package sfnnue

import (
	"encoding/binary"
	"os"
	"testing"
)

const netFile = "/Users/maix/apps/go/chessplay/weights/nn-c288c895ea92.nnue"

func TestInspectNetworkHeader(t *testing.T) {
	f, err := os.Open(netFile)
	if err != nil {
		t.Skipf("Skipping %s: %v", netFile, err)
	}
	defer f.Close()

	var version, hash, descSize uint32
	binary.Read(f, binary.LittleEndian, &version)
	binary.Read(f, binary.LittleEndian, &hash)
	binary.Read(f, binary.LittleEndian, &descSize)

	desc := make([]byte, descSize)
	f.Read(desc)

	t.Logf("File: %s", netFile)
	t.Logf("  Version: %08x (expected: %08x)", version, Version)
	t.Logf("  Hash: %08x", hash)
	t.Logf("  Description: %s", string(desc))
}

func TestLoadNetwork(t *testing.T) {
	net := NewNetwork()
	t.Logf("Network expected hash: %08x", net.Hash)

	f, err := os.Open(netFile)
	if err != nil {
		t.Skipf("Skipping test: %v", err)
	}
	defer f.Close()

	if err := net.LoadFromReader(f); err != nil {
		t.Errorf("Failed to load network: %v", err)
		return
	}

	t.Logf("Loaded network: %s", net.NetDescription)
}

// TestForwardIncrementalUpdate verifies that incremental update produces the
// same result as a full refresh for the same feature set.
func TestForwardIncrementalUpdate(t *testing.T) {
	halfDims := 128
	inputDims := 1000 // smaller than the real input dimensions, for test speed
	ft := &FeatureTransformer{
		HalfDimensions:  halfDims,
		InputDimensions: inputDims,
		Biases:          make([]int16, halfDims),
		Weights:         make([]int16, halfDims*inputDims),
		PSQTWeights:     make([]int32, inputDims*PSQTBuckets),
	}

	for i := range ft.Biases {
		ft.Biases[i] = int16(i % 100)
	}
	for i := range ft.Weights {
		ft.Weights[i] = int16((i * 7) % 200)
	}
	for i := range ft.PSQTWeights {
		ft.PSQTWeights[i] = int32((i * 3) % 500)
	}

	prevAcc := NewAccumulator(halfDims)
	currAccIncremental := NewAccumulator(halfDims)
	currAccFull := NewAccumulator(halfDims)

	initialFeatures := []int{10, 50, 100, 200, 500}
	ft.ComputeAccumulator(initialFeatures, prevAcc.Accumulation[0], prevAcc.PSQTAccumulation[0])
	prevAcc.Computed[0] = true
	prevAcc.KingSq[0] = 4 // e1

	// Simulate a move: remove feature 50, add feature 300.
	removed := []int{50}
	added := []int{300}

	ft.ForwardUpdateIncremental(prevAcc, currAccIncremental, removed, added, 0)

	newFeatures := []int{10, 100, 200, 300, 500} // 50 removed, 300 added
	ft.ComputeAccumulator(newFeatures, currAccFull.Accumulation[0], currAccFull.PSQTAccumulation[0])

	for i := 0; i < halfDims; i++ {
		if currAccIncremental.Accumulation[0][i] != currAccFull.Accumulation[0][i] {
			t.Errorf("Mismatch at accumulation[%d]: incremental=%d, full=%d",
				i, currAccIncremental.Accumulation[0][i], currAccFull.Accumulation[0][i])
		}
	}

	for i := 0; i < PSQTBuckets; i++ {
		if currAccIncremental.PSQTAccumulation[0][i] != currAccFull.PSQTAccumulation[0][i] {
			t.Errorf("Mismatch at PSQT[%d]: incremental=%d, full=%d",
				i, currAccIncremental.PSQTAccumulation[0][i], currAccFull.PSQTAccumulation[0][i])
		}
	}
}

// TestBackwardIncrementalUpdate verifies backward update reverses changes correctly
func TestBackwardIncrementalUpdate(t *testing.T) {
	halfDims := 128
	inputDims := 1000
	ft := &FeatureTransformer{
		HalfDimensions:  halfDims,
		InputDimensions: inputDims,
		Biases:          make([]int16, halfDims),
		Weights:         make([]int16, halfDims*inputDims),
		PSQTWeights:     make([]int32, inputDims*PSQTBuckets),
	}

	for i := range ft.Biases {
		ft.Biases[i] = int16(i % 100)
	}
	for i := range ft.Weights {
		ft.Weights[i] = int16((i * 7) % 200)
	}
	for i := range ft.PSQTWeights {
		ft.PSQTWeights[i] = int32((i * 3) % 500)
	}

	originalAcc := NewAccumulator(halfDims)
	laterAcc := NewAccumulator(halfDims)
	recoveredAcc := NewAccumulator(halfDims)

	originalFeatures := []int{10, 50, 100, 200, 500}
	ft.ComputeAccumulator(originalFeatures, originalAcc.Accumulation[0], originalAcc.PSQTAccumulation[0])
	originalAcc.Computed[0] = true

	removed := []int{50}
	added := []int{300}
	ft.ForwardUpdateIncremental(originalAcc, laterAcc, removed, added, 0)
	ft.BackwardUpdateIncremental(laterAcc, recoveredAcc, removed, added, 0)

	for i := 0; i < halfDims; i++ {
		if recoveredAcc.Accumulation[0][i] != originalAcc.Accumulation[0][i] {
			t.Errorf("Mismatch at accumulation[%d]: recovered=%d, original=%d",
				i, recoveredAcc.Accumulation[0][i], originalAcc.Accumulation[0][i])
		}
	}

	for i := 0; i < PSQTBuckets; i++ {
		if recoveredAcc.PSQTAccumulation[0][i] != originalAcc.PSQTAccumulation[0][i] {
			t.Errorf("Mismatch at PSQT[%d]: recovered=%d, original=%d",
				i, recoveredAcc.PSQTAccumulation[0][i], originalAcc.PSQTAccumulation[0][i])
		}
	}
}

// TestAccumulatorStack verifies stack push/pop bookkeeping.
func TestAccumulatorStack(t *testing.T) {
	stack := NewAccumulatorStack()

	if stack.size != 1 {
		t.Errorf("Initial size should be 1, got %d", stack.size)
	}

	stack.Push()
	if stack.size != 2 {
		t.Errorf("After push, size should be 2, got %d", stack.size)
	}

	prev := stack.Previous()
	if prev == nil {
		t.Error("Previous should not be nil after push")
	}

	stack.Pop()
	if stack.size != 1 {
		t.Errorf("After pop, size should be 1, got %d", stack.size)
	}

	prev = stack.Previous()
	if prev != nil {
		t.Error("Previous should be nil when at the bottom of the stack")
	}
}

func TestCombineScore(t *testing.T) {
	// CombineScore should be monotonic in each input with the other held
	// fixed, and exactly zero when both streams are zero.
	if got := CombineScore(0, 0); got != 0 {
		t.Errorf("CombineScore(0, 0) = %d, want 0", got)
	}

	low := CombineScore(100, 100)
	high := CombineScore(1000, 100)
	if high <= low {
		t.Errorf("CombineScore should increase with psqt: got high=%d, low=%d", high, low)
	}
}
