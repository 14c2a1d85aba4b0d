package dsv

import (
	"testing"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/bits"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/block"
)

func TestStableBlocksRoundTrip(t *testing.T) {
	bp := makeGrid(5, 4)
	stable := []uint8{1, 0, 1, 1, 0, 0, 0, 1, 1, 1, 0, 0, 1, 0, 1, 0, 1, 1, 0, 0}

	buf := make([]byte, 1024)
	bw := bits.NewWriter(buf)
	if err := encodeStableBlocks(bw, stable); err != nil {
		t.Fatalf("encodeStableBlocks: %v", err)
	}

	br := bits.NewReader(buf)
	got, err := decodeStableBlocks(br, bp)
	if err != nil {
		t.Fatalf("decodeStableBlocks: %v", err)
	}
	for i := range stable {
		if got[i] != stable[i]&1 {
			t.Errorf("block %d: decoded stable bit = %d, want %d", i, got[i], stable[i]&1)
		}
	}
}

// TestCombineIntraBitOnlyAppliesOnPFrames checks that combineIntraBit never
// sets bit 1 on an intra (hasRef=false) frame, and on a P-frame sets it
// exactly for blocks whose decoded motion mode is intra — matching
// encode_stable_blocks, which never transmits the bit itself.
func TestCombineIntraBitOnlyAppliesOnPFrames(t *testing.T) {
	bp := makeGrid(2, 2)
	vecs := []block.MV{
		{Mode: block.ModeIntra},
		{Mode: block.ModeInter},
		{Mode: block.ModeInter},
		{Mode: block.ModeIntra},
	}
	stable := []uint8{1, 1, 0, 0}

	notRef := combineIntraBit(append([]uint8{}, stable...), vecs, bp, false)
	for i, b := range notRef.Blocks {
		if b&2 != 0 {
			t.Errorf("intra frame: block %d carries intra-origin bit, want none", i)
		}
	}

	onRef := combineIntraBit(append([]uint8{}, stable...), vecs, bp, true)
	want := []uint8{1 | 2, 1, 0, 2}
	for i, b := range onRef.Blocks {
		if b != want[i] {
			t.Errorf("P-frame: block %d = %#x, want %#x", i, b, want[i])
		}
	}
}

func TestStabilityStateRefreshResetsAccumulator(t *testing.T) {
	s := newStabilityState(1, 2)
	moving := []block.MV{{Mode: block.ModeInter, X: 40, Y: 0}}

	// Mirrors how Encoder.PushFrame drives this: one compute per P-frame,
	// then refreshCtr advances.
	s.compute(moving, true)
	s.refreshCtr++
	out := s.compute(moving, true)
	s.refreshCtr++
	if out[0]&1 != 0 {
		t.Fatalf("block with sustained large motion read stable before refresh, bits = %#x", out[0])
	}

	// refreshCtr has now reached refreshLimit; the next compute call
	// resets the accumulator before computing this frame's bits.
	s.compute([]block.MV{{Mode: block.ModeInter}}, true)
	if s.refreshCtr != 0 {
		t.Errorf("refreshCtr = %d, want reset to 0 after hitting refreshLimit", s.refreshCtr)
	}
}
