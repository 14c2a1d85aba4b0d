package hme

import (
	"testing"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/block"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
)

func fillPlane(p *frame.Plane, f func(x, y int) byte) {
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			p.Set(x, y, f(x, y))
		}
	}
}

func params16x16(w, h int) Params {
	return Params{
		BlockW: 16, BlockH: 16,
		NBlocksH: (w + 15) / 16, NBlocksV: (h + 15) / 16,
		Subsamp: frame.Subsamp420,
	}
}

// TestEstimateZeroMotionIdenticalFrames checks that an estimation between
// two identical frames yields all-zero motion vectors: the full-pel
// search always lands on (0,0) when the reference matches exactly.
func TestEstimateZeroMotionIdenticalFrames(t *testing.T) {
	w, h := 64, 64
	src := frame.New(frame.Subsamp420, w, h, true)
	fillPlane(&src.Planes[0], func(x, y int) byte { return byte((x*7 + y*3) & 0xFF) })
	fillPlane(&src.Planes[1], func(x, y int) byte { return 128 })
	fillPlane(&src.Planes[2], func(x, y int) byte { return 128 })
	frame.Extend(src)

	ref := frame.New(frame.Subsamp420, w, h, true)
	frame.Copy(ref, src)

	p := params16x16(w, h)

	var est Estimator
	res := est.Estimate(src, ref, p, 2)

	if len(res.Vectors) != p.NBlocksH*p.NBlocksV {
		t.Fatalf("got %d vectors, want %d", len(res.Vectors), p.NBlocksH*p.NBlocksV)
	}
	for idx, mv := range res.Vectors {
		if mv.Mode == block.ModeInter && (mv.X != 0 || mv.Y != 0) {
			t.Errorf("block %d: got motion (%d,%d), want (0,0)", idx, mv.X, mv.Y)
		}
	}
}

// TestEstimatePyramidLevelsPopulated checks that every pyramid level gets
// a motion field sized to the base block grid.
func TestEstimatePyramidLevelsPopulated(t *testing.T) {
	w, h := 64, 64
	src := frame.New(frame.Subsamp444, w, h, true)
	fillPlane(&src.Planes[0], func(x, y int) byte { return byte((x + y) & 0xFF) })
	frame.Extend(src)

	ref := frame.New(frame.Subsamp444, w, h, true)
	frame.Copy(ref, src)

	p := params16x16(w, h)
	p.Subsamp = frame.Subsamp444

	var est Estimator
	est.Estimate(src, ref, p, 3)

	if len(est.mvf) != 4 {
		t.Fatalf("got %d pyramid levels, want 4", len(est.mvf))
	}
	for lvl, mf := range est.mvf {
		if len(mf) != p.NBlocksH*p.NBlocksV {
			t.Errorf("level %d: got %d vectors, want %d", lvl, len(mf), p.NBlocksH*p.NBlocksV)
		}
	}
}

// TestEstimateFlatBlocksPreferIntra exercises the intra decision chain:
// a source block with a strong flat-region mismatch against the
// reference should be eligible for intra coding.
func TestEstimateFlatBlocksPreferIntra(t *testing.T) {
	w, h := 32, 32
	src := frame.New(frame.Subsamp444, w, h, true)
	fillPlane(&src.Planes[0], func(x, y int) byte { return 64 })
	frame.Extend(src)

	ref := frame.New(frame.Subsamp444, w, h, true)
	fillPlane(&ref.Planes[0], func(x, y int) byte { return byte((x*37 + y*59) & 0xFF) })
	frame.Extend(ref)

	p := params16x16(w, h)
	p.Subsamp = frame.Subsamp444

	var est Estimator
	res := est.Estimate(src, ref, p, 1)

	hasIntra := false
	for _, mv := range res.Vectors {
		if mv.Mode == block.ModeIntra {
			hasIntra = true
		}
	}
	if !hasIntra {
		t.Error("expected at least one intra block for a flat source against a noisy reference")
	}
}
