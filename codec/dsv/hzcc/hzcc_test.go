package hzcc

import (
	"testing"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/bits"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/sbt"
)

func TestQuantFloorsAtMinQuant(t *testing.T) {
	if got := Quant(1, false, 0); got != MinQuant {
		t.Errorf("Quant(1,false,0) = %d, want %d", got, MinQuant)
	}
}

func TestQuantLevelAdjustment(t *testing.T) {
	base := Quant(300, false, 0)
	lvl1 := Quant(300, false, 1)
	lvl2 := Quant(300, false, 2)
	if lvl1 >= base {
		t.Errorf("level 1 quantizer %d should relax below level 0 %d", lvl1, base)
	}
	if lvl2 <= base {
		t.Errorf("level 2 quantizer %d should tighten above level 0 %d", lvl2, base)
	}
}

func TestLb2(t *testing.T) {
	cases := []struct {
		n    uint32
		want int
	}{
		{1, 0}, {2, 1}, {3, 2}, {4, 2}, {5, 3}, {256, 8},
	}
	for _, c := range cases {
		if got := Lb2(c.n); got != c.want {
			t.Errorf("Lb2(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestHighFreqQPClamped(t *testing.T) {
	if got := HighFreqQP(1, false); got < 1 || got > 24 {
		t.Errorf("HighFreqQP out of clamp range: %d", got)
	}
}

// TestEncodeDecodeRoundTrip runs a full subband-transformed plane through
// EncodePlane then DecodePlane and checks the decoded coefficients match
// exactly what EncodePlane left behind in src (both sides apply the same
// dequant functions, so they must agree exactly; the lossy step is the
// quantization itself, not the entropy coding around it).
func TestEncodeDecodeRoundTrip(t *testing.T) {
	w, h := 32, 32
	raw := make([]byte, w*h)
	for i := range raw {
		raw[i] = byte((i * 13) % 256)
	}
	coefs := make([]sbt.Coef, w*h)
	sbt.PlaneToCoefs(coefs, raw, w, w, h)

	var tr sbt.Transform
	tr.Forward(coefs, w, h, false)

	for _, tc := range []struct {
		name     string
		isP      bool
		isChroma bool
		q        int
	}{
		{"I-luma-q64", false, false, 64},
		{"P-luma-q64", true, false, 64},
		{"I-chroma-q1000", false, true, 1000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := append([]sbt.Coef(nil), coefs...)
			buf := make([]byte, w*h*4+64)
			bw := bits.NewWriter(buf)

			stab := StableBlocks{NBlocksH: 4, NBlocksV: 4}
			params := Params{IsP: tc.isP, IsChroma: tc.isChroma, Stable: stab}

			if err := EncodePlane(bw, src, w, h, tc.q, params); err != nil {
				t.Fatalf("EncodePlane: %v", err)
			}

			dst := make([]sbt.Coef, w*h)
			if err := DecodePlane(buf, dst, w, h, tc.q, params); err != nil {
				t.Fatalf("DecodePlane: %v", err)
			}

			for i := range src {
				if dst[i] != src[i] {
					t.Fatalf("coefficient %d: got %d, want %d", i, dst[i], src[i])
				}
			}
		})
	}
}
