package sbt

import "testing"

// TestHaarExactSingleLevel is spec.md Testable Property 6 in its purest
// form: a single-level Haar decomposition (no LL scaling applied, since
// that only engages for I-frames or levels beyond the finest) is an exact
// integer transform, so forward+inverse with no quantization in between
// must reconstruct the source exactly.
func TestHaarExactSingleLevel(t *testing.T) {
	w, h := 2, 2
	src := []Coef{10, -20, 30, -5}
	data := append([]Coef(nil), src...)

	var tr Transform
	tr.Forward(data, w, h, false)
	tr.Inverse(data, w, h, false, false, nil, nil)

	for i := range src {
		if data[i] != src[i] {
			t.Fatalf("sample %d: got %d, want %d (full: %v)", i, data[i], src[i], data)
		}
	}
}

// TestSBTRoundTripBounded covers Scenario E (a diagonal ramp run through a
// full multi-level decomposition). Coarser Haar iterations apply the
// FWD_SCALE/INV_SCALE pair, and an I-frame's finest iteration uses the
// B4T filter with its own rounding; neither is an exact integer inverse
// (both are part of the lossy transform, independent of HZCC
// quantization), so this checks the reconstruction stays close rather
// than exact.
func TestSBTRoundTripBounded(t *testing.T) {
	cases := []struct {
		w, h    int
		isIntra bool
	}{
		{16, 16, false},
		{16, 16, true},
		{128, 128, false},
		{128, 128, true},
		{33, 17, true},
	}
	for _, c := range cases {
		n := c.w * c.h
		src := make([]Coef, n)
		for y := 0; y < c.h; y++ {
			for x := 0; x < c.w; x++ {
				src[y*c.w+x] = Coef((x+y)%256) - 128
			}
		}
		data := append([]Coef(nil), src...)

		var tr Transform
		tr.Forward(data, c.w, c.h, c.isIntra)
		tr.Inverse(data, c.w, c.h, c.isIntra, false, nil, nil)

		var maxErr Coef
		for i := range src {
			e := data[i] - src[i]
			if e < 0 {
				e = -e
			}
			if e > maxErr {
				maxErr = e
			}
		}
		if maxErr > 4 {
			t.Errorf("%dx%d isIntra=%v: max reconstruction error %d, want <= 4", c.w, c.h, c.isIntra, maxErr)
		}
	}
}

func TestNumLevels(t *testing.T) {
	cases := []struct {
		w, h, want int
	}{
		{1, 1, 0},
		{2, 2, 1},
		{4, 4, 2},
		{8, 8, 3},
		{16, 16, 4},
		{128, 128, 7},
		{17, 9, 5},
	}
	for _, c := range cases {
		if got := NumLevels(c.w, c.h); got != c.want {
			t.Errorf("NumLevels(%d,%d) = %d, want %d", c.w, c.h, got, c.want)
		}
	}
}

// TestInverseSmoothingStaysBounded runs an I-frame inverse with the
// adaptive smoothing filter enabled (every level quantized at 64) and
// checks that every reconstructed sample stays within +/-512.
func TestInverseSmoothingStaysBounded(t *testing.T) {
	w, h := 16, 16
	src := make([]Coef, w*h)
	for i := range src {
		src[i] = Coef((i*37)%256) - 128
	}

	quantAt := func(level int) int { return 64 }
	highFreq := func(qp int) int { return 6 }

	dataSmooth := append([]Coef(nil), src...)
	var tr Transform
	tr.Forward(dataSmooth, w, h, true)
	smoothedCoefs := append([]Coef(nil), dataSmooth...)
	tr.Inverse(dataSmooth, w, h, true, true, quantAt, highFreq)

	dataPlain := append([]Coef(nil), smoothedCoefs...)
	tr.Inverse(dataPlain, w, h, true, false, nil, nil)

	for i := range dataSmooth {
		if dataSmooth[i] < -512 || dataSmooth[i] > 512 {
			t.Fatalf("smoothed sample %d wildly out of range: %d", i, dataSmooth[i])
		}
	}
}
