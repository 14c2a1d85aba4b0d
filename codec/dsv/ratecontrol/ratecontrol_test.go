package ratecontrol

import "testing"

// TestSelectQuantCRFIsConstant checks that CRF mode always returns the
// same derived quant value regardless of frame type or stats fed back.
func TestSelectQuantCRFIsConstant(t *testing.T) {
	p := DefaultParams()
	c := New(p)

	want := MaxQuality - ((MaxQuality-5)*p.Quality)/MaxQuality
	for i := 0; i < 5; i++ {
		isP := i%2 == 0
		got := c.SelectQuant(isP, false)
		if got != want {
			t.Fatalf("frame %d: got quant %d, want %d", i, got, want)
		}
		c.UpdateStats(1000, isP, got)
	}
}

// TestSelectQuantABRReactsToOverBudgetFrames checks that feeding
// consistently over-budget P-frame sizes back into the controller
// eventually raises the quant (lowers quality) to compensate.
func TestSelectQuantABRReactsToOverBudgetFrames(t *testing.T) {
	p := DefaultParams()
	p.Mode = ABR
	p.Bitrate = 200_000
	p.FPSNum, p.FPSDen = 25, 1
	c := New(p)

	first := c.SelectQuant(true, false)
	c.UpdateStats(1_000_000, true, first) // wildly over budget

	for i := 0; i < 10; i++ {
		q := c.SelectQuant(true, false)
		c.UpdateStats(1_000_000, true, q)
	}
	last := c.SelectQuant(true, false)

	if last <= first {
		t.Errorf("expected quant to increase under sustained overshoot: first=%d last=%d", first, last)
	}
}

// TestCheckSceneChangeDetectsLumaJump checks the threshold crossing
// behavior of scene-change detection.
func TestCheckSceneChangeDetectsLumaJump(t *testing.T) {
	p := DefaultParams()
	c := New(p)

	c.CheckSceneChange(10) // seeds prevAvgLuma; first call's own verdict is never consulted in practice
	if changed := c.CheckSceneChange(12); changed {
		t.Errorf("small luma delta should not trigger a scene change, got true")
	}
	if changed := c.CheckSceneChange(200); !changed {
		t.Error("large luma jump should trigger a scene change")
	}
}

// TestTooMuchIntraThreshold exercises the intra-percentage fallback.
func TestTooMuchIntraThreshold(t *testing.T) {
	p := DefaultParams()
	p.IntraPctThresh = 50
	c := New(p)

	if c.TooMuchIntra(40) {
		t.Error("40%% should be under the default 50%% threshold")
	}
	if !c.TooMuchIntra(60) {
		t.Error("60%% should exceed the default 50%% threshold")
	}
}

// TestUpdateStatsNoopInCRF checks that CRF mode never accumulates ABR
// bookkeeping state.
func TestUpdateStatsNoopInCRF(t *testing.T) {
	c := New(DefaultParams())
	c.UpdateStats(123456, true, 900)
	if c.bpfTotal != 0 || c.bpfResetN != 0 {
		t.Errorf("CRF UpdateStats should be a no-op, got bpfTotal=%d bpfResetN=%d", c.bpfTotal, c.bpfResetN)
	}
}
