/*
NAME
  ratecontrol.go

DESCRIPTION
  ratecontrol.go implements DSV-1's CRF/ABR quantizer selection
  (quality2quant), scene-change detection (check_scene_change), and the
  bits-per-frame bookkeeping dsv_enc folds back after every encoded
  frame. State lives on a per-instance Controller rather than the
  reference's DSV_ENCODER fields so independent encoders don't share
  rate-control history.

AUTHOR
  Digital Subband Video contributors
*/

// Package ratecontrol implements DSV-1's CRF/ABR rate control.
package ratecontrol

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Mode selects how a Controller derives each frame's quantizer.
type Mode int

const (
	// CRF holds the quantizer constant at Params.Quality every frame.
	CRF Mode = iota
	// ABR nudges the quantizer frame to frame to track Params.Bitrate.
	ABR
)

// MaxQPBits is the number of bits the bitstream spends on a picture
// packet's quant field.
const MaxQPBits = 11

// MaxQuality is the top of the quality scale quality2quant works in
// (distinct from the quant value actually written to the bitstream).
const MaxQuality = (1 << MaxQPBits) - 1

// bpfResetInterval is the number of frames after which the running
// bits-per-frame average is folded down to avoid unbounded growth.
const bpfResetInterval = 256

// QualityPercent converts a 0-100 percentage to the internal quality
// scale (DSV_QUALITY_PERCENT).
func QualityPercent(pct int) int {
	return MaxQuality * pct / 100
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Params configures a Controller. The zero value is not valid on its
// own for ABR; use DefaultParams as a starting point and override.
type Params struct {
	Mode    Mode
	Quality int // CRF target, and ABR's starting quantizer
	Bitrate uint64 // bits per second, ABR only

	FPSNum, FPSDen int

	MaxQStep         int
	MinQuality       int
	MaxQuality       int
	MinIFrameQuality int
	HighMotionNudge  bool

	IntraPctThresh     int
	DetectSceneChanges bool
	SceneChangeDelta   int
}

// DefaultParams mirrors DSV-1's dsv_enc_init CRF defaults.
func DefaultParams() Params {
	return Params{
		Mode:               CRF,
		Quality:            QualityPercent(85),
		Bitrate:            math.MaxInt32,
		MaxQStep:           MaxQuality * 1 / 200,
		MinQuality:         QualityPercent(1),
		MaxQuality:         QualityPercent(95),
		MinIFrameQuality:   QualityPercent(5),
		HighMotionNudge:    true,
		IntraPctThresh:     50,
		DetectSceneChanges: true,
		SceneChangeDelta:   4,
	}
}

// Controller tracks the rate-control state that must survive across an
// encoder's frames: the running quant estimate, the bits-per-frame EMA,
// the P-frame over/under-budget history, and the previous frame's
// average luma for scene-change detection.
type Controller struct {
	p Params

	rcQuant      int
	avgPFrameQ   int
	totalPFrameQ int
	bpfResetN    int

	bpfTotal uint64
	bpfAvg   uint64

	lastPFrameOver bool
	backIntoRange  bool

	prevAvgLuma int
}

// New creates a Controller, seeding the running quant estimate the way
// dsv_enc_start does.
func New(p Params) *Controller {
	c := &Controller{p: p}
	if p.Mode != CRF {
		c.rcQuant = clamp(p.Quality, 0, MaxQuality)
		c.avgPFrameQ = c.rcQuant * 4 / 5
	}
	return c
}

// neededBPF computes the target bytes-per-frame from the configured
// bitrate and framerate. The <<5/>>3 keeps the division in the same
// Q5 fixed point the reference uses so typical framerates don't lose
// all their precision to integer truncation.
func (c *Controller) neededBPF() int {
	fpsDen := c.p.FPSDen
	if fpsDen == 0 {
		fpsDen = 1
	}
	fps := (c.p.FPSNum << 5) / fpsDen
	if fps == 0 {
		fps = 1
	}
	return int((c.p.Bitrate << 5) / uint64(fps) >> 3)
}

// SelectQuant picks the quant value for the next frame (quality2quant):
// isP reports whether the frame has a reference, forcedIntra reports
// whether a scene change or too-much-intra detection forced this frame
// to intra despite otherwise having a reference available.
func (c *Controller) SelectQuant(isP, forcedIntra bool) int {
	q := c.rcQuant
	if c.p.Mode != CRF {
		needed := c.neededBPF()
		bpf := int(c.bpfAvg)
		if bpf == 0 {
			bpf = needed
		}
		dir := 1
		if bpf-needed > 0 {
			dir = -1
		}
		delta := 0
		if needed != 0 {
			delta = (absInt(bpf-needed) << 9) / needed
		}
		if dir == 1 {
			delta *= 2
		}

		nudged := false
		if c.p.HighMotionNudge {
			switch {
			case isP && c.lastPFrameOver:
				delta++
				delta *= 2
				dir = -1
				nudged = true
			case isP && c.backIntoRange:
				delta++
				delta *= 2
				dir = 1
				nudged = true
			case !isP && c.backIntoRange:
				delta++
				delta *= 2
				dir = 1
				nudged = true
			}
		}
		delta = (q * delta) >> 9

		maxQStep := clamp(c.p.MaxQStep, 1, MaxQuality)
		if nudged {
			if delta > maxQStep*16 {
				delta = maxQStep * 16
			}
		} else if delta > maxQStep {
			delta = maxQStep
		}
		delta *= dir
		q += delta

		lowP := clamp(c.avgPFrameQ-QualityPercent(4), c.p.MinQuality, c.p.MaxQuality)
		minQ := c.p.MinIFrameQuality
		if isP {
			minQ = lowP
		}
		if forcedIntra {
			switch {
			case q < QualityPercent(60):
				q += QualityPercent(15)
			case q < QualityPercent(70):
				q += QualityPercent(8)
			case q < QualityPercent(75):
				q += QualityPercent(3)
			}
			q = clamp(q, 0, c.p.MaxQuality-QualityPercent(5))
		}
		q = clamp(q, minQ, c.p.MaxQuality)
		q = clamp(q, 0, MaxQuality)
		c.rcQuant = q
	} else {
		q = c.p.Quality
		c.rcQuant = q
	}
	return MaxQuality - ((MaxQuality-5)*q)/MaxQuality
}

// CheckSceneChange reports whether avgLuma (the smallest pyramid
// level's average luma) differs enough from the previous frame's to
// force an intra frame, and records avgLuma for the next call. Callers
// should only invoke this when Params.DetectSceneChanges is set, to
// match the reference's enc->do_scd gate at the call site.
func (c *Controller) CheckSceneChange(avgLuma int) bool {
	changed := absInt(c.prevAvgLuma-avgLuma) > c.p.SceneChangeDelta
	c.prevAvgLuma = avgLuma
	return changed
}

// TooMuchIntra reports whether a motion-estimation pass's intra block
// percentage is high enough to fall back to a full intra frame.
func (c *Controller) TooMuchIntra(intraPct int) bool {
	return intraPct > c.p.IntraPctThresh
}

// UpdateStats folds one encoded frame's output size and quant back
// into the ABR bookkeeping (the tail of dsv_enc). It is a no-op in CRF
// mode, matching the reference's rc_mode guard.
func (c *Controller) UpdateStats(outputBytes int, isP bool, quant int) {
	if c.p.Mode == CRF {
		return
	}
	c.bpfTotal += uint64(outputBytes)
	c.bpfResetN++

	if isP {
		c.totalPFrameQ += quant
		c.avgPFrameQ = c.totalPFrameQ / c.bpfResetN

		needed := c.neededBPF()
		wentUnder := outputBytes < (needed*3)/4
		neededLowWater := (needed * 7) / 8
		wentOver := outputBytes > neededLowWater
		c.backIntoRange = c.lastPFrameOver && wentUnder
		c.lastPFrameOver = wentOver
	} else {
		c.lastPFrameOver = false
		c.backIntoRange = false
	}

	c.bpfAvg = uint64(floats.Round(float64(c.bpfTotal)/float64(c.bpfResetN), 0))
	if c.bpfResetN >= bpfResetInterval {
		c.bpfTotal = c.bpfAvg
		c.totalPFrameQ /= c.bpfResetN
		c.bpfResetN = 1
	}
}
