/*
NAME
  config.go

DESCRIPTION
  config.go defines the configuration surface for a DSV-1 Encoder: video
  metadata, GOP/pyramid/stability knobs, and the embedded rate-control
  parameters, following the flat-struct-plus-Validate shape of revid's
  own Config.

AUTHOR
  Digital Subband Video contributors
*/

// Package config holds DSV-1 encoder configuration, defaults, and a
// bitrate estimation heuristic.
package config

import (
	"github.com/pkg/errors"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/ratecontrol"
)

// GOPIntra requests an all-intra stream: every frame is coded without a
// reference (DSV_GOP_INTRA).
const GOPIntra = 0

const (
	minBlockSize = 16
	maxBlockSize = 64
	// MaxPyramidLevels bounds the hierarchical motion estimation pyramid
	// depth (DSV_MAX_PYRAMID_LEVELS).
	MaxPyramidLevels = 5
)

// Metadata describes the video stream being encoded: the fields carried
// verbatim into the bitstream's metadata packet (B.2.1).
type Metadata struct {
	Width, Height       int
	Subsamp             frame.Format
	FPSNum, FPSDen       int
	AspectNum, AspectDen int
}

// Encoder is a DSV-1 encoder's full configuration. The zero value is not
// ready to use; start from Default and override individual fields.
type Encoder struct {
	Metadata Metadata

	// GOP is the number of frames between forced intra frames. GOPIntra
	// requests an all-intra stream.
	GOP int

	// PyramidLevels is the hierarchical motion estimation pyramid depth.
	// Zero requests the reference's auto-selection from frame dimensions
	// (dsv_enc's pyramid_levels == 0 branch).
	PyramidLevels int

	// DetectSceneChanges enables average-luma scene-change detection,
	// forcing an intra frame when the jump exceeds SceneChangeDelta.
	DetectSceneChanges bool
	SceneChangeDelta   int

	// IntraPctThresh is the percentage of intra blocks a motion estimation
	// pass can produce before the frame is redone as a full intra frame.
	IntraPctThresh int

	// StableRefresh is the number of P-frames between resets of the
	// per-block stability accumulator that builds the stability map HZCC
	// consults when choosing each block's quantizer.
	StableRefresh int

	RateControl ratecontrol.Params
}

// Default returns an Encoder configured the way dsv_enc_init/dsv_enc_start
// configure a fresh DSV_ENCODER: CRF at 85% quality, a 24-frame GOP,
// auto-selected pyramid depth, and scene-change detection enabled.
func Default(md Metadata) Encoder {
	return Encoder{
		Metadata:           md,
		GOP:                24,
		PyramidLevels:      0,
		DetectSceneChanges: true,
		SceneChangeDelta:   4,
		IntraPctThresh:     50,
		StableRefresh:      14,
		RateControl:        ratecontrol.DefaultParams(),
	}
}

// Validate checks the configuration for the constraints the reference
// asserts on DSV_PARAMS/DSV_META (dsv_params_valid) and fills in
// rate-control framerate fields from Metadata, returning an error
// instead of the reference's DSV_ASSERT/abort.
func (e *Encoder) Validate() error {
	if e.Metadata.Width <= 0 || e.Metadata.Height <= 0 {
		return errors.New("config: width and height must be positive")
	}
	if !e.Metadata.Subsamp.Valid() {
		return errors.New("config: unknown subsampling format")
	}
	if e.Metadata.FPSNum <= 0 || e.Metadata.FPSDen <= 0 {
		return errors.New("config: fps numerator/denominator must be positive")
	}
	if e.GOP < 0 {
		return errors.New("config: GOP must not be negative")
	}
	if e.PyramidLevels < 0 || e.PyramidLevels > MaxPyramidLevels {
		return errors.Errorf("config: pyramid levels must be within [0, %d]", MaxPyramidLevels)
	}
	e.RateControl.FPSNum = e.Metadata.FPSNum
	e.RateControl.FPSDen = e.Metadata.FPSDen
	e.RateControl.DetectSceneChanges = e.DetectSceneChanges
	e.RateControl.SceneChangeDelta = e.SceneChangeDelta
	e.RateControl.IntraPctThresh = e.IntraPctThresh
	return nil
}

// blockSizeForDim picks a block edge length from a frame dimension
// (size4dim): larger frames use larger blocks, down to the floor at
// DSV_MIN_BLOCK_SIZE. The fall-through at dim <= 352 is preserved
// verbatim from the reference.
func blockSizeForDim(dim int) int {
	switch {
	case dim > 1280:
		return maxBlockSize
	case dim > 1024:
		return 48
	case dim > 704:
		return 32
	case dim > 352:
		return 24
	default:
		return minBlockSize
	}
}

// BlockDims returns the luma block width/height for this configuration's
// frame size (size4dim masked down to a multiple of 8, then clamped).
func (e *Encoder) BlockDims() (w, h int) {
	w = blockSizeForDim(e.Metadata.Width) &^ 7
	h = blockSizeForDim(e.Metadata.Height) &^ 7
	if w < minBlockSize {
		w = minBlockSize
	}
	if w > maxBlockSize {
		w = maxBlockSize
	}
	if h < minBlockSize {
		h = minBlockSize
	}
	if h > maxBlockSize {
		h = maxBlockSize
	}
	return w, h
}

// EstimateBitrate is the reference's heuristic (estimate_bitrate): a
// rough bits-per-second guess for a given quality/GOP/resolution/subsamp
// combination, useful for seeding RateControl.Bitrate before the first
// frame when the caller hasn't measured anything yet.
func EstimateBitrate(quality, gop int, md Metadata) uint64 {
	var bpf int
	switch md.Subsamp {
	case frame.Subsamp444:
		bpf = 352 * 288 * 3
	case frame.Subsamp422:
		bpf = 352 * 288 * 2
	case frame.Subsamp420, frame.Subsamp411:
		bpf = 352 * 288 * 3 / 2
	}
	if gop == GOPIntra {
		bpf *= 4
	}
	if md.Width < 320 && md.Height < 240 {
		bpf /= 4
	}
	maxDimRatio := (((md.Width + md.Height) / 2) << 8) / 352
	bpf = bpf * maxDimRatio >> 8

	fps := (md.FPSNum + md.FPSDen/2) / md.FPSDen
	bps := bpf * fps
	return uint64(bps/(26-quality/4)) * 3 / 2
}
