/*
NAME
  block.go

DESCRIPTION
  block.go defines the block grid geometry and per-block motion data
  shared between hierarchical motion estimation (package hme) and motion
  compensation (package mc), so neither package needs to depend on the
  other.

AUTHOR
  Digital Subband Video contributors
*/

// Package block defines DSV-1's block grid and motion vector types.
package block

// Mode is a block's coding mode.
type Mode uint8

const (
	ModeInter Mode = iota // whole block predicted from the reference
	ModeIntra             // some or all of the block is intra-coded
)

// Sub-block intra masks, one bit per quadrant, set when that quadrant of
// an intra-mode block is actually intra (vs. falling back to a direct
// copy from the reference at zero motion).
const (
	MaskIntra00 = 1 << iota // top left
	MaskIntra01             // top right
	MaskIntra10             // bottom left
	MaskIntra11             // bottom right
	MaskAllIntra = MaskIntra00 | MaskIntra01 | MaskIntra10 | MaskIntra11
)

// MV is one block's motion vector and coding decision. X/Y are in
// half-pel units on luma (matching DSV-1's motion vector precision);
// chroma motion is derived by shifting X/Y down by the format's
// subsampling shifts.
type MV struct {
	X, Y        int16
	Mode        Mode
	SubMask     uint8
	LowVariance bool // block had little luma variance in the source
	LowTexture  bool // block had little high-frequency detail
	HighDetail  bool // block had a lot of high-frequency detail
}

// Equal reports whether two vectors carry the same displacement,
// replacing the C reference's union-punning comparison of the raw
// int32 with an explicit field comparison.
func (mv MV) Equal(other MV) bool {
	return mv.X == other.X && mv.Y == other.Y
}

// Params is the block grid geometry for one frame: block size in luma
// samples and the resulting grid dimensions.
type Params struct {
	BlockW, BlockH     int
	NBlocksH, NBlocksV int
}

// At returns the MV for block (bx, by) in a row-major vecs slice sized
// NBlocksH*NBlocksV.
func (p Params) At(vecs []MV, bx, by int) *MV {
	return &vecs[by*p.NBlocksH+bx]
}
