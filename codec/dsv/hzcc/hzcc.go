/*
NAME
  hzcc.go

DESCRIPTION
  hzcc.go implements DSV-1's Hierarchical Zero Coefficient Coding: the
  entropy stage that quantizes a subband-transformed plane and packs its
  nonzero coefficients as a run-length/value stream over package bits.

  HZCC only ever addresses the finest MaxCodingLevel transform iterations
  by subband position (package sbt recurses deeper for the full dyadic
  decomposition); everything coarser sits inside the flat LL region this
  package quantizes uniformly at level 0.

AUTHOR
  Digital Subband Video contributors
*/

// Package hzcc implements DSV-1's subband entropy coder.
package hzcc

import (
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/bits"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/sbt"
)

// EOPSymbol marks the end of a coded plane, for corruption detection on
// decode.
const EOPSymbol = 0x55

// ChromaLimit caps the lower-frequency quantizer on chroma planes, so
// chroma detail isn't quantized as aggressively as a raw luma-derived q
// would otherwise allow.
const ChromaLimit = 512

// MinQuant floors every lower-frequency quantizer.
const MinQuant = 16

// nSubbands is LL, LH, HL, HH.
const nSubbands = 4

// BlockShift is the fixed-point shift DSV-1 uses to map a subband
// position to a stability-map block index without floating point.
const BlockShift = 14

// Highest-frequency QP offsets, subtracted from dsv_lb2(qp) before
// clamping to derive the exponential quantizer at the finest level.
const (
	QPIntra = 3
	QPInter = 1
)

// Lb2 returns ceil(log2(n)), matching dsv_lb2.
func Lb2(n uint32) int {
	i, log2 := uint32(1), 0
	for i < n {
		i <<= 1
		log2++
	}
	return log2
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// subbandOffset locates subband sub (0=LL,1=LH,2=HL,3=HH) of transform
// iteration `level` within a w x h coefficient plane addressed the way
// sbt lays its iterations out (finest iteration occupies the
// highest-frequency quadrant nearest the origin's complement).
func subbandOffset(level, sub, w, h int) int {
	offset := 0
	if sub&1 != 0 {
		offset += roundShift(w, sbt.MaxCodingLevel-level)
	}
	if sub&2 != 0 {
		offset += roundShift(h, sbt.MaxCodingLevel-level) * w
	}
	return offset
}

// dimAt returns a subband's dimension along one axis at coding level.
func dimAt(level, v int) int {
	return roundShift(v, sbt.MaxCodingLevel-level)
}

func roundShift(v, sh int) int {
	if sh <= 0 {
		return v
	}
	return (v + (1 << uint(sh-1))) >> uint(sh)
}

// Quant computes the lower-frequency quantizer for a coding level exactly
// as dsv_get_quant: P-frames get a 3/2 boost to compensate for B4T
// producing a different LL signal, level 1 is relaxed by 2/3, level 2 is
// tightened by 3/2, and the result never drops below MinQuant.
func Quant(q int, isP bool, level int) int {
	if isP {
		q = (q * 3) / 2
	}
	switch level {
	case 1:
		q = (q * 2) / 3
	case 2:
		q = (q * 3) / 2
	}
	if q < MinQuant {
		q = MinQuant
	}
	return q
}

// HighFreqQP derives the exponential quantizer used at the finest coding
// level from the lower-frequency quantizer already computed for that
// level, matching get_quant_highest_frequency.
func HighFreqQP(qp int, isP bool) int {
	qp = Lb2(uint32(qp))
	if isP {
		return clampInt(qp-QPInter, 1, 24)
	}
	return clampInt(qp-QPIntra, 1, 24)
}

func fixQuant(q int, isChroma bool) int {
	if isChroma && q > ChromaLimit {
		return ChromaLimit
	}
	return q
}

// tmq4pos attenuates the quantizer for a block the stability map marks
// stable: stable+intra gets the steepest cut (q>>2), stable alone gets
// q>>1, unstable is left untouched.
func tmq4pos(q int, stableIntra uint8) int {
	const (
		isStable = 1
		isIntra  = 2
	)
	if stableIntra&isIntra != 0 {
		return q >> 2
	}
	if stableIntra&isStable != 0 {
		return q >> 1
	}
	return q
}

func quant(v sbt.Coef, q int) int {
	if v == 0 {
		return 0
	}
	qq := int32(q)
	if v < 0 {
		u := (-v) << 1
		if u <= qq {
			return 0
		}
		return -int((u + 1) / (qq << 1))
	}
	u := v << 1
	if u <= qq {
		return 0
	}
	return int((u + 1) / (qq << 1))
}

func quantH(v sbt.Coef, q uint) int {
	if v < 0 {
		return -int((-v) >> q)
	}
	return int(v >> q)
}

func dequant(v, q int) sbt.Coef {
	qq := int32(q)
	vv := int32(v)
	if v < 0 {
		return -((-vv*(qq<<1) + qq) >> 1)
	}
	return (vv*(qq<<1) + qq) >> 1
}

func dequantH(v int, q uint) sbt.Coef {
	return sbt.Coef(v) << q
}

// StableBlocks describes the stability map consulted by the higher-level
// subband quantizer: one byte per block, bit 0 = stable across the GOP,
// bit 1 = its originating block was coded intra.
type StableBlocks struct {
	Blocks           []uint8
	NBlocksH, NBlocksV int
}

func (sb StableBlocks) at(by, bx int) uint8 {
	if sb.Blocks == nil {
		return 0
	}
	return sb.Blocks[by*sb.NBlocksH+bx]
}

// Params carries the per-plane state hzcc needs beyond the coefficient
// buffer itself: whether this is a P-frame (for the quantizer
// compensation and qp_h offset), whether the current plane is chroma
// (for ChromaLimit), and the stability map (for tmq4pos / the
// high-quality-block override at the finest level).
type Params struct {
	IsP      bool
	IsChroma bool
	Stable   StableBlocks
}

// EncodePlane quantizes src in place (so the caller can, e.g., reuse it
// for reference-frame reconstruction) and appends its HZCC-coded form to
// bw. w/h are src's full transform-plane dimensions.
func EncodePlane(bw *bits.Writer, src []sbt.Coef, w, h int, q int, p Params) error {
	bw.Align()
	planeStart := bw.BytePos()
	if err := bw.PutBits(32, 0); err != nil {
		return err
	}

	ll := src[0]
	if err := bw.PutSEG(int32(ll)); err != nil {
		return err
	}

	if err := encodePlaneBody(bw, src, w, h, q, p); err != nil {
		return err
	}
	src[0] = ll

	if err := bw.PutBits(8, EOPSymbol); err != nil {
		return err
	}
	bw.Align()

	planeEnd := bw.BytePos()
	bw.SetBytePos(planeStart)
	if err := bw.PutBits(32, uint32(planeEnd-planeStart)-4); err != nil {
		return err
	}
	bw.SetBytePos(planeEnd)
	return nil
}

// encodePlaneBody writes the run/value stream's length-prefixed body
// (the nruns header plus the coded coefficients), mirroring hzcc_enc.
func encodePlaneBody(bw *bits.Writer, src []sbt.Coef, w, h int, q int, p Params) error {
	bw.Align()
	startp := bw.BytePos()
	if err := bw.PutBits(32, 0); err != nil {
		return err
	}
	bw.Align()

	nruns, err := encodeCoefficients(bw, src, w, h, q, p)
	if err != nil {
		return err
	}

	bw.Align()
	endp := bw.BytePos()
	bw.SetBytePos(startp)
	if err := bw.PutBits(32, nruns); err != nil {
		return err
	}
	bw.SetBytePos(endp)
	return nil
}

func encodeCoefficients(bw *bits.Writer, src []sbt.Coef, w, h int, q int, p Params) (uint32, error) {
	q = fixQuant(q, p.IsChroma)

	run := 0
	nruns := uint32(0)
	storedV := 0

	flush := func(v int) error {
		if err := bw.PutUEG(uint32(run)); err != nil {
			return err
		}
		if storedV != 0 {
			if err := bw.PutNEG(int32(storedV)); err != nil {
				return err
			}
		}
		run = -1
		nruns++
		storedV = v
		return nil
	}

	sw, sh := dimAt(0, w), dimAt(0, h)
	qp := Quant(q, p.IsP, 0)
	src[0] = 0
	srcRow := 0
	for y := 0; y < sh; y++ {
		for x := 0; x < sw; x++ {
			v := quant(src[srcRow+x], qp)
			if v != 0 {
				src[srcRow+x] = dequant(v, qp)
				if err := flush(v); err != nil {
					return 0, err
				}
			} else {
				src[srcRow+x] = 0
			}
			run++
		}
		srcRow += w
	}

	for level := 0; level < sbt.MaxCodingLevel; level++ {
		sw, sh = dimAt(level, w), dimAt(level, h)
		var dbx, dby int
		if sw != 0 {
			dbx = (p.Stable.NBlocksH << BlockShift) / sw
		}
		if sh != 0 {
			dby = (p.Stable.NBlocksV << BlockShift) / sh
		}
		qp = Quant(q, p.IsP, level)

		if level == sbt.MaxCodingLevel-1 {
			qpH := HighFreqQP(qp, p.IsP)
			for s := 1; s < nSubbands; s++ {
				o := subbandOffset(level, s, w, h)
				by := 0
				for y := 0; y < sh; y++ {
					rowOff := o + y*w
					bx := 0
					for x := 0; x < sw; x++ {
						tmq := qp
						if p.Stable.at(by>>BlockShift, bx>>BlockShift) != 0 {
							tmq = qpH
						}
						v := quantH(src[rowOff+x], uint(tmq))
						if v != 0 {
							src[rowOff+x] = dequantH(v, uint(tmq))
							if err := flush(v); err != nil {
								return 0, err
							}
						} else {
							src[rowOff+x] = 0
						}
						run++
						bx += dbx
					}
					by += dby
				}
			}
		} else {
			for s := 1; s < nSubbands; s++ {
				o := subbandOffset(level, s, w, h)
				by := 0
				for y := 0; y < sh; y++ {
					rowOff := o + y*w
					bx := 0
					for x := 0; x < sw; x++ {
						tmq := tmq4pos(qp, p.Stable.at(by>>BlockShift, bx>>BlockShift))
						if tmq < MinQuant {
							tmq = MinQuant
						}
						v := quant(src[rowOff+x], tmq)
						if v != 0 {
							src[rowOff+x] = dequant(v, tmq)
							if err := flush(v); err != nil {
								return 0, err
							}
						} else {
							src[rowOff+x] = 0
						}
						run++
						bx += dbx
					}
					by += dby
				}
			}
		}
	}

	if storedV != 0 {
		if err := bw.PutNEG(int32(storedV)); err != nil {
			return 0, err
		}
	}
	return nruns, nil
}

// DecodePlane reverses EncodePlane: dst must already be sized w*h and is
// filled with the dequantized coefficient plane.
func DecodePlane(buf []byte, dst []sbt.Coef, w, h int, q int, p Params) error {
	for i := range dst {
		dst[i] = 0
	}

	br := bits.NewReader(buf)
	br.Align()
	if _, err := br.GetBits(32); err != nil {
		return err
	}

	ll, err := br.GetSEG()
	if err != nil {
		return err
	}

	if err := decodeCoefficients(br, uint(len(buf)), dst, w, h, q, p); err != nil {
		return err
	}

	eop, err := br.GetBits(8)
	if err != nil {
		return err
	}
	if eop != EOPSymbol {
		return ErrBadEOP
	}
	br.Align()

	dst[0] = sbt.Coef(ll)
	return nil
}

// ErrBadEOP is returned when a decoded plane's trailing sentinel doesn't
// match, indicating truncated or corrupt packet data.
var ErrBadEOP = errBadEOP{}

type errBadEOP struct{}

func (errBadEOP) Error() string { return "hzcc: bad end-of-plane marker, data truncated or corrupt" }

func decodeCoefficients(br *bits.Reader, bufLen uint, dst []sbt.Coef, w, h int, q int, p Params) error {
	br.Align()
	runsU, err := br.GetBits(32)
	if err != nil {
		return err
	}
	br.Align()
	runs := int64(runsU)

	const maxRun = int64(1) << 62
	var run int64
	nextRun := func() error {
		if runs > 0 {
			runs--
			v, err := br.GetUEG()
			if err != nil {
				return err
			}
			run = int64(v)
		} else {
			run = maxRun
		}
		return nil
	}
	if err := nextRun(); err != nil {
		return err
	}

	q = fixQuant(q, p.IsChroma)

	sw, sh := dimAt(0, w), dimAt(0, h)
	qp := Quant(q, p.IsP, 0)
	outRow := 0
	for y := 0; y < sh; y++ {
		for x := 0; x < sw; x++ {
			if run == 0 {
				if err := nextRun(); err != nil {
					return err
				}
				v, err := br.GetNEG()
				if err != nil {
					return err
				}
				if br.BytePos() >= bufLen {
					return nil
				}
				dst[outRow+x] = dequant(int(v), qp)
			} else {
				run--
			}
		}
		outRow += w
	}

	for level := 0; level < sbt.MaxCodingLevel; level++ {
		sw, sh = dimAt(level, w), dimAt(level, h)
		var dbx, dby int
		if sw != 0 {
			dbx = (p.Stable.NBlocksH << BlockShift) / sw
		}
		if sh != 0 {
			dby = (p.Stable.NBlocksV << BlockShift) / sh
		}
		qp = Quant(q, p.IsP, level)

		if level == sbt.MaxCodingLevel-1 {
			qpH := HighFreqQP(qp, p.IsP)
			for s := 1; s < nSubbands; s++ {
				o := subbandOffset(level, s, w, h)
				by := 0
				for y := 0; y < sh; y++ {
					rowOff := o + y*w
					bx := 0
					for x := 0; x < sw; x++ {
						if run == 0 {
							if err := nextRun(); err != nil {
								return err
							}
							v, err := br.GetNEG()
							if err != nil {
								return err
							}
							if br.BytePos() >= bufLen {
								return nil
							}
							tmq := qp
							if p.Stable.at(by>>BlockShift, bx>>BlockShift) != 0 {
								tmq = qpH
							}
							dst[rowOff+x] = dequantH(int(v), uint(tmq))
						} else {
							run--
						}
						bx += dbx
					}
					by += dby
				}
			}
		} else {
			for s := 1; s < nSubbands; s++ {
				o := subbandOffset(level, s, w, h)
				by := 0
				for y := 0; y < sh; y++ {
					rowOff := o + y*w
					bx := 0
					for x := 0; x < sw; x++ {
						if run == 0 {
							if err := nextRun(); err != nil {
								return err
							}
							v, err := br.GetNEG()
							if err != nil {
								return err
							}
							if br.BytePos() >= bufLen {
								return nil
							}
							tmq := tmq4pos(qp, p.Stable.at(by>>BlockShift, bx>>BlockShift))
							if tmq < MinQuant {
								tmq = MinQuant
							}
							dst[rowOff+x] = dequant(int(v), tmq)
						} else {
							run--
						}
						bx += dbx
					}
					by += dby
				}
			}
		}
	}

	br.Align()
	return nil
}
