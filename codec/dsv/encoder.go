/*
NAME
  encoder.go

DESCRIPTION
  encoder.go implements the DSV-1 Encoder: per-frame orchestration of
  hierarchical motion estimation, motion compensation, the forward/
  inverse subband transform round-trip and HZCC entropy coding into the
  packet-chain bitstream (dsv_enc/encode_one_frame/encode_picture).

AUTHOR
  Digital Subband Video contributors
*/

package dsv

import (
	"github.com/pkg/errors"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/bits"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/block"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/config"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/hme"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/hzcc"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/mc"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/ratecontrol"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/sbt"
)

// Encoder turns a sequence of raw planar frames into a DSV-1 packet
// chain. The zero value is not usable; construct with NewEncoder.
type Encoder struct {
	cfg config.Encoder
	bp  block.Params

	rc  *ratecontrol.Controller
	hme hme.Estimator
	mc  mc.Compensator
	xf  sbt.Transform

	pyramidLevels int

	// IntraBlocks is the number of blocks hierarchical motion estimation
	// decided were intra, derived from its intra percentage (rounded
	// down), on the most recent PushFrame call that ran motion
	// estimation; calls that skip motion estimation leave it as is. It mirrors
	// dsv_encoder.c's nblks counter: informational only, never consulted
	// by rate control or anything else in this package.
	IntraBlocks int

	nextFNum      uint32
	prevGOP       int64
	forceMetadata bool
	prevLink      uint32

	// Scratch frames reused across PushFrame calls: fixed dimensions for
	// the lifetime of the Encoder, so no per-frame allocation is needed
	// for them. padded holds the current input with its border
	// extended; xfFrame is the working buffer that fwd/inv SBT quantize
	// in place, becoming the lossy reconstruction; predScratch holds
	// SubPred's motion-compensated prediction, reused unchanged by Add
	// when the frame is reconstructed into a new reference.
	padded      *frame.Frame
	xfFrame     *frame.Frame
	predScratch *frame.Frame

	stability *stabilityState

	// ref is the previous reconstruction; nil until the first reference
	// frame is produced. Unlike the reference's refcounted DSV_ENCDATA
	// chain, each new reference is simply a fresh allocation — the Go
	// garbage collector retires the previous one once nothing points to
	// it, so no manual refcounting is needed (§9's reference-graph note).
	ref *frame.Frame
}

// NewEncoder validates cfg and allocates an Encoder ready to accept
// frames matching cfg.Metadata's dimensions and subsampling.
func NewEncoder(cfg config.Encoder) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bw, bh := cfg.BlockDims()
	md := cfg.Metadata
	nbh := ceilDiv(md.Width, bw)
	nbv := ceilDiv(md.Height, bh)
	bp := block.Params{BlockW: bw, BlockH: bh, NBlocksH: nbh, NBlocksV: nbv}

	e := &Encoder{
		cfg:           cfg,
		bp:            bp,
		rc:            ratecontrol.New(cfg.RateControl),
		pyramidLevels: cfg.PyramidLevels,
		prevGOP:       -1,
		forceMetadata: true,
		padded:        frame.New(md.Subsamp, md.Width, md.Height, true),
		xfFrame:       frame.New(md.Subsamp, md.Width, md.Height, true),
		predScratch:   frame.New(md.Subsamp, md.Width, md.Height, true),
		stability:     newStabilityState(nbh*nbv, cfg.StableRefresh),
	}
	return e, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// autoPyramidLevels picks the hierarchical motion estimation depth from
// the frame and block-grid dimensions (the pyramid_levels == 0 branch
// of encode_one_frame), clamped to [3, MaxPyramidLevels].
func autoPyramidLevels(w, h, nbh, nbv int) int {
	lvls := hzcc.Lb2(uint32(min(w, h)))
	maxdim := max(nbh, nbv)
	for (1 << uint(lvls)) > maxdim {
		lvls--
	}
	return clampInt(lvls, 3, config.MaxPyramidLevels)
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

// coarsestAvgLuma downsamples padded's luma levels times (matching the
// depth mk_pyramid would build) and returns the coarsest level's
// average luma, for scene-change detection. Built independently of the
// Estimator's own pyramid, which is private per-instance scratch.
func coarsestAvgLuma(padded *frame.Frame, levels int) int {
	cur := padded
	for i := 0; i < levels; i++ {
		w := (cur.Width + 1) / 2
		h := (cur.Height + 1) / 2
		next := frame.New(cur.Format, w, h, true)
		frame.Downsample2xLuma(next, cur)
		frame.ExtendLuma(next)
		cur = next
	}
	return frame.AvgLuma(cur)
}

// PushFrame encodes one source frame (already in cfg.Metadata's
// subsampling, at full resolution, no border) and returns the packets
// produced: a metadata packet whenever a new GOP starts, followed
// always by one picture packet.
func (e *Encoder) PushFrame(src *frame.Frame) ([][]byte, error) {
	fnum := e.nextFNum
	e.nextFNum++

	if e.pyramidLevels == 0 {
		e.pyramidLevels = autoPyramidLevels(e.cfg.Metadata.Width, e.cfg.Metadata.Height, e.bp.NBlocksH, e.bp.NBlocksV)
	}

	isRefFrame := e.cfg.GOP != config.GOPIntra
	if isRefFrame {
		frame.Copy(e.padded, src)
	}

	gopStart := e.forceMetadata || (e.prevGOP+int64(e.cfg.GOP) <= int64(fnum))
	if gopStart {
		e.prevGOP = int64(fnum)
		e.forceMetadata = false
	}

	hasRef := false
	forcedIntra := false
	if isRefFrame {
		hasRef = !gopStart
		if e.cfg.DetectSceneChanges {
			avg := coarsestAvgLuma(e.padded, e.pyramidLevels)
			if e.rc.CheckSceneChange(avg) {
				hasRef = false
				forcedIntra = true
			}
		}
	}

	var vecs []block.MV
	if hasRef && e.ref != nil {
		res := e.hme.Estimate(e.padded, e.ref, hme.Params{
			BlockW: e.bp.BlockW, BlockH: e.bp.BlockH,
			NBlocksH: e.bp.NBlocksH, NBlocksV: e.bp.NBlocksV,
			Subsamp: e.cfg.Metadata.Subsamp,
		}, e.pyramidLevels)
		vecs = res.Vectors
		e.IntraBlocks = res.IntraPct * (e.bp.NBlocksH * e.bp.NBlocksV) / 100
		if e.rc.TooMuchIntra(res.IntraPct) {
			hasRef = false
			forcedIntra = true
		}
	} else if hasRef {
		// No stored reference (§7.2): fall back to intra for this frame
		// rather than reading a nil ref.
		hasRef = false
		forcedIntra = true
	}

	quant := e.rc.SelectQuant(hasRef, forcedIntra)

	frame.Copy(e.xfFrame, src)
	if hasRef {
		e.mc.SubPred(vecs, e.bp, e.predScratch, e.xfFrame, e.ref)
	}

	stableBlocks := e.stability.compute(vecs, hasRef)

	pic, err := e.encodePicture(fnum, hasRef, isRefFrame, quant, vecs, stableBlocks)
	if err != nil {
		return nil, errors.Wrap(err, "dsv: encode picture")
	}

	if hasRef {
		mc.Add(e.xfFrame, e.predScratch)
	}
	if isRefFrame {
		e.ref = frame.Clone(e.xfFrame, true)
	}

	out := make([][]byte, 0, 2)
	if gopStart {
		meta := encodeMetadata(e.cfg.Metadata)
		e.setLinkOffsets(meta, false)
		out = append(out, meta)
	}

	e.setLinkOffsets(pic, false)
	e.rc.UpdateStats(len(pic), hasRef, quant)
	if hasRef {
		e.stability.refreshCtr++
	}

	out = append(out, pic)
	return out, nil
}

// EndOfStream returns the header-only end-of-stream packet that closes
// the link chain; next_link is zero, per Scenario F.
func (e *Encoder) EndOfStream() []byte {
	buf := encodeEOS()
	e.setLinkOffsets(buf, true)
	return buf
}

// encodePicture writes one picture packet body (§6.1, encode_picture):
// the frame number, block-size header, stability map, motion data (if
// hasRef), quantizer, and the three fwd-SBT/HZCC/inv-SBT coded planes.
// The inverse transform's side effect of quantizing xfFrame in place is
// what lets the caller reconstruct a new reference from it afterward.
func (e *Encoder) encodePicture(fnum uint32, hasRef, isRefFrame bool, quant int, vecs []block.MV, stableBlocks []uint8) ([]byte, error) {
	upperbound := e.cfg.Metadata.Width * e.cfg.Metadata.Height
	switch e.cfg.Metadata.Subsamp {
	case frame.Subsamp444:
		upperbound *= 6
	case frame.Subsamp422:
		upperbound *= 4
	default:
		upperbound *= 2
	}

	buf := make([]byte, headerSize, headerSize+upperbound)
	ptype := byte(ptPic)
	if isRefFrame {
		ptype |= ptIsRef
	}
	if hasRef {
		ptype |= ptHasRef
	}
	putHeader(buf, header{ptype: ptype})

	bw := bits.NewWriter(buf[headerSize:cap(buf)])
	bw.Align()
	if err := bw.PutBits(32, fnum); err != nil {
		return nil, err
	}
	bw.Align()
	if err := bw.PutUEG(uint32(e.bp.BlockW >> 2)); err != nil {
		return nil, err
	}
	if err := bw.PutUEG(uint32(e.bp.BlockH >> 2)); err != nil {
		return nil, err
	}
	bw.Align()

	if err := encodeStableBlocks(bw, stableBlocks); err != nil {
		return nil, err
	}

	if hasRef {
		bw.Align()
		if err := encodeMotion(bw, vecs, e.bp); err != nil {
			return nil, err
		}
	}

	bw.Align()
	if err := bw.PutBits(ratecontrol.MaxQPBits, uint32(quant)); err != nil {
		return nil, err
	}

	stableMap := hzcc.StableBlocks{Blocks: stableBlocks, NBlocksH: e.bp.NBlocksH, NBlocksV: e.bp.NBlocksV}
	isIntra := !hasRef

	for ch := 0; ch < 3; ch++ {
		p := &e.xfFrame.Planes[ch]
		w, h := p.W, p.H
		coefs := make([]sbt.Coef, w*h)
		sbt.PlaneToCoefs(coefs, p.Data[p.Origin:], p.Stride, w, h)

		e.xf.Forward(coefs, w, h, isIntra)

		hp := hzcc.Params{IsP: hasRef, IsChroma: ch != 0, Stable: stableMap}
		if err := hzcc.EncodePlane(bw, coefs, w, h, quant, hp); err != nil {
			return nil, err
		}

		quantAt := func(level int) int { return hzcc.Quant(quant, hasRef, level) }
		highFreq := func(qp int) int { return hzcc.HighFreqQP(qp, hasRef) }
		// spec.md §4.3 restricts adaptive smoothing to luma, I-frames
		// only; the C reference gates it on channel alone (dsv1.h's
		// dsv_inv_sbt checks only c == 0). Honored here per the
		// spec's explicit text (see DESIGN.md).
		smooth := ch == 0 && isIntra
		e.xf.Inverse(coefs, w, h, isIntra, smooth, quantAt, highFreq)

		sbt.CoefsToPlane(p.Data[p.Origin:], p.Stride, coefs, w, h)
	}

	bw.Align()
	return buf[:headerSize+bw.BytePos()], nil
}
