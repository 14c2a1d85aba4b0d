/*
NAME
  decoder.go

DESCRIPTION
  decoder.go implements the DSV-1 Decoder: packet dispatch by type,
  picture packet parsing, motion compensation and the inverse subband
  transform round-trip back into displayable frames (dsv_dec/
  decode_picture).

AUTHOR
  Digital Subband Video contributors
*/

package dsv

import (
	"encoding/binary"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/bits"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/block"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/hzcc"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/mc"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/ratecontrol"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/sbt"
)

// DrawFlags selects debug overlays a caller may want to render atop a
// decoded frame (DSV_DRAW_*). The Decoder never draws these itself; it
// only carries the vocabulary so a caller's own renderer can consult
// the per-frame motion field and stability map that Decode already
// computed.
type DrawFlags int

const (
	DrawStableHQ DrawFlags = 1 << iota // stable / high-quality blocks
	DrawMotionVectors
	DrawIntraSubblocks
)

// Decoder turns a DSV-1 packet chain back into displayable frames. The
// zero value is ready to use; construct with NewDecoder for symmetry
// with NewEncoder.
type Decoder struct {
	meta Metadata

	mc mc.Compensator
	xf sbt.Transform

	// dif and out are reused across Decode calls once metadata has been
	// seen: dif holds a P-frame's decoded residual before AddPred folds
	// it onto the motion-compensated prediction; out holds the final
	// reconstruction, the source for both the returned frame and the
	// next stored reference.
	dif *frame.Frame
	out *frame.Frame

	// ref is the previous reconstruction available for inter-prediction;
	// nil until the first reference frame is decoded, and reset whenever
	// fresh metadata arrives.
	ref *frame.Frame
}

// NewDecoder returns a Decoder ready to accept packets.
func NewDecoder() *Decoder { return &Decoder{} }

func (d *Decoder) setMetadata(md Metadata) {
	d.meta = md
	d.dif = frame.New(md.Subsamp, md.Width, md.Height, true)
	d.out = frame.New(md.Subsamp, md.Width, md.Height, true)
	d.ref = nil
}

// Decode consumes one complete packet (header included) and returns the
// frame it completes, or nil for a metadata or end-of-stream packet.
// Per §7's error taxonomy: a malformed header is returned as an error
// for this packet only, the caller should move on to the next; a
// picture packet referencing a frame this Decoder never stored returns
// ErrNoReference without disturbing the stored reference.
func (d *Decoder) Decode(pkt []byte) (*frame.Frame, error) {
	h, err := getHeader(pkt)
	if err != nil {
		return nil, err
	}
	body := pkt[headerSize:]

	switch {
	case h.ptype == ptEOS:
		return nil, nil
	case isPic(h.ptype):
		return d.decodePicture(h, body)
	default:
		md, err := decodeMetadata(body)
		if err != nil {
			return nil, err
		}
		d.setMetadata(md)
		return nil, nil
	}
}

// decodePicture parses a picture packet body (§6.1) in the exact field
// order encodePicture writes it, reconstructs the frame, and advances
// the decoder's stored reference when the packet is itself a reference.
func (d *Decoder) decodePicture(h header, body []byte) (*frame.Frame, error) {
	if d.meta.Width == 0 {
		return nil, ErrBadMetadata
	}

	br := bits.NewReader(body)
	br.Align()
	if _, err := br.GetBits(32); err != nil {
		return nil, err
	}
	br.Align()
	bwv, err := br.GetUEG()
	if err != nil {
		return nil, err
	}
	bhv, err := br.GetUEG()
	if err != nil {
		return nil, err
	}
	br.Align()

	blkW, blkH := int(bwv)<<2, int(bhv)<<2
	if blkW <= 0 || blkH <= 0 {
		return nil, ErrBadDimensions
	}
	bp := block.Params{
		BlockW: blkW, BlockH: blkH,
		NBlocksH: ceilDiv(d.meta.Width, blkW),
		NBlocksV: ceilDiv(d.meta.Height, blkH),
	}

	stableBits, err := decodeStableBlocks(br, bp)
	if err != nil {
		return nil, err
	}

	hasRefFrame := hasRef(h.ptype)
	isRefFrame := isRef(h.ptype)

	vecs := make([]block.MV, bp.NBlocksH*bp.NBlocksV)
	if hasRefFrame {
		br.Align()
		if err := decodeMotion(br, vecs, bp); err != nil {
			return nil, err
		}
	}

	if hasRefFrame && d.ref == nil {
		// §7.2: out-of-sequence reference. Warn and skip this frame,
		// leaving any stored reference slot untouched.
		if Log != nil {
			Log.Warning("dsv: picture packet references a frame that was never stored, skipping")
		}
		return nil, ErrNoReference
	}

	stableMap := combineIntraBit(stableBits, vecs, bp, hasRefFrame)

	br.Align()
	qv, err := br.GetBits(ratecontrol.MaxQPBits)
	if err != nil {
		return nil, err
	}
	quant := int(qv)
	isIntra := !hasRefFrame

	target := d.out
	if hasRefFrame {
		target = d.dif
	}

	br.Align()
	pos := br.BytePos()
	for ch := 0; ch < 3; ch++ {
		p := &target.Planes[ch]
		w, h := p.W, p.H
		coefs := make([]sbt.Coef, w*h)

		if pos+4 > len(body) {
			return nil, ErrCorruptPlane
		}
		planeLen := 4 + int(binary.BigEndian.Uint32(body[pos:pos+4]))
		if planeLen < 4 || pos+planeLen > len(body) {
			return nil, ErrCorruptPlane
		}
		planeBuf := body[pos : pos+planeLen]
		pos += planeLen

		hp := hzcc.Params{IsP: hasRefFrame, IsChroma: ch != 0, Stable: stableMap}
		if err := hzcc.DecodePlane(planeBuf, coefs, w, h, quant, hp); err != nil {
			// §7.3: leave this plane's coefficients zeroed, which the
			// inverse transform's DC offset turns into a flat mid-grey
			// 128 reconstruction, and move on to the next plane — the
			// length prefix already told us where it ends.
			if Log != nil {
				Log.Warning("dsv: corrupt coefficient plane, reconstructing mid-grey", "channel", ch, "error", err.Error())
			}
			for i := range coefs {
				coefs[i] = 0
			}
		}

		quantAt := func(level int) int { return hzcc.Quant(quant, hasRefFrame, level) }
		highFreq := func(qp int) int { return hzcc.HighFreqQP(qp, hasRefFrame) }
		smooth := ch == 0 && isIntra
		d.xf.Inverse(coefs, w, h, isIntra, smooth, quantAt, highFreq)

		sbt.CoefsToPlane(p.Data[p.Origin:], p.Stride, coefs, w, h)
	}

	if hasRefFrame {
		d.mc.AddPred(vecs, bp, d.dif, d.out, d.ref)
	}
	if isRefFrame {
		d.ref = frame.Clone(d.out, true)
	}

	return frame.Clone(d.out, false), nil
}
