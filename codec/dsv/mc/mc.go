/*
NAME
  mc.go

DESCRIPTION
  mc.go implements DSV-1 motion compensation: the luma 4-tap / chroma
  bilinear half-pel interpolation filters, intra sub-block fill (plain
  average or direct reference copy), and the residual add/sub passes
  that bias samples by 128 the way the subband transform expects.

AUTHOR
  Digital Subband Video contributors
*/

// Package mc implements DSV-1 motion compensation.
package mc

import (
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/block"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
)

// HPCoef is the luma half-pel filter's 4-tap coefficient.
const HPCoef = 9

// MaxBlockSize is the largest block edge DSV-1 supports, equal to the
// frame border width so every compensated read stays in bounds.
const MaxBlockSize = frame.Border

func clampU8(v int) byte {
	switch {
	case v > 255:
		return 255
	case v < 0:
		return 0
	default:
		return byte(v)
	}
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

// prow returns plane p's row y starting at column x, as a slice running
// to the end of the plane's backing storage. Unlike Plane.Line, this
// supports a negative x (a reference sample inside the mirrored border),
// matching the DSV_GET_XY pointer macro it replaces.
func prow(p *frame.Plane, x, y int) []byte {
	return p.Data[p.At(x, y):]
}

// Compensator owns the scratch buffer the luma half-pel filter needs for
// its two-pass horizontal/vertical case, sized per instance (rather than
// a process-global static buffer) so independent encoder/decoder
// instances can run concurrently.
type Compensator struct {
	hbuf []int32
}

func (c *Compensator) scratch(w, h int) []int32 {
	need := w * (h + 4)
	if len(c.hbuf) < need {
		c.hbuf = make([]int32, need)
	}
	return c.hbuf
}

// addf adds dif into out in place, biasing by -128 to undo the subband
// transform's zero-centering (D.1 residual reconstruction).
func addf(out *frame.Plane, dif *frame.Plane, w, h int) {
	for y := 0; y < h; y++ {
		oRow := out.Line(y)
		dRow := dif.Line(y)
		for x := 0; x < w; x++ {
			oRow[x] = clampU8(int(oRow[x]) + int(dRow[x]) - 128)
		}
	}
}

// subf subtracts dif from inp in place, biasing by +128.
func subf(inp *frame.Plane, dif *frame.Plane, w, h int) {
	for y := 0; y < h; y++ {
		iRow := inp.Line(y)
		dRow := dif.Line(y)
		for x := 0; x < w; x++ {
			iRow[x] = clampU8(int(iRow[x]) - int(dRow[x]) + 128)
		}
	}
}

// hpelChroma is the bilinear chroma half-pel filter (D.1.2).
func hpelChroma(dec *frame.Plane, dx0, dy0 int, ref *frame.Plane, rx0, ry0, xh, yh, w, h int) {
	switch (xh << 1) | yh {
	case 0:
		for j := 0; j < h; j++ {
			copy(prow(dec, dx0, dy0+j)[:w], prow(ref, rx0, ry0+j)[:w])
		}
	case 1:
		for j := 0; j < h; j++ {
			r0 := prow(ref, rx0, ry0+j)
			r1 := prow(ref, rx0, ry0+j+1)
			out := prow(dec, dx0, dy0+j)
			for i := 0; i < w; i++ {
				out[i] = byte((int(r0[i]) + int(r1[i]) + 1) >> 1)
			}
		}
	case 2:
		for j := 0; j < h; j++ {
			r0 := prow(ref, rx0, ry0+j)
			out := prow(dec, dx0, dy0+j)
			for i := 0; i < w; i++ {
				out[i] = byte((int(r0[i]) + int(r0[i+1]) + 1) >> 1)
			}
		}
	case 3:
		for j := 0; j < h; j++ {
			r0 := prow(ref, rx0, ry0+j)
			r1 := prow(ref, rx0, ry0+j+1)
			out := prow(dec, dx0, dy0+j)
			for i := 0; i < w; i++ {
				out[i] = byte((int(r0[i]) + int(r0[i+1]) + int(r1[i]) + int(r1[i+1]) + 2) >> 2)
			}
		}
	}
}

func hpfh(r []byte, i int) int32 {
	return HPCoef*(int32(r[i])+int32(r[i+1])) - (int32(r[i-1]) + int32(r[i+2]))
}

func hpfv(plane *frame.Plane, x, y int) int32 {
	return HPCoef*(int32(plane.Get(x, y))+int32(plane.Get(x, y+1))) -
		(int32(plane.Get(x, y-1)) + int32(plane.Get(x, y+2)))
}

// hpelLuma is the 4-tap luma half-pel filter (D.1.1): full-pel copy,
// vertical-only, horizontal-only, or the two-pass diagonal case that
// needs the per-instance scratch buffer.
func (c *Compensator) hpelLuma(dec *frame.Plane, dx0, dy0 int, ref *frame.Plane, rx0, ry0, xh, yh, w, h int) {
	switch (xh << 1) | yh {
	case 0:
		for y := 0; y < h; y++ {
			copy(prow(dec, dx0, dy0+y)[:w], prow(ref, rx0, ry0+y)[:w])
		}
	case 1:
		for y := 0; y < h; y++ {
			out := prow(dec, dx0, dy0+y)
			for x := 0; x < w; x++ {
				out[x] = clampU8(int(hpfv(ref, rx0+x, ry0+y)+8) >> 4)
			}
		}
	case 2:
		for y := 0; y < h; y++ {
			r := prow(ref, rx0, ry0+y)
			out := prow(dec, dx0, dy0+y)
			for x := 0; x < w; x++ {
				out[x] = clampU8(int(hpfh(r, x)+8) >> 4)
			}
		}
	case 3:
		buf := c.scratch(w, h)
		for y := 0; y < h+4; y++ {
			r := prow(ref, rx0, ry0+y-1)
			for x := 0; x < w; x++ {
				buf[y*w+x] = hpfh(r, x)
			}
		}
		for y := 0; y < h; y++ {
			out := prow(dec, dx0, dy0+y)
			for x := 0; x < w; x++ {
				i := y*w + x
				v := HPCoef*(buf[i+1*w]+buf[i+2*w]) - (buf[i+0*w] + buf[i+3*w])
				out[x] = clampU8(int(v+128) >> 8)
			}
		}
	}
}

func avgval(p *frame.Plane, x0, y0, w, h int) byte {
	acc := 0
	for y := 0; y < h; y++ {
		r := prow(p, x0, y0+y)
		for x := 0; x < w; x++ {
			acc += int(r[x])
		}
	}
	return byte(acc / (w * h))
}

func fillConst(p *frame.Plane, x0, y0, w, h int, v byte) {
	for y := 0; y < h; y++ {
		r := prow(p, x0, y0+y)[:w]
		for x := range r {
			r[x] = v
		}
	}
}

func copyBlock(dst *frame.Plane, dx0, dy0 int, src *frame.Plane, sx0, sy0, w, h int) {
	for y := 0; y < h; y++ {
		copy(prow(dst, dx0, dy0+y)[:w], prow(src, sx0, sy0+y)[:w])
	}
}

// Compensate fills dst's plane ch (over the full block grid) with the
// motion-compensated prediction for every block: half-pel interpolated
// inter blocks, or averaged/copied intra sub-blocks.
func (c *Compensator) Compensate(vecs []block.MV, bp block.Params, ch int, ref *frame.Frame, dst *frame.Frame) {
	var sh, sv int
	if ch != 0 {
		sh, sv = ref.Format.HShift(), ref.Format.VShift()
	}
	bw := bp.BlockW >> sh
	bh := bp.BlockH >> sv

	dp := &dst.Planes[ch]
	rp := &ref.Planes[ch]

	limx := (dp.W - bw) + frame.Border - 1
	limy := (dp.H - bh) + frame.Border - 1

	for j := 0; j < bp.NBlocksV; j++ {
		y := j * bh
		chh := bh
		if y+bh >= dp.H {
			chh = dp.H - y
		}
		for i := 0; i < bp.NBlocksH; i++ {
			x := i * bw
			cw := bw
			if x+bw >= dp.W {
				cw = dp.W - x
			}

			mv := bp.At(vecs, i, j)
			if mv.Mode == block.ModeInter {
				dx := int(mv.X) >> sh
				dy := int(mv.Y) >> sv

				px := x + (dx >> 1)
				py := y + (dy >> 1)
				px = clampInt(px, -frame.Border, limx)
				py = clampInt(py, -frame.Border, limy)

				if ch == 0 {
					c.hpelLuma(dp, x, y, rp, px, py, dx&1, dy&1, cw, chh)
				} else {
					hpelChroma(dp, x, y, rp, px, py, dx&1, dy&1, cw, chh)
				}
				continue
			}

			if mv.SubMask == block.MaskAllIntra {
				avg := avgval(rp, x, y, cw, chh)
				fillConst(dp, x, y, cw, chh, avg)
				continue
			}
			sbw, sbh := cw/2, chh/2
			masks := [4]uint8{block.MaskIntra00, block.MaskIntra01, block.MaskIntra10, block.MaskIntra11}
			idx := 0
			for g := 0; g <= sbh; g += sbh {
				for f := 0; f <= sbw; f += sbw {
					sbx, sby := x+f, y+g
					if mv.SubMask&masks[idx] != 0 {
						avg := avgval(rp, sbx, sby, sbw, sbh)
						fillConst(dp, sbx, sby, sbw, sbh, avg)
					} else {
						copyBlock(dp, sbx, sby, rp, sbx, sby, sbw, sbh)
					}
					idx++
				}
			}
		}
	}
}

// Add adds src's three planes into dst in place (frame accumulation used
// when reconstructing a reference from a prediction plus a residual
// frame that already sit at matching origins).
func Add(dst, src *frame.Frame) {
	for c := 0; c < 3; c++ {
		d, s := &dst.Planes[c], &src.Planes[c]
		addf(d, s, d.W, d.H)
	}
}

// SubPred computes the motion-compensated prediction for every plane
// into pred (scratch), then subtracts it from inp in place, leaving the
// zero-centered residual in inp ready for the forward subband transform.
func (c *Compensator) SubPred(vecs []block.MV, bp block.Params, pred, inp, ref *frame.Frame) {
	for ch := 0; ch < 3; ch++ {
		c.Compensate(vecs, bp, ch, ref, pred)
		subf(&inp.Planes[ch], &pred.Planes[ch], inp.Planes[ch].W, inp.Planes[ch].H)
	}
}

// AddPred computes the motion-compensated prediction directly into out,
// then adds the already-decoded residual dif into out in place,
// completing reconstruction of a P-frame.
func (c *Compensator) AddPred(vecs []block.MV, bp block.Params, dif, out, ref *frame.Frame) {
	for ch := 0; ch < 3; ch++ {
		c.Compensate(vecs, bp, ch, ref, out)
		addf(&out.Planes[ch], &dif.Planes[ch], out.Planes[ch].W, out.Planes[ch].H)
	}
}
