/*
NAME
  sbt.go

DESCRIPTION
  sbt.go implements DSV-1's subband transform: a full dyadic Haar pyramid
  decomposition (optionally substituting a 4-tap biorthogonal filter, B4T,
  at the finest level of an I-frame), plus the adaptive inverse smoothing
  filter that suppresses ringing on I-frame luma planes.

  Entropy coding (package hzcc) only ever addresses the finest three
  transform iterations by subband position; everything coarser than that
  is left nested, untouched, inside what hzcc treats as a single flat "LL"
  region. The transform itself recurses all the way down regardless, since
  that is what decorrelates the coarse image content.

AUTHOR
  Digital Subband Video contributors
*/

// Package sbt implements the DSV-1 subband transform.
package sbt

// Coef is the coefficient plane's signed sample type.
type Coef = int32

// MaxCodingLevel is DSV_MAXLVL: the number of transform iterations, counted
// from the finest, that the entropy coder (package hzcc) addresses by
// subband position. Anything coarser is coded as one flat region.
const MaxCodingLevel = 3

func roundShift(v, sh int) int {
	if sh <= 0 {
		return v
	}
	return (v + (1 << uint(sh-1))) >> uint(sh)
}

func round2(v int32) int32 {
	if v < 0 {
		return -((-v + 1) >> 1)
	}
	return (v + 1) >> 1
}

func round4(v int32) int32 {
	if v < 0 {
		return -((-v + 2) >> 2)
	}
	return (v + 2) >> 2
}

func round8(v int32) int32 {
	if v < 0 {
		return -((-v + 4) >> 3)
	}
	return (v + 4) >> 3
}

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// fwdScale and invScale implement the LL coefficient scaling applied when
// the preceding/following inverse step uses the biorthogonal transform.
func fwdScale(x int32) int32 { return x * 4 / 5 }
func invScale(x int32) int32 { return x * 5 / 4 }

// NumLevels returns the number of dyadic decomposition iterations for a
// plane of the given dimensions: ceil(log2(max(w, h))).
func NumLevels(w, h int) int {
	mx := w
	if h > mx {
		mx = h
	}
	lb2 := log2Ceil(mx)
	if mx > (1 << uint(lb2)) {
		lb2++
	}
	return lb2
}

func log2Ceil(n int) int {
	i, log2 := 1, 0
	for i < n {
		i <<= 1
		log2++
	}
	return log2
}

// Transform owns the per-instance scratch buffer used by forward/inverse
// transforms, sized (w+2)*(h+2) and grown on demand, per the encoder's
// resource policy: this state must never be process-global, or two
// encoder/decoder instances could not run concurrently.
type Transform struct {
	scratch []Coef
}

func (t *Transform) pad(w, h int) []Coef {
	need := (w + 2) * (h + 2)
	if len(t.scratch) < need {
		t.scratch = make([]Coef, need)
	}
	return t.scratch[w : w+w*h+w] // offset by w, matching temp_buf_pad = temp_buf + w
}

// PlaneToCoefs centers an 8-bit plane's samples around zero by subtracting
// 128, writing into dst (length w*h, row-major stride w).
func PlaneToCoefs(dst []Coef, plane []byte, stride, w, h int) {
	d := 0
	for y := 0; y < h; y++ {
		row := plane[y*stride:]
		for x := 0; x < w; x++ {
			dst[d+x] = Coef(row[x]) - 128
		}
		d += w
	}
}

// CoefsToPlane adds 128 back and clamps to [0, 255], writing into an 8-bit
// plane of the given stride.
func CoefsToPlane(plane []byte, stride int, src []Coef, w, h int) {
	s := 0
	for y := 0; y < h; y++ {
		row := plane[y*stride:]
		for x := 0; x < w; x++ {
			v := src[s+x] + 128
			switch {
			case v > 255:
				row[x] = 255
			case v < 0:
				row[x] = 0
			default:
				row[x] = byte(v)
			}
		}
		s += w
	}
}

// Forward performs the full dyadic decomposition of data (length w*h,
// stride w) in place. isIntra selects the B4T filter at the finest
// iteration; every coarser iteration (and every iteration of a P-frame)
// uses Haar.
func (t *Transform) Forward(data []Coef, w, h int, isIntra bool) {
	lvls := NumLevels(w, h)
	tmp := t.pad(w, h)
	for i := 1; i <= lvls; i++ {
		if isIntra && i == 1 {
			fwdB4T2D(tmp, data, w, h)
		} else {
			fwdHaar(data, tmp, w, h, i, isIntra)
		}
	}
}

// QuantAtLevel computes the HZCC quantizer for a given coding level exactly
// as package hzcc does (dsv_get_quant), and HighFreqQP derives the
// highest-frequency exponential quantizer (get_quant_highest_frequency).
// The inverse smoothing filter borrows these so its nudge bounds track
// whatever was actually used to quantize each subband.
type QuantAtLevel func(level int) int
type HighFreqQP func(qp int) int

// Inverse reconstructs data in place (length w*h, stride w). smooth
// enables the adaptive inverse smoothing filter (luma I-frames only, per
// spec); quantAt and highFreq supply the quantizers that bound its nudges
// and are only consulted when smooth is set.
func (t *Transform) Inverse(data []Coef, w, h int, isIntra, smooth bool, quantAt QuantAtLevel, highFreq HighFreqQP) {
	lvls := NumLevels(w, h)
	tmp := t.pad(w, h)

	if !smooth {
		for i := lvls; i > 0; i-- {
			if isIntra && i == 1 {
				invB4T2D(tmp, data, w, h)
			} else {
				invSimple(data, tmp, w, h, i, isIntra)
			}
		}
		return
	}

	llq := quantAt(0) / 2
	for i := lvls; i > 0; i-- {
		var hqp int
		if i > MaxCodingLevel {
			hqp = llq
		} else {
			hqp = quantAt(MaxCodingLevel - i)
			if i == 1 {
				hqp = highFreq(hqp)
				hqp = (1 << uint(hqp)) >> 1
			}
			hqp /= 2
		}
		if isIntra && i == 1 {
			invB4T2D(tmp, data, w, h)
		} else {
			inv(data, tmp, w, h, i, int32(hqp), isIntra)
		}
	}
}

// fwdHaar implements the Haar forward transform at iteration lvl (1 =
// finest), in place on data (stride w), using tmp as scratch (stride w,
// same indexing).
func fwdHaar(data, tmp []Coef, width, height, lvl int, isI bool) {
	woff := roundShift(width, lvl)
	hoff := roundShift(height, lvl)
	ws := roundShift(width, lvl-1)
	hs := roundShift(height, lvl-1)
	oddw := ws & 1
	oddh := hs & 1

	lvlTest := isI || lvl > 1

	dLLoff, dLHoff, dHLoff, dHHoff := 0, woff, hoff*width, woff+hoff*width

	y := 0
	for ; y < hs-oddh; y += 2 {
		rowOff := y * width
		idx := 0
		x := 0
		for ; x < ws-oddw; x, idx = x+2, idx+1 {
			x0 := data[rowOff+x+0]
			x1 := data[rowOff+x+1]
			x2 := data[rowOff+width+x+0]
			x3 := data[rowOff+width+x+1]
			ll := x0 + x1 + x2 + x3
			if lvlTest {
				ll = fwdScale(ll)
			}
			tmp[dLLoff+idx] = ll
			tmp[dLHoff+idx] = x0 - x1 + x2 - x3
			tmp[dHLoff+idx] = x0 + x1 - x2 - x3
			tmp[dHHoff+idx] = x0 - x1 - x2 + x3
		}
		if oddw != 0 {
			x0 := data[rowOff+x+0]
			x2 := data[rowOff+width+x+0]
			ll := 2 * (x0 + x2)
			if lvlTest {
				ll = fwdScale(ll)
			}
			tmp[dLLoff+idx] = ll
			tmp[dHLoff+idx] = 2 * (x0 - x2)
		}
		dLLoff += width
		dLHoff += width
		dHLoff += width
		dHHoff += width
	}
	if oddh != 0 {
		rowOff := y * width
		idx := 0
		x := 0
		for ; x < ws-oddw; x, idx = x+2, idx+1 {
			x0 := data[rowOff+x+0]
			x1 := data[rowOff+x+1]
			ll := 2 * (x0 + x1)
			if lvlTest {
				ll = fwdScale(ll)
			}
			tmp[dLLoff+idx] = ll
			tmp[dLHoff+idx] = 2 * (x0 - x1)
		}
		if oddw != 0 {
			x0 := data[rowOff+x+0]
			ll := x0 * 4
			if lvlTest {
				ll = fwdScale(ll)
			}
			tmp[dLLoff+idx] = ll
		}
	}
	cpysub(data, tmp, ws, hs, width)
}

// invSimple is the non-smoothing Haar inverse at iteration lvl.
func invSimple(data, tmp []Coef, width, height, lvl int, isI bool) {
	woff := roundShift(width, lvl)
	hoff := roundShift(height, lvl)
	ws := roundShift(width, lvl-1)
	hs := roundShift(height, lvl-1)
	oddw := ws & 1
	oddh := hs & 1
	lvlTest := isI || lvl > 1

	sLLoff, sLHoff, sHLoff, sHHoff := 0, woff, hoff*width, woff+hoff*width

	y := 0
	for ; y < hs-oddh; y += 2 {
		dAoff := y * width
		dBoff := dAoff + width
		idx := 0
		x := 0
		for ; x < ws-oddw; x, idx = x+2, idx+1 {
			ll := data[sLLoff+idx]
			if lvlTest {
				ll = invScale(ll)
			}
			lh := data[sLHoff+idx]
			hl := data[sHLoff+idx]
			hh := data[sHHoff+idx]
			tmp[dAoff+x+0] = (ll + lh + hl + hh) / 4
			tmp[dAoff+x+1] = (ll - lh + hl - hh) / 4
			tmp[dBoff+x+0] = (ll + lh - hl - hh) / 4
			tmp[dBoff+x+1] = (ll - lh - hl + hh) / 4
		}
		if oddw != 0 {
			ll := data[sLLoff+idx]
			if lvlTest {
				ll = invScale(ll)
			}
			hl := data[sHLoff+idx]
			tmp[dAoff+x+0] = (ll + hl) / 4
			tmp[dBoff+x+0] = (ll - hl) / 4
		}
		sLLoff += width
		sLHoff += width
		sHLoff += width
		sHHoff += width
	}
	if oddh != 0 {
		dAoff := y * width
		idx := 0
		x := 0
		for ; x < ws-oddw; x, idx = x+2, idx+1 {
			ll := data[sLLoff+idx]
			if lvlTest {
				ll = invScale(ll)
			}
			lh := data[sLHoff+idx]
			tmp[dAoff+x+0] = (ll + lh) / 4
			tmp[dAoff+x+1] = (ll - lh) / 4
		}
		if oddw != 0 {
			ll := data[sLLoff+idx]
			if lvlTest {
				ll = invScale(ll)
			}
			tmp[dAoff+x+0] = ll / 4
		}
	}
	cpysub(data, tmp, ws, hs, width)
}

// inv is the smoothing Haar inverse (luma, I-frame only), nudging the LH
// and HL coefficients at interior positions toward the gradient implied by
// neighbouring LL samples, bounded by +/-hqp.
func inv(data, tmp []Coef, width, height, lvl int, hqp int32, isI bool) {
	woff := roundShift(width, lvl)
	hoff := roundShift(height, lvl)
	ws := roundShift(width, lvl-1)
	hs := roundShift(height, lvl-1)
	oddw := ws & 1
	oddh := hs & 1
	lvlTest := isI || lvl > 1

	sLLoff, sLHoff, sHLoff, sHHoff := 0, woff, hoff*width, woff+hoff*width

	y := 0
	for ; y < hs-oddh; y += 2 {
		inY := y > 0 && y < hs-oddh-1
		dAoff := y * width
		dBoff := dAoff + width
		idx := 0
		x := 0
		for ; x < ws-oddw; x, idx = x+2, idx+1 {
			inX := x > 0 && x < ws-oddw-1

			ll := data[sLLoff+idx]
			if lvlTest {
				ll = invScale(ll)
			}
			lh := data[sLHoff+idx]
			hl := data[sHLoff+idx]
			hh := data[sHHoff+idx]

			if inX {
				lp, ln := data[sLLoff+idx-1], data[sLLoff+idx+1]
				if lvlTest {
					lp, ln = invScale(lp), invScale(ln)
				}
				mx := ll - ln
				mn := lp - ll
				if mn > mx {
					mx, mn = mn, mx
				}
				mx = min32(mx, 0)
				mn = max32(mn, 0)
				if mx != mn {
					t := round4(lp - ln)
					nudge := round2(clamp32(t, mx, mn) - (lh << 1))
					lh += clamp32(nudge, -hqp, hqp)
				}
			}
			if inY {
				lp, ln := data[sLLoff+idx-width], data[sLLoff+idx+width]
				if lvlTest {
					lp, ln = invScale(lp), invScale(ln)
				}
				mx := ll - ln
				mn := lp - ll
				if mn > mx {
					mx, mn = mn, mx
				}
				mx = min32(mx, 0)
				mn = max32(mn, 0)
				if mx != mn {
					t := round4(lp - ln)
					nudge := round2(clamp32(t, mx, mn) - (hl << 1))
					hl += clamp32(nudge, -hqp, hqp)
				}
			}

			tmp[dAoff+x+0] = (ll + lh + hl + hh) / 4
			tmp[dAoff+x+1] = (ll - lh + hl - hh) / 4
			tmp[dBoff+x+0] = (ll + lh - hl - hh) / 4
			tmp[dBoff+x+1] = (ll - lh - hl + hh) / 4
		}
		if oddw != 0 {
			ll := data[sLLoff+idx]
			if lvlTest {
				ll = invScale(ll)
			}
			hl := data[sHLoff+idx]
			tmp[dAoff+x+0] = (ll + hl) / 4
			tmp[dBoff+x+0] = (ll - hl) / 4
		}
		sLLoff += width
		sLHoff += width
		sHLoff += width
		sHHoff += width
	}
	if oddh != 0 {
		dAoff := y * width
		idx := 0
		x := 0
		for ; x < ws-oddw; x, idx = x+2, idx+1 {
			ll := data[sLLoff+idx]
			if lvlTest {
				ll = invScale(ll)
			}
			lh := data[sLHoff+idx]
			tmp[dAoff+x+0] = (ll + lh) / 4
			tmp[dAoff+x+1] = (ll - lh) / 4
		}
		if oddw != 0 {
			ll := data[sLLoff+idx]
			if lvlTest {
				ll = invScale(ll)
			}
			tmp[dAoff+x+0] = ll / 4
		}
	}
	cpysub(data, tmp, ws, hs, width)
}

func cpysub(dst, src []Coef, w, h, stride int) {
	so, do := 0, 0
	for ; h > 0; h-- {
		copy(dst[do:do+w], src[so:so+w])
		so += stride
		do += stride
	}
}
