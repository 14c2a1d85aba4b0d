/*
NAME
  hme.go

DESCRIPTION
  hme.go implements DSV-1 hierarchical motion estimation: a coarse-to-fine
  pyramid search that inherits candidate vectors from the level above,
  refines them with a small full-pel diamond search and (at the base
  level) a half-pel refinement, then runs the intra decision chain that
  decides whether a block predicts better as a reduced-range intra block
  than as a motion-compensated one.

AUTHOR
  Digital Subband Video contributors
*/

// Package hme implements DSV-1's hierarchical motion estimation.
package hme

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/block"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
)

// hpCoef is the half-pel filter's 4-tap coefficient (mirrors mc.HPCoef;
// duplicated locally the way the C reference keeps its own copy in
// hme.c rather than sharing bmc.c's).
const hpCoef = 9

const (
	hpSadSz  = 14 // search window edge used by the half-pel refinement
	hpDim    = hpSadSz + 2
	hpStride = hpDim * 2
)

const (
	fpelNSearch = 9 // full-pel diamond search points
	hpelNSearch = 8 // half-pel diamond search points
)

var xf = [fpelNSearch]int{0, 1, -1, 0, 0, -1, 1, -1, 1}
var yf = [fpelNSearch]int{0, 0, 0, 1, -1, -1, -1, 1, 1}
var xh = [hpelNSearch]int{1, -1, 0, 0, -1, 1, -1, 1}
var yh = [hpelNSearch]int{0, 0, 1, -1, -1, -1, 1, 1}

// parentPoints are the five positions (in parent-level block units) a
// child block checks for an inherited candidate vector, besides zero.
var parentPoints = [5][2]int{{0, 0}, {-2, 0}, {2, 0}, {0, -2}, {0, 2}}

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

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// prow returns plane p's row y starting at column x, supporting a
// negative x the way a reference read inside the mirrored border needs.
func prow(p *frame.Plane, x, y int) []byte {
	return p.Data[p.At(x, y):]
}

// sadWH is the sum of absolute differences between two w x h windows.
func sadWH(a *frame.Plane, ax, ay int, b *frame.Plane, bx, by, w, h int) int {
	acc := 0
	for j := 0; j < h; j++ {
		ar := prow(a, ax, ay+j)
		br := prow(b, bx, by+j)
		for i := 0; i < w; i++ {
			acc += absInt(int(ar[i]) - int(br[i]))
		}
	}
	return acc
}

// intraMetric reports whether the zero-motion reference block does more
// good than evil versus a candidate intra block (D.3's caveat: blocks
// with plenty of shared high-frequency detail are kept inter, since
// intra coding would discard that detail).
func intraMetric(a *frame.Plane, ax, ay int, b *frame.Plane, bx, by, w, h int) bool {
	var ngood, nevil uint
	prevRowA := prow(a, ax, ay)
	prevRowB := prow(b, bx, by)
	for j := 0; j < h; j++ {
		ar := prow(a, ax, ay+j)
		br := prow(b, bx, by+j)
		prevA, prevB := int(ar[0]), int(br[0])
		for i := 0; i < w; i++ {
			pa, pb := int(ar[i]), int(br[i])
			dif := absInt(pa - pb)
			ngood += uint(absInt(pa - prevA))
			ngood += uint(absInt(pa - int(prevRowA[i])))
			ngood += uint(absInt(pb - prevB))
			ngood += uint(absInt(pb - int(prevRowB[i])))
			switch dif {
			case 0:
				ngood += 192
			case 1:
				ngood += 128
			case 2:
				ngood += 96
			default:
				nevil += uint(dif)
			}
			prevA, prevB = pa, pb
		}
		prevRowA, prevRowB = ar, br
	}
	return ngood >= uint((w+h)>>1)*nevil
}

// invalidBlock reports whether a w x h block at (x, y) falls outside the
// frame's addressable area, including its mirrored border when present.
func invalidBlock(f *frame.Frame, x, y, w, h int) bool {
	b := 0
	if f.Border {
		b = frame.Border
	}
	return x < -b || y < -b || x+w > f.Width+b || y+h > f.Height+b
}

// blockIntraTest simulates D.3's reduced-range intra BMC to see whether a
// block could not be represented properly as intra: true means the
// reduced-range round trip would lose information, so the block should
// stay inter despite the intra decision chain's verdict.
func blockIntraTest(dec *frame.Plane, dx, dy int, ref *frame.Plane, rx, ry, w, h int) bool {
	ravg := 0
	for j := 0; j < h; j++ {
		r := prow(ref, rx, ry+j)
		for i := 0; i < w; i++ {
			ravg += int(r[i])
		}
	}
	ravg /= w * h

	for j := 0; j < h; j++ {
		d := prow(dec, dx, dy+j)
		for i := 0; i < w; i++ {
			dif := int(clampU8(ravg + int(clampU8(int(d[i])-ravg+128)) - 128))
			if dif != int(d[i]) {
				return true
			}
		}
	}
	return false
}

// gather fills e's scratch float buffer with plane p's w x h window
// starting at (x0, y0), for feeding gonum/stat's moment functions.
func (e *Estimator) gather(p *frame.Plane, x0, y0, w, h int) []float64 {
	buf := e.floatBuf[:w*h]
	k := 0
	for j := 0; j < h; j++ {
		r := prow(p, x0, y0+j)
		for i := 0; i < w; i++ {
			buf[k] = float64(r[i])
			k++
		}
	}
	return buf
}

func (e *Estimator) gatherFlat(b []byte, stride, w, h int) []float64 {
	buf := e.floatBuf[:w*h]
	k := 0
	for j := 0; j < h; j++ {
		r := b[j*stride:]
		for i := 0; i < w; i++ {
			buf[k] = float64(r[i])
			k++
		}
	}
	return buf
}

// sumSqDev converts gonum/stat's Bessel-corrected sample variance back to
// the reference's raw sum-of-squared-deviations statistic
// (sum(x^2) - sum(x)^2/n, exactly stat.Variance's numerator): every HME
// threshold constant is tuned against that unnormalized quantity.
func sumSqDev(samples []float64, variance float64) int {
	return int(variance * float64(len(samples)-1))
}

// blockTexture returns the average, variance, and directional texture of
// a hpSadSz x hpSadSz window starting at (x0, y0).
func (e *Estimator) blockTexture(p *frame.Plane, x0, y0 int) (avg, vari, texture int) {
	var sh, sv int
	prevRow := prow(p, x0, y0)
	for j := 0; j < hpSadSz; j++ {
		r := prow(p, x0, y0+j)
		prev := int(r[hpSadSz-1])
		for i := hpSadSz - 1; i >= 0; i-- {
			px := int(r[i])
			sh += absInt(px - prev)
			sv += absInt(px - int(prevRow[i]))
			prev = px
		}
		prevRow = r
	}
	sh = (sh + sv) / 2
	const n = hpSadSz * hpSadSz

	samples := e.gather(p, x0, y0, hpSadSz, hpSadSz)
	mean, variance := stat.MeanVariance(samples, nil)
	avg = int(mean)
	vari = sumSqDev(samples, variance)
	texture = sh / n
	return
}

// blockTextureBuf is blockTexture over a flat hpSadSz x hpSadSz buffer
// (the cached winning half-pel reference block) instead of a plane.
func (e *Estimator) blockTextureBuf(buf []byte, stride int) (avg, vari, texture int) {
	var sh, sv int
	for j := 0; j < hpSadSz; j++ {
		r := buf[j*stride:]
		var prevRow []byte
		if j == 0 {
			prevRow = r
		} else {
			prevRow = buf[(j-1)*stride:]
		}
		prev := int(r[hpSadSz-1])
		for i := hpSadSz - 1; i >= 0; i-- {
			px := int(r[i])
			sh += absInt(px - prev)
			sv += absInt(px - int(prevRow[i]))
			prev = px
		}
	}
	sh = (sh + sv) / 2
	const n = hpSadSz * hpSadSz

	samples := e.gatherFlat(buf, stride, hpSadSz, hpSadSz)
	mean, variance := stat.MeanVariance(samples, nil)
	avg = int(mean)
	vari = sumSqDev(samples, variance)
	texture = sh / n
	return
}

// blockAnalysis returns the variance and directional texture of a w x h
// window starting at (x0, y0).
func (e *Estimator) blockAnalysis(p *frame.Plane, x0, y0, w, h int) (vari, texture int) {
	var sh, sv int
	prevRow := prow(p, x0, y0)
	for j := 0; j < h; j++ {
		r := prow(p, x0, y0+j)
		prev := int(r[w-1])
		for i := w - 1; i >= 0; i-- {
			px := int(r[i])
			sh += absInt(px - prev)
			sv += absInt(px - int(prevRow[i]))
			prev = px
		}
		prevRow = r
	}
	sh = (sh + sv) / 2
	texture = sh / (w * h)

	samples := e.gather(p, x0, y0, w, h)
	_, variance := stat.MeanVariance(samples, nil)
	vari = sumSqDev(samples, variance)
	return
}

// ySqrVar returns the plain sample variance of a w x h window.
func (e *Estimator) ySqrVar(p *frame.Plane, x0, y0, w, h int) int {
	samples := e.gather(p, x0, y0, w, h)
	_, variance := stat.MeanVariance(samples, nil)
	return sumSqDev(samples, variance)
}

// cMaxVar returns the larger of the U and V chroma plane variances over a
// w x h window, used by the intra decision's chroma check.
func (e *Estimator) cMaxVar(u, v *frame.Plane, x, y, w, h int) int {
	samplesU := e.gather(u, x, y, w, h)
	_, varU := stat.MeanVariance(samplesU, nil)
	vu := sumSqDev(samplesU, varU)

	samplesV := e.gather(v, x, y, w, h)
	_, varV := stat.MeanVariance(samplesV, nil)
	vv := sumSqDev(samplesV, varV)

	if vu > vv {
		return vu
	}
	return vv
}

func hpfhAt(p *frame.Plane, x, y int) int32 {
	return hpCoef*(int32(p.Get(x, y))+int32(p.Get(x+1, y))) -
		(int32(p.Get(x-1, y)) + int32(p.Get(x+2, y)))
}

func hpfvAt(p *frame.Plane, x, y int) int32 {
	return hpCoef*(int32(p.Get(x, y))+int32(p.Get(x, y+1))) -
		(int32(p.Get(x, y-1)) + int32(p.Get(x, y+2)))
}

// hpel fills buf (row stride hpStride*2) with a half-pel-interleaved
// window around (rx, ry): even rows/columns hold full-pel samples, odd
// rows/columns the corresponding half-pel interpolated samples, so any
// of the four sub-pel phases can be read back by striding through it.
func hpel(buf []byte, ref *frame.Plane, rx, ry int) {
	const stride = hpStride
	for j := 0; j < hpDim; j++ {
		base := (j * 2) * stride
		for i := 0; i < hpDim; i++ {
			x, y := rx+i, ry+j
			col := i * 2
			buf[base+col] = ref.Get(x, y)
			buf[base+col+1] = clampU8(int(hpfhAt(ref, x, y)+8) >> 4)
			buf[base+stride+col] = clampU8(int(hpfvAt(ref, x, y)+8) >> 4)
			c := hpCoef*(hpfhAt(ref, x, y)+hpfhAt(ref, x, y+1)) -
				(hpfhAt(ref, x, y-1) + hpfhAt(ref, x, y+2))
			buf[base+stride+col+1] = clampU8(int(c+128) >> 8)
		}
	}
}

// hpsad sums absolute differences between a hpSadSz x hpSadSz source
// window and the phase of buf starting at flat offset off.
func hpsad(src *frame.Plane, sx, sy int, buf []byte, off int) int {
	acc := 0
	for j := 0; j < hpSadSz; j++ {
		sr := prow(src, sx, sy+j)
		row := buf[off+j*hpStride*2:]
		for i := 0; i < hpSadSz; i++ {
			acc += absInt(int(sr[i]) - int(row[i<<1]))
		}
	}
	return acc
}

// hpcpy copies the chosen phase of buf (starting at flat offset off)
// into dst, used to cache the winning sub-pel reference block for the
// texture/variance comparisons that follow.
func hpcpy(dst []byte, dstStride int, buf []byte, off int) {
	for j := 0; j < hpSadSz; j++ {
		row := buf[off+j*hpStride*2:]
		drow := dst[j*dstStride:]
		for i := 0; i < hpSadSz; i++ {
			drow[i] = row[i<<1]
		}
	}
}

// fpcpy copies a hpSadSz x hpSadSz full-pel block directly from ref.
func fpcpy(dst []byte, dstStride int, ref *frame.Plane, rx, ry int) {
	for j := 0; j < hpSadSz; j++ {
		copy(dst[j*dstStride:j*dstStride+hpSadSz], prow(ref, rx, ry+j))
	}
}

// Params is the block grid geometry and chroma format an Estimator needs,
// matching the fields of DSV_PARAMS that hme.c reads.
type Params struct {
	BlockW, BlockH     int
	NBlocksH, NBlocksV int
	Subsamp            frame.Format
}

// Result is one frame's motion field plus the percentage of blocks
// decided intra, mirroring dsv_hme's return value.
type Result struct {
	Vectors  []block.MV
	IntraPct int
}

// Estimator owns the downsample pyramid and per-level motion fields
// across calls. Repeated Estimate calls at the same frame size reuse the
// pyramid frames instead of allocating a fresh pyramid each time; each
// call allocates new per-level motion fields.
// Keeping this state per instance (rather than hme.c's function-local
// statics) is what lets independent encoder instances run concurrently.
type Estimator struct {
	pyrSrc []*frame.Frame
	pyrRef []*frame.Frame
	mvf    [][]block.MV

	hpelBuf  [hpStride * hpDim * 2]byte
	refBlock [hpSadSz * hpSadSz]byte
	floatBuf [frame.Border * frame.Border]float64
}

func buildPyramid(pyr *[]*frame.Frame, base *frame.Frame, levels int) {
	p := *pyr
	if cap(p) < levels+1 {
		p = make([]*frame.Frame, levels+1)
	}
	p = p[:levels+1]
	p[0] = base
	w, h := base.Width, base.Height
	for lvl := 1; lvl <= levels; lvl++ {
		w = (w + 1) / 2
		h = (h + 1) / 2
		if p[lvl] == nil || p[lvl].Width != w || p[lvl].Height != h {
			p[lvl] = frame.New(base.Format, w, h, true)
		}
		frame.Downsample2xLuma(p[lvl], p[lvl-1])
		frame.ExtendLuma(p[lvl])
	}
	*pyr = p
}

// Estimate runs the coarse-to-fine hierarchical search between src and
// ref (both full resolution, bordered frames with an extended luma
// border) across levels+1 pyramid levels, and returns the full
// resolution motion field.
func (e *Estimator) Estimate(src, ref *frame.Frame, p Params, levels int) Result {
	buildPyramid(&e.pyrSrc, src, levels)
	buildPyramid(&e.pyrRef, ref, levels)

	if cap(e.mvf) < levels+1 {
		e.mvf = make([][]block.MV, levels+1)
	}
	e.mvf = e.mvf[:levels+1]

	nintra := 0
	for level := levels; level >= 0; level-- {
		nintra = e.refineLevel(level, levels, p)
	}

	total := p.NBlocksH * p.NBlocksV
	pct := 0
	if total > 0 {
		pct = (nintra * 100) / total
	}
	return Result{Vectors: e.mvf[0], IntraPct: pct}
}

func (e *Estimator) refineLevel(level, levels int, p Params) int {
	srcF := e.pyrSrc[level]
	refF := e.pyrRef[level]
	sp := &srcF.Planes[0]
	rp := &refF.Planes[0]

	nxb, nyb := p.NBlocksH, p.NBlocksV
	yW, yH := p.BlockW, p.BlockH
	hpelThresh := yW * yH

	mf := make([]block.MV, nxb*nyb)
	e.mvf[level] = mf

	var parent []block.MV
	if level < levels {
		parent = e.mvf[level+1]
	}

	step := 1 << uint(level)
	parentMask := ^((step << 1) - 1)

	nintra := 0

	for j := 0; j < nyb; j += step {
		for i := 0; i < nxb; i += step {
			bx := (i * yW) >> uint(level)
			by := (j * yH) >> uint(level)

			if bx >= sp.W || by >= sp.H {
				mf[i+j*nxb] = block.MV{Mode: block.ModeInter}
				continue
			}

			bw, bh := yW, yH
			if bw > sp.W-bx {
				bw = sp.W - bx
			}
			if bh > sp.H-by {
				bh = sp.H - by
			}

			inherited := make([]block.MV, 0, 6)
			inherited = append(inherited, block.MV{})
			if parent != nil {
				pi := i & parentMask
				pj := j & parentMask
				for m := 0; m < 5; m++ {
					x := pi + parentPoints[m][0]*step
					y := pj + parentPoints[m][1]*step
					if x < 0 || x >= nxb || y < 0 || y >= nyb {
						continue
					}
					pv := parent[x+y*nxb]
					if pv.X == 0 && pv.Y == 0 {
						continue
					}
					exists := false
					for _, c := range inherited {
						if c.Equal(pv) {
							exists = true
							break
						}
					}
					if !exists {
						inherited = append(inherited, pv)
					}
				}
			}

			best := inherited[len(inherited)-1]
			if len(inherited) > 1 {
				bestScore := math.MaxInt32
				for _, cand := range inherited {
					if invalidBlock(srcF, bx, by, bw, bh) {
						continue
					}
					dx := int(cand.X) >> uint(level)
					dy := int(cand.Y) >> uint(level)
					if invalidBlock(refF, bx+dx, by+dy, bw, bh) {
						continue
					}
					score := sadWH(sp, bx, by, rp, bx+dx, by+dy, bw, bh)
					if score < bestScore {
						bestScore = score
						best = cand
					}
				}
			}

			dx := int(best.X) >> uint(level)
			dy := int(best.Y) >> uint(level)
			dx = clampInt(dx, -bw-bx, refF.Width-bx)
			dy = clampInt(dy, -bh-by, refF.Height-by)

			fBest := math.MaxInt32
			fm := 0
			xx, yy := bx+dx, by+dy
			for k := 0; k < fpelNSearch; k++ {
				score := sadWH(sp, bx, by, rp, xx+xf[k], yy+yf[k], bw, bh)
				if score < fBest {
					fBest = score
					fm = k
				}
			}
			dx += xf[fm]
			dy += yf[fm]

			mv := block.MV{Mode: block.ModeInter, X: int16(dx << uint(level)), Y: int16(dy << uint(level))}

			if level == 0 {
				if e.refineBaseLevel(srcF, refF, sp, rp, bx, by, bw, bh, fBest, hpelThresh, &mv, mf, i, j, nxb, p) {
					nintra++
				}
			}

			mf[i+j*nxb] = mv
		}
	}
	return nintra
}

// refineBaseLevel performs the base level's half-pel refinement and the
// intra decision chain for one block, updating mv in place. It reports
// whether the block was decided intra.
func (e *Estimator) refineBaseLevel(srcF, refF *frame.Frame, sp, rp *frame.Plane, bx, by, bw, bh, fpelBest, hpelThresh int, mv *block.MV, mf []block.MV, i, j, nxb int, p Params) bool {
	yarea := bw * bh
	yareaSq := yarea * yarea
	hasHPBlock := false

	xx := bx + (bw>>1 - hpSadSz/2)
	yy := by + (bh>>1 - hpSadSz/2)

	best := fpelBest
	if fpelBest > hpelThresh {
		bestHP := fpelBest * (hpSadSz * hpSadSz) / yarea
		rxx := xx + int(mv.X)
		ryy := yy + int(mv.Y)
		hpel(e.hpelBuf[:], rp, rxx-1, ryy-1)

		base := 2 + 2*hpStride
		m := -1
		for k := 0; k < hpelNSearch; k++ {
			off := base + xh[k] + yh[k]*hpStride
			score := hpsad(sp, xx, yy, e.hpelBuf[:], off)
			if score < bestHP {
				bestHP = score
				m = k
			}
		}
		mv.X <<= 1
		mv.Y <<= 1
		if m != -1 {
			mv.X += int16(xh[m])
			mv.Y += int16(yh[m])
			off := base + xh[m] + yh[m]*hpStride
			hpcpy(e.refBlock[:], hpSadSz, e.hpelBuf[:], off)
			hasHPBlock = true
			best = bestHP * yarea / (hpSadSz * hpSadSz)
		}
	} else {
		mv.X <<= 1
		mv.Y <<= 1
	}

	if !hasHPBlock {
		rxx := xx + (int(mv.X) >> 1)
		ryy := yy + (int(mv.Y) >> 1)
		fpcpy(e.refBlock[:], hpSadSz, rp, rxx, ryy)
	}

	lumaVar, lumaTex := e.blockAnalysis(sp, bx, by, bw, bh)
	mv.LowTexture = lumaTex <= 2
	mv.LowVariance = lumaVar < yareaSq

	srcAvg, srcVar, srcTex := e.blockTexture(sp, xx, yy)
	refAvg, refVar, refTex := e.blockTextureBuf(e.refBlock[:], hpSadSz)

	threshVar := hpSadSz * hpSadSz
	threshTex := 1
	if i > 0 {
		pmv := &mf[j*nxb+(i-1)]
		if pmv.Mode == block.ModeInter && !pmv.LowTexture && !pmv.LowVariance {
			threshVar *= hpSadSz
			threshTex++
		}
	}
	if j > 0 {
		pmv := &mf[(j-1)*nxb+i]
		if pmv.Mode == block.ModeInter && !pmv.LowTexture && !pmv.LowVariance {
			threshVar *= hpSadSz
			threshTex++
		}
	}
	if i > 0 && j > 0 {
		pmv := &mf[(j-1)*nxb+(i-1)]
		if pmv.Mode == block.ModeInter && !pmv.LowTexture && !pmv.LowVariance {
			threshVar *= hpSadSz / 4
			threshTex++
		}
	}
	mv.HighDetail = lumaTex > threshTex && srcVar > threshVar

	wantsIntra := false
	switch {
	case srcTex < 2 && e.ySqrVar(rp, bx, by, bw, bh) > lumaVar*2:
		wantsIntra = true
	case refVar > srcVar*2:
		wantsIntra = true
	case srcTex == 0 && refTex != 0:
		wantsIntra = true
	case absInt(srcAvg-refAvg) > 8:
		wantsIntra = true
	case lumaTex <= 10 && best > yareaSq/16:
		wantsIntra = true
	}
	if !wantsIntra {
		subsamp := p.Subsamp
		hsh, vsh := subsamp.HShift(), subsamp.VShift()
		cbx := i * (p.BlockW >> uint(hsh))
		cby := j * (p.BlockH >> uint(vsh))
		cbw := bw >> uint(hsh)
		cbh := bh >> uint(vsh)
		if cbw > 0 && cbh > 0 {
			srcU, srcV := &srcF.Planes[1], &srcF.Planes[2]
			refU, refV := &refF.Planes[1], &refF.Planes[2]
			cvarS := e.cMaxVar(srcU, srcV, cbx, cby, cbw, cbh)
			cvarR := e.cMaxVar(refU, refV, cbx, cby, cbw, cbh)
			if cvarR > 4*cvarS {
				wantsIntra = true
			}
		}
	}

	if !wantsIntra {
		return false
	}

	if blockIntraTest(sp, bx, by, rp, bx, by, bw, bh) {
		return false
	}

	mv.SubMask = block.MaskAllIntra
	if srcTex > 1 {
		masks := [4]uint8{block.MaskIntra00, block.MaskIntra01, block.MaskIntra10, block.MaskIntra11}
		sbw, sbh := bw/2, bh/2
		idx := 0
		for g := 0; g <= sbh; g += sbh {
			for f := 0; f <= sbw; f += sbw {
				if intraMetric(sp, bx+f, by+g, rp, bx+f, by+g, sbw, sbh) {
					mv.SubMask &^= masks[idx]
				}
				idx++
			}
		}
	}

	if mv.SubMask == 0 {
		return false
	}
	mv.Mode = block.ModeIntra
	return true
}

