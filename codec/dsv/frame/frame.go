/*
NAME
  frame.go

DESCRIPTION
  frame.go implements the DSV-1 frame/plane model: planar YUV storage with
  a mirrored border suitable for motion compensation and sub-pixel
  filtering, reference-counted ownership, and the luma-only downsample
  pyramid used by hierarchical motion estimation.

AUTHOR
  Digital Subband Video contributors
*/

// Package frame implements the DSV-1 plane/frame storage model.
package frame

import "github.com/pkg/errors"

// Format identifies a chroma subsampling layout via a horizontal/vertical
// shift pair, matching DSV-1's two-nibble subsampling code.
type Format int

// The four subsampling layouts DSV-1 defines.
const (
	Subsamp444 Format = iota
	Subsamp422
	Subsamp420
	Subsamp411
)

// HShift and VShift return the chroma plane's horizontal/vertical
// downscale shift relative to luma.
func (f Format) HShift() int {
	switch f {
	case Subsamp422, Subsamp420:
		return 1
	case Subsamp411:
		return 2
	default:
		return 0
	}
}

func (f Format) VShift() int {
	if f == Subsamp420 {
		return 1
	}
	return 0
}

// ErrBadFormat is returned for a subsampling code outside the four defined
// layouts.
var ErrBadFormat = errors.New("frame: unknown subsampling format")

// Valid reports whether f is one of the four defined layouts.
func (f Format) Valid() bool {
	return f >= Subsamp444 && f <= Subsamp411
}

// Border is the mirrored border width around each plane, also the maximum
// block size DSV-1 supports.
const Border = 64

// roundPow2 rounds v up to the next multiple of 1<<p.
func roundPow2(v, p int) int {
	mask := (1 << uint(p)) - 1
	return (v + mask) &^ mask
}

// roundShift rounds v right by sh with the "round half up" convention used
// for deriving chroma plane dimensions.
func roundShift(v, sh int) int {
	if sh == 0 {
		return v
	}
	return (v + (1 << uint(sh-1))) >> uint(sh)
}

// Plane is one 8-bit sample plane, addressable from -Border to W+Border-1
// on both axes when its owning Frame carries a border.
type Plane struct {
	Data    []byte // backing storage; origin lies Border*Stride+Border in when bordered
	Origin  int    // index of (0,0) within Data
	Stride  int
	W, H    int
	HS, VS  int // subsampling shift relative to luma
}

// At returns the index into Data for sample (x, y).
func (p *Plane) At(x, y int) int {
	return p.Origin + y*p.Stride + x
}

// Get returns the sample at (x, y).
func (p *Plane) Get(x, y int) byte {
	return p.Data[p.At(x, y)]
}

// Set stores v at (x, y).
func (p *Plane) Set(x, y int, v byte) {
	p.Data[p.At(x, y)] = v
}

// Line returns the plane row y as a slice of length Stride starting at
// column 0 (not accounting for any negative-x border to the left).
func (p *Plane) Line(y int) []byte {
	off := p.At(0, y)
	return p.Data[off : off+p.Stride]
}

// Frame is a 3-plane (Y, U, V) reference-counted image buffer.
type Frame struct {
	Format Format
	Width  int
	Height int
	Border bool
	Planes [3]Plane

	alloc []byte
	refc  *int
}

func newPlaneDims(format Format, width, height int, bordered bool) (lw, lh, cw, ch, ext int) {
	hs, vs := format.HShift(), format.VShift()
	cw = roundShift(width, hs)
	ch = roundShift(height, vs)
	if bordered {
		ext = Border
	}
	return width, height, cw, ch, ext
}

// New allocates a frame with the given format and dimensions. When border
// is true, every plane carries an extra Border-sample mirrored margin on
// all four sides, legally addressable via Plane.At with negative x/y.
func New(format Format, width, height int, border bool) *Frame {
	lw, lh, cw, ch, ext := newPlaneDims(format, width, height, border)
	hs, vs := format.HShift(), format.VShift()

	f := &Frame{Format: format, Width: width, Height: height, Border: border}
	refc := 1
	f.refc = &refc

	strideOf := func(w int) int { return roundPow2(w+ext*2, 4) }
	lenOf := func(stride, h int) int { return stride * (h + ext*2) }

	lumaStride := strideOf(lw)
	chromaStride := strideOf(cw)
	lumaLen := lenOf(lumaStride, lh)
	chromaLen := lenOf(chromaStride, ch)

	f.alloc = make([]byte, lumaLen+2*chromaLen)

	f.Planes[0] = Plane{Data: f.alloc, Stride: lumaStride, W: lw, H: lh, HS: 0, VS: 0}
	f.Planes[0].Origin = lumaStride*ext + ext

	f.Planes[1] = Plane{Data: f.alloc, Stride: chromaStride, W: cw, H: ch, HS: hs, VS: vs}
	f.Planes[1].Origin = lumaLen + chromaStride*ext + ext

	f.Planes[2] = Plane{Data: f.alloc, Stride: chromaStride, W: cw, H: ch, HS: hs, VS: vs}
	f.Planes[2].Origin = lumaLen + chromaLen + chromaStride*ext + ext

	return f
}

// LoadPlanar wraps a tightly-packed planar buffer (no border, no padding)
// without copying, for feeding raw input frames into the encoder.
func LoadPlanar(format Format, data []byte, width, height int) *Frame {
	hs, vs := format.HShift(), format.VShift()
	cw := roundShift(width, hs)
	ch := roundShift(height, vs)

	refc := 1
	f := &Frame{Format: format, Width: width, Height: height, refc: &refc}

	lumaLen := width * height
	chromaLen := cw * ch

	f.Planes[0] = Plane{Data: data, Stride: width, W: width, H: height}
	f.Planes[1] = Plane{Data: data[lumaLen:], Stride: cw, W: cw, H: ch, HS: hs, VS: vs}
	f.Planes[2] = Plane{Data: data[lumaLen+chromaLen:], Stride: cw, W: cw, H: ch, HS: hs, VS: vs}
	return f
}

// Ref increments the frame's reference count and returns the frame, for
// handing a shared reference to another owner.
func (f *Frame) Ref() *Frame {
	*f.refc++
	return f
}

// Unref decrements the reference count. The caller must not use f again
// after calling Unref unless it still holds another live reference.
func (f *Frame) Unref() {
	*f.refc--
}

// Refcount reports the current reference count, for tests and invariants.
func (f *Frame) Refcount() int { return *f.refc }

// Copy copies src's plane contents into dst (dimensions must match) and
// re-extends dst's border if it has one.
func Copy(dst, src *Frame) {
	for c := 0; c < 3; c++ {
		sp, dp := &src.Planes[c], &dst.Planes[c]
		for y := 0; y < dp.H; y++ {
			copy(dp.Line(y)[:dp.W], sp.Line(y)[:sp.W])
		}
	}
	if dst.Border {
		Extend(dst)
	}
}

// Clone allocates a new frame with the requested border setting and
// copies src's samples into it.
func Clone(src *Frame, border bool) *Frame {
	d := New(src.Format, src.Width, src.Height, border)
	Copy(d, src)
	Extend(d)
	return d
}

// Extend fills a bordered frame's mirrored margin by edge replication on
// all three planes: a no-op when the frame carries no border.
func Extend(f *Frame) *Frame {
	if !f.Border {
		return f
	}
	for c := 0; c < 3; c++ {
		extendPlane(&f.Planes[c])
	}
	return f
}

// ExtendLuma extends only the luma plane's border, used when building the
// motion-estimation pyramid (chroma is never pyramided).
func ExtendLuma(f *Frame) *Frame {
	if !f.Border {
		return f
	}
	extendPlane(&f.Planes[0])
	return f
}

func extendPlane(p *Plane) {
	w, h := p.W, p.H
	totalW := w + Border*2

	for y := 0; y < h; y++ {
		line := p.Line(y)
		left := line[0]
		right := line[w-1]
		for x := 1; x <= Border; x++ {
			p.Set(-x, y, left)
		}
		for x := 0; x <= Border; x++ {
			p.Set(w-1+x, y, right)
		}
	}
	for y := 0; y < Border; y++ {
		top := p.Data[p.At(-Border, 0) : p.At(-Border, 0)+totalW]
		dst := p.Data[p.At(-Border, -y-1) : p.At(-Border, -y-1)+totalW]
		copy(dst, top)

		bot := p.Data[p.At(-Border, h-1) : p.At(-Border, h-1)+totalW]
		dst2 := p.Data[p.At(-Border, h+y) : p.At(-Border, h+y)+totalW]
		copy(dst2, bot)
	}
}

// AvgLuma returns the average luma sample value over the whole plane,
// used by scene-change detection on the coarsest pyramid level.
func AvgLuma(f *Frame) int {
	p := &f.Planes[0]
	acc := 0
	for y := 0; y < p.H; y++ {
		line := p.Line(y)
		for x := 0; x < p.W; x++ {
			acc += int(line[x])
		}
	}
	return acc / (p.W * p.H)
}

// Downsample2xLuma fills dst's luma plane with a 2x2 box-averaged half
// resolution copy of src's luma plane. dst must already be sized to half
// src's luma dimensions (rounded as New computed them).
func Downsample2xLuma(dst, src *Frame) {
	s := &src.Planes[0]
	d := &dst.Planes[0]
	for y := 0; y < d.H; y++ {
		sLine0 := s.Line(y * 2)
		sLine1 := s.Line(y*2 + 1)
		dLine := d.Line(y)
		bp := 0
		for x := 0; x < d.W; x++ {
			p1 := int(sLine0[bp])
			p2 := int(sLine0[bp+1])
			p3 := int(sLine1[bp])
			p4 := int(sLine1[bp+1])
			dLine[x] = byte((p1 + p2 + p3 + p4 + 2) >> 2)
			bp += 2
		}
	}
}

// SubPlane returns a view of frame's plane c starting at (x, y), with W/H
// clamped to the remaining extent. Used when motion compensation needs a
// window onto a plane without copying.
func SubPlane(f *Frame, c, x, y int) Plane {
	p := &f.Planes[c]
	w := p.W - x
	if w < 0 {
		w = 0
	}
	h := p.H - y
	if h < 0 {
		h = 0
	}
	return Plane{
		Data:   p.Data,
		Origin: p.At(x, y),
		Stride: p.Stride,
		W:      w,
		H:      h,
		HS:     p.HS,
		VS:     p.VS,
	}
}
