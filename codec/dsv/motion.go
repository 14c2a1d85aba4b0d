/*
NAME
  motion.go

DESCRIPTION
  motion.go implements DSV-1's motion-vector prediction and the
  four-substream motion data packet (§4.7, §6.1): mode, mv_x, mv_y and
  sub-block-intra-mask, each independently length-prefixed.

AUTHOR
  Digital Subband Video contributors
*/

package dsv

import (
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/bits"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/block"
)

// predAxis is dsv_movec_pred's per-axis median-of-three-ish rule: pick
// whichever of left/top sits closer to left+top-topleft.
func predAxis(left, top, topleft int) int {
	dif := left + top - topleft
	if absInt(dif-left) < absInt(dif-top) {
		return left
	}
	return top
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// PredictMV predicts a block's motion vector from its left, top and
// top-left neighbors (dsv_movec_pred), zeroing any neighbor that isn't
// itself inter-coded. Callers on the frame's top row or left column pass
// a zero MV for the missing neighbors.
func PredictMV(left, top, topleft block.MV) block.MV {
	lx, ly, tx, ty, cx, cy := 0, 0, 0, 0, 0, 0
	if left.Mode == block.ModeInter {
		lx, ly = int(left.X), int(left.Y)
	}
	if top.Mode == block.ModeInter {
		tx, ty = int(top.X), int(top.Y)
	}
	if topleft.Mode == block.ModeInter {
		cx, cy = int(topleft.X), int(topleft.Y)
	}
	return block.MV{
		X: int16(predAxis(lx, tx, cx)),
		Y: int16(predAxis(ly, ty, cy)),
	}
}

// neighborMV returns the MV at (bx, by), or the zero MV if that
// position falls outside the grid (left column / top row).
func neighborMV(vecs []block.MV, bp block.Params, bx, by int) block.MV {
	if bx < 0 || by < 0 {
		return block.MV{}
	}
	return *bp.At(vecs, bx, by)
}

// encodeMotion writes the motion data section of a picture packet
// (§6.1, encode_motion): mode via ZBRLE (INTER is the common/cheap
// case), mv.x/mv.y prediction residuals via SEG, and the sub-block
// intra mask, each its own length-prefixed, byte-aligned sub-stream.
func encodeMotion(bw *bits.Writer, vecs []block.MV, bp block.Params) error {
	n := bp.NBlocksH * bp.NBlocksV

	modeBuf := make([]byte, n+16)
	modeW := bits.NewWriter(modeBuf)
	modeRL := bits.NewRLEWriter(modeW)

	mvBuf := make([]byte, n*10+8)
	mvxW := bits.NewWriter(mvBuf)
	mvyBuf := make([]byte, n*10+8)
	mvyW := bits.NewWriter(mvyBuf)

	sbimBuf := make([]byte, n+8)
	sbimW := bits.NewWriter(sbimBuf)

	for j := 0; j < bp.NBlocksV; j++ {
		for i := 0; i < bp.NBlocksH; i++ {
			mv := bp.At(vecs, i, j)
			if err := modeRL.Put(mv.Mode == block.ModeIntra); err != nil {
				return err
			}
			if mv.Mode == block.ModeInter {
				pred := PredictMV(
					neighborMV(vecs, bp, i-1, j),
					neighborMV(vecs, bp, i, j-1),
					neighborMV(vecs, bp, i-1, j-1),
				)
				if err := mvxW.PutSEG(int32(mv.X) - int32(pred.X)); err != nil {
					return err
				}
				if err := mvyW.PutSEG(int32(mv.Y) - int32(pred.Y)); err != nil {
					return err
				}
				continue
			}
			if mv.SubMask == block.MaskAllIntra {
				if err := sbimW.PutBit(1); err != nil {
					return err
				}
				continue
			}
			if err := sbimW.PutBit(0); err != nil {
				return err
			}
			if err := sbimW.PutBits(4, uint32(mv.SubMask)); err != nil {
				return err
			}
		}
	}
	if _, err := modeRL.End(); err != nil {
		return err
	}

	for _, sub := range []*bits.Writer{modeW, mvxW, mvyW, sbimW} {
		sub.Align()
		bw.Align()
		if err := bw.PutUEG(uint32(sub.BytePos())); err != nil {
			return err
		}
		bw.Align()
		if err := bw.Concat(sub.Bytes()[:sub.BytePos()]); err != nil {
			return err
		}
	}
	return nil
}

// decodeMotion reverses encodeMotion, filling vecs (already sized
// NBlocksH*NBlocksV) with decoded modes and motion vectors. Sub-block
// intra masks and motion vectors are resolved in the same row-major
// order they were written, since mv.x/mv.y prediction depends on
// already-decoded neighbors.
func decodeMotion(br *bits.Reader, vecs []block.MV, bp block.Params) error {
	subs := make([]*bits.Reader, 4)
	for k := range subs {
		br.Align()
		n, err := br.GetUEG()
		if err != nil {
			return err
		}
		br.Align()
		sub, err := br.Sub(int(n))
		if err != nil {
			return err
		}
		subs[k] = sub
	}
	modeR := bits.NewRLEReader(subs[0])
	mvxR, mvyR, sbimR := subs[1], subs[2], subs[3]

	for j := 0; j < bp.NBlocksV; j++ {
		for i := 0; i < bp.NBlocksH; i++ {
			isIntra, err := modeR.Get()
			if err != nil {
				return err
			}
			mv := bp.At(vecs, i, j)
			if !isIntra {
				mv.Mode = block.ModeInter
				pred := PredictMV(
					neighborMV(vecs, bp, i-1, j),
					neighborMV(vecs, bp, i, j-1),
					neighborMV(vecs, bp, i-1, j-1),
				)
				dx, err := mvxR.GetSEG()
				if err != nil {
					return err
				}
				dy, err := mvyR.GetSEG()
				if err != nil {
					return err
				}
				mv.X = int16(int32(pred.X) + dx)
				mv.Y = int16(int32(pred.Y) + dy)
				continue
			}
			mv.Mode = block.ModeIntra
			allIntra, err := sbimR.GetBit()
			if err != nil {
				return err
			}
			if allIntra != 0 {
				mv.SubMask = block.MaskAllIntra
				continue
			}
			sm, err := sbimR.GetBits(4)
			if err != nil {
				return err
			}
			mv.SubMask = uint8(sm)
		}
	}
	return modeR.End()
}
