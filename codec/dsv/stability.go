/*
NAME
  stability.go

DESCRIPTION
  stability.go implements DSV-1's per-block stability accumulator
  (encode_stable_blocks): a cross-frame cache of how much each block has
  moved recently, used to build the stability map that HZCC consults
  when choosing each block's quantizer.
  Per §9's design note, this accumulator lives on the encoder instance
  and is mutated once per P-frame; the decoder only ever sees the final
  bit-per-block map and never replays it.

AUTHOR
  Digital Subband Video contributors
*/

package dsv

import (
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/bits"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/block"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/hzcc"
)

// notWorthBits pins a block's accumulator so it no longer reads as
// "near zero motion" once it's been flagged low-texture or low-variance
// (not worth spending bits on), until the next refresh zeroes it.
const notWorthBits = 0x3fff

// stabilityState is the encoder's per-block motion-stability cache.
type stabilityState struct {
	accX, accY   []int32
	refreshCtr   int
	refreshLimit int
}

func newStabilityState(nblocks, refreshLimit int) *stabilityState {
	if refreshLimit < 1 {
		refreshLimit = 1
	}
	return &stabilityState{
		accX:         make([]int32, nblocks),
		accY:         make([]int32, nblocks),
		refreshLimit: refreshLimit,
	}
}

// compute updates the accumulator for one frame and returns the
// per-block stable_blocks byte (bit 0 = stable, bit 1 = originating
// block was intra-coded), mirroring encode_stable_blocks. hasRef
// reports whether this is a P-frame; vecs is only consulted when it is.
func (s *stabilityState) compute(vecs []block.MV, hasRef bool) []uint8 {
	n := len(s.accX)
	if s.refreshCtr >= s.refreshLimit {
		s.refreshCtr = 0
		for i := range s.accX {
			s.accX[i] = 0
			s.accY[i] = 0
		}
	}
	avgdiv := int32(s.refreshCtr)
	if avgdiv < 1 {
		avgdiv = 1
	}

	out := make([]uint8, n)
	for i := 0; i < n; i++ {
		var stable, intraBlock uint8
		if hasRef {
			mv := vecs[i]
			if mv.Mode == block.ModeInter {
				s.accX[i] += int32(absInt16(mv.X)) >> 2
				s.accY[i] += int32(absInt16(mv.Y)) >> 2
				if mv.HighDetail {
					stable = 1
				}
				ax, ay := s.accX[i]/avgdiv, s.accY[i]/avgdiv
				if ax == 0 && ay == 0 && !mv.LowTexture && !mv.LowVariance {
					stable = 1
				}
			} else {
				intraBlock = 1
			}
			if mv.LowTexture || mv.LowVariance {
				s.accX[i] = notWorthBits
				s.accY[i] = notWorthBits
			}
		} else {
			ax, ay := s.accX[i]/avgdiv, s.accY[i]/avgdiv
			if ax == 0 && ay == 0 {
				stable = 1
			}
		}
		out[i] = stable | (intraBlock << 1)
	}
	return out
}

func absInt16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

// encodeStableBlocks appends the picture packet's stable-blocks section
// (§6.1): UEG(byte length), align, then the ZBRLE-coded stable bit per
// block in row-major order.
func encodeStableBlocks(bw *bits.Writer, stableBlocks []uint8) error {
	buf := make([]byte, len(stableBlocks)+16)
	sub := bits.NewWriter(buf)
	rl := bits.NewRLEWriter(sub)
	for _, b := range stableBlocks {
		if err := rl.Put(b&1 != 0); err != nil {
			return err
		}
	}
	if _, err := rl.End(); err != nil {
		return err
	}

	bw.Align()
	if err := bw.PutUEG(uint32(sub.BytePos())); err != nil {
		return err
	}
	bw.Align()
	return bw.Concat(sub.Bytes()[:sub.BytePos()])
}

// decodeStableBlocks reverses encodeStableBlocks, returning bit 0
// (stable-across-the-GOP) per block. Bit 1 (intra-origin) is never
// transmitted on the wire: the encoder derives it from the current
// frame's own motion field, which the decoder also has by the time it
// needs it (motion data precedes the quantized planes in the picture
// packet) — see combineIntraBit.
func decodeStableBlocks(br *bits.Reader, bp block.Params) ([]uint8, error) {
	br.Align()
	n, err := br.GetUEG()
	if err != nil {
		return nil, err
	}
	br.Align()
	sub, err := br.Sub(int(n))
	if err != nil {
		return nil, err
	}
	rl := bits.NewRLEReader(sub)
	blocks := make([]uint8, bp.NBlocksH*bp.NBlocksV)
	for i := range blocks {
		stable, err := rl.Get()
		if err != nil {
			return nil, err
		}
		if stable {
			blocks[i] = 1
		}
	}
	if err := rl.End(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// combineIntraBit ORs each block's intra-origin bit (bit 1) into a
// decoded stable-bit map, using the frame's own decoded motion field:
// a block only carries the bit when this is a P-frame and that block
// was coded intra, matching encode_stable_blocks exactly.
func combineIntraBit(stable []uint8, vecs []block.MV, bp block.Params, hasRef bool) hzcc.StableBlocks {
	if hasRef {
		for i, mv := range vecs {
			if mv.Mode == block.ModeIntra {
				stable[i] |= 1 << 1
			}
		}
	}
	return hzcc.StableBlocks{Blocks: stable, NBlocksH: bp.NBlocksH, NBlocksV: bp.NBlocksV}
}
