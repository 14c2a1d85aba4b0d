/*
NAME
  packet.go

DESCRIPTION
  packet.go implements DSV-1's packet-chain framing: the 14-byte header
  every packet carries, the prev_link/next_link byte-offset chain that
  lets a reader walk the stream in either direction, and the metadata
  and end-of-stream packet bodies.

AUTHOR
  Digital Subband Video contributors
*/

// Package dsv implements the DSV-1 block-based subband-transform video
// codec: packet-chain framing plus the Encoder/Decoder that drive the
// sbt/hzcc/mc/hme sub-packages.
package dsv

import (
	"encoding/binary"

	"github.com/ausocean/utils/logging"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/bits"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/config"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
)

// Log receives diagnostics from Encoder/Decoder. Left unset, logging is
// silent, following the package-level Log idiom used throughout this
// codebase (codec/jpeg/lex.go, codec/dsv/config/watch.go).
var Log logging.Logger

// Metadata is the stream description carried in every metadata packet.
type Metadata = config.Metadata

// fourCC is the four-byte magic every packet begins with.
var fourCC = [4]byte{'D', 'S', 'V', '1'}

// headerSize is the fixed 14-byte packet header.
const headerSize = 14

// Packet type bits (§6.1).
const (
	ptMeta   = 0x00
	ptEOS    = 0x10
	ptPic    = 0x04
	ptIsRef  = 0x02
	ptHasRef = 0x01
)

// isPic, isRef and hasRef classify a packet's type byte.
func isPic(t byte) bool  { return t&ptPic != 0 }
func isRef(t byte) bool  { return t&(ptPic|ptIsRef) == (ptPic | ptIsRef) }
func hasRef(t byte) bool { return t&ptHasRef != 0 }

// header is the 14-byte fields common to every packet.
type header struct {
	ptype    byte
	prevLink uint32
	nextLink uint32
}

func putHeader(buf []byte, h header) {
	copy(buf[0:4], fourCC[:])
	buf[4] = 0 // version minor
	buf[5] = h.ptype
	binary.BigEndian.PutUint32(buf[6:10], h.prevLink)
	binary.BigEndian.PutUint32(buf[10:14], h.nextLink)
}

func getHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, ErrShortHeader
	}
	if buf[0] != fourCC[0] || buf[1] != fourCC[1] || buf[2] != fourCC[2] || buf[3] != fourCC[3] {
		return header{}, ErrBadFourCC
	}
	return header{
		ptype:    buf[5],
		prevLink: binary.BigEndian.Uint32(buf[6:10]),
		nextLink: binary.BigEndian.Uint32(buf[10:14]),
	}, nil
}

// setLinkOffsets patches buf's prev_link from the encoder's persistent
// chain state and computes next_link, mirroring set_link_offsets. Every
// packet the encoder emits (metadata, picture and end-of-stream) is
// patched this way, in stream order, so prev_link is zero only for the
// stream's first packet (Scenario F).
func (e *Encoder) setLinkOffsets(buf []byte, isEOS bool) {
	binary.BigEndian.PutUint32(buf[6:10], e.prevLink)
	next := uint32(len(buf))
	if isEOS {
		next = 0
	}
	binary.BigEndian.PutUint32(buf[10:14], next)
	e.prevLink = next
}

// encodeMetadata writes a metadata packet body (§6.1): the stream's
// dimensions, subsampling, framerate and aspect ratio, UEG-coded, with
// next_link patched to the completed packet's length.
func encodeMetadata(meta Metadata) []byte {
	const bodyCap = 72 // generous upper bound for seven UEG fields, even at uint32 extremes
	buf := make([]byte, headerSize, headerSize+bodyCap)
	putHeader(buf, header{ptype: ptMeta})

	bw := bits.NewWriter(buf[headerSize:cap(buf)])
	fields := []uint32{
		uint32(meta.Width), uint32(meta.Height), uint32(meta.Subsamp),
		uint32(meta.FPSNum), uint32(meta.FPSDen),
		uint32(meta.AspectNum), uint32(meta.AspectDen),
	}
	for _, v := range fields {
		if err := bw.PutUEG(v); err != nil {
			// bodyCap is sized well beyond any realistic metadata
			// field; an overrun here means the caller fed in an
			// absurd dimension or ratio.
			panic("dsv: metadata packet exceeds its allotted buffer: " + err.Error())
		}
	}
	bw.Align()

	buf = buf[:headerSize+bw.BytePos()]
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(buf)))
	return buf
}

// decodeMetadata parses a metadata packet's body (buf excludes the
// header) into a Metadata.
func decodeMetadata(buf []byte) (Metadata, error) {
	br := bits.NewReader(buf)
	var vals [7]uint32
	for i := range vals {
		v, err := br.GetUEG()
		if err != nil {
			return Metadata{}, ErrBadMetadata
		}
		vals[i] = v
	}
	md := Metadata{
		Width:     int(vals[0]),
		Height:    int(vals[1]),
		Subsamp:   frame.Format(vals[2]),
		FPSNum:    int(vals[3]),
		FPSDen:    int(vals[4]),
		AspectNum: int(vals[5]),
		AspectDen: int(vals[6]),
	}
	if md.Width <= 0 || md.Height <= 0 {
		return Metadata{}, ErrBadDimensions
	}
	if !md.Subsamp.Valid() {
		return Metadata{}, ErrBadMetadata
	}
	return md, nil
}

// encodeEOS builds the header-only end-of-stream packet; next_link is
// set to zero by setLinkOffsets.
func encodeEOS() []byte {
	buf := make([]byte, headerSize)
	putHeader(buf, header{ptype: ptEOS})
	return buf
}
