/*
NAME
  errors.go

DESCRIPTION
  errors.go defines the sentinel errors returned by packet parsing and
  decoding, following the revid/codec convention of exported sentinel
  values wrapped with github.com/pkg/errors at the call site.

AUTHOR
  Digital Subband Video contributors
*/

package dsv

import "github.com/pkg/errors"

// Malformed packet errors (§7.1): bad FourCC, bad packet size, a
// truncated header. The decoder may continue with the next packet.
var (
	ErrBadFourCC    = errors.New("dsv: bad FourCC, not a DSV1 packet")
	ErrShortHeader  = errors.New("dsv: packet shorter than the 14-byte header")
	ErrShortPacket  = errors.New("dsv: packet body shorter than its declared length")
	ErrBadPacketType = errors.New("dsv: unrecognized packet type")
)

// ErrNoReference is the out-of-sequence-reference error (§7.2): a
// P-frame arrived before any reference was stored. The caller should
// warn and skip the frame; the decoder's reference slot is untouched.
var ErrNoReference = errors.New("dsv: picture packet has_ref but no stored reference")

// ErrCorruptPlane is the corrupt-plane error (§7.3). Decode returns it
// when a plane's length prefix is missing or runs past the end of the
// packet; that frame is then not reconstructed at all. A plane whose
// coded data fails to decode (an EOP sentinel mismatch or a truncated
// run/value stream) does not produce this error: its coefficients are
// zeroed, so inverse SBT yields a mid-grey plane, and decoding goes on.
var ErrCorruptPlane = errors.New("dsv: corrupt coefficient plane")

// Configuration errors (§7.4) are fatal: the instance must be discarded.
var (
	ErrBadMetadata   = errors.New("dsv: invalid stream metadata")
	ErrBadDimensions = errors.New("dsv: zero or negative frame dimensions")
)
