// Package codec derives the codec-specific fields of a packet.Descriptor
// (NAL-unit completeness, partition id, picture id, start-code and
// continuation-bit flags) from a raw RTP payload, the way a
// depacketizer would before handing the result to the session
// assembler.  It is grounded in github.com/jech/galene's
// codecs.Keyframe/codecs.PacketFlags, which perform the equivalent
// classification for a different purpose (simulcast/SVC layer
// selection on the forwarding path).
package codec

import (
	"errors"

	"github.com/vjbuf/jitterbuffer/packet"
)

// ErrTruncated is returned when a payload is too short for its codec's
// header to be parsed.  The H.264 deriver also returns it for NAL unit
// types it does not classify.
var ErrTruncated = errors.New("truncated packet")

// Hints are the fields a depacketizer derives per-codec and that the
// session assembler (package session) consumes verbatim; they do not
// depend on anything but the single packet's payload.
type Hints struct {
	NaluCompleteness packet.NaluCompleteness
	CodecSpecific    packet.CodecSpecific
	InsertStartCode  bool
	ContinuationBits bool
	Keyframe         bool
}

// Derive dispatches to the codec-specific deriver for the given codec
// family.  codecPayload is the RTP packet's payload, after the generic
// RTP header has already been stripped by the depacketizer.
func Derive(c packet.Codec, marker bool, codecPayload []byte) (Hints, error) {
	switch c {
	case packet.CodecVP8:
		return deriveVP8(marker, codecPayload)
	case packet.CodecVP9:
		return deriveVP9(marker, codecPayload)
	case packet.CodecH264:
		return deriveH264(marker, codecPayload)
	case packet.CodecLegacy:
		return deriveLegacy(marker, codecPayload)
	default:
		return Hints{}, errors.New("unsupported codec")
	}
}
