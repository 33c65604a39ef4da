package codec

import "github.com/vjbuf/jitterbuffer/packet"

// legacyEmptyPacketSize is the verbatim size of a fabricated Empty
// packet for the legacy bit-packed codec, reproduced from the source
// this module was distilled from; it is a quirk of that codec's wire
// format, not a value this module chose.
const legacyEmptyPacketSize = 10

// deriveLegacy classifies one payload of the legacy bit-packed codec
// family, whose packets glue together at the bit level: the first
// and/or last byte of a packet may share a byte position with a
// neighboring packet and must be OR-merged at PrepareForDecode time
// (packet.Descriptor.ContinuationBits).  There is no marker-independent
// partitioning: every packet gets ContinuationBits set, and its
// completeness is End when the marker bit is set and Incomplete
// otherwise.
func deriveLegacy(marker bool, payload []byte) (Hints, error) {
	if len(payload) < 1 {
		return Hints{}, ErrTruncated
	}

	completeness := packet.Incomplete
	if marker {
		completeness = packet.End
	}

	return Hints{
		NaluCompleteness: completeness,
		ContinuationBits: true,
	}, nil
}

// FabricatedEmptyPacket returns the fabricated payload for a missing
// Empty packet of the legacy codec: ten zero bytes, verbatim.
func FabricatedEmptyPacket() []byte {
	return make([]byte, legacyEmptyPacketSize)
}
