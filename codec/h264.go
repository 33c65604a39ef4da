package codec

import (
	"github.com/vjbuf/jitterbuffer/packet"
)

// H.264 NAL unit type constants (RFC 6184).
const (
	naluTypeSTAPA = 24
	naluTypeFUA   = 28
)

// deriveH264 classifies one H.264 RTP payload, grounded in galene's
// codecs.Keyframe H264 branch.  A simple (single) NALU is Complete; a
// fragmentation-unit (FU-A) packet is Start/Incomplete/End depending on
// the S/E bits in its FU header; an aggregation packet (STAP-A) is
// treated as Complete, since the session assembler receives it as one
// opaque unit.  H.264 always requests a 4-byte Annex-B start code
// ahead of each NAL unit it stores, and never uses continuation bits.
func deriveH264(marker bool, payload []byte) (Hints, error) {
	if len(payload) < 1 {
		return Hints{}, ErrTruncated
	}

	naluType := payload[0] & 0x1F

	switch {
	case naluType >= 1 && naluType <= 23:
		// simple NALU
		return Hints{
			NaluCompleteness: packet.Complete,
			Keyframe:         naluType == 7 || naluType == 5,
			InsertStartCode:  true,
		}, nil
	case naluType == naluTypeSTAPA:
		keyframe, err := stapHasIDR(payload[1:])
		if err != nil {
			return Hints{}, err
		}
		return Hints{
			NaluCompleteness: packet.Complete,
			Keyframe:         keyframe,
			InsertStartCode:  true,
		}, nil
	case naluType == naluTypeFUA:
		if len(payload) < 2 {
			return Hints{}, ErrTruncated
		}
		start := (payload[1] & 0x80) != 0
		end := (payload[1] & 0x40) != 0
		fnri := payload[1] & 0x1F
		completeness := packet.Incomplete
		switch {
		case start && end:
			completeness = packet.Complete
		case start:
			completeness = packet.Start
		case end:
			completeness = packet.End
		}
		return Hints{
			NaluCompleteness: completeness,
			Keyframe:         start && fnri == 5,
			InsertStartCode:  start,
		}, nil
	default:
		return Hints{}, ErrTruncated
	}
}

// stapHasIDR scans a STAP-A's aggregated NAL units for an IDR slice.
func stapHasIDR(data []byte) (bool, error) {
	i := 0
	for i < len(data) {
		if i+2 > len(data) {
			return false, ErrTruncated
		}
		length := int(data[i])<<8 | int(data[i+1])
		i += 2
		if i+length > len(data) {
			return false, ErrTruncated
		}
		if length > 0 && (data[i]&0x1F) == 5 {
			return true, nil
		}
		i += length
	}
	return false, nil
}
