package codec

import (
	"github.com/pion/rtp/codecs"

	"github.com/vjbuf/jitterbuffer/packet"
)

// deriveVP9 classifies one VP9 RTP payload, grounded in galene's
// codecs.Keyframe/codecs.PacketFlags VP9 branch: vp9.B/vp9.E mark the
// beginning/end of a frame, and on a B packet whose first payload byte
// carries the 0b10 frame marker, that byte's profile and frame-type
// bits mark a key frame.  VP9 has no partitions and needs neither a
// start code nor continuation-bit merging; its session-level
// fragmentation is driven purely by B/E, the way H.264's FU-A is driven
// by its S/E bits.
func deriveVP9(marker bool, payload []byte) (Hints, error) {
	var vp9 codecs.VP9Packet
	_, err := vp9.Unmarshal(payload)
	if err != nil {
		return Hints{}, err
	}
	if len(vp9.Payload) < 1 {
		return Hints{}, ErrTruncated
	}

	keyframe := false
	if vp9.B && (vp9.Payload[0]&0xc0) == 0x80 {
		profile := (vp9.Payload[0] >> 4) & 0x3
		if profile != 3 {
			keyframe = (vp9.Payload[0] & 0xC) == 0
		} else {
			keyframe = (vp9.Payload[0] & 0x6) == 0
		}
	}

	completeness := packet.Incomplete
	switch {
	case vp9.B && vp9.E:
		completeness = packet.Complete
	case vp9.B:
		completeness = packet.Start
	case vp9.E:
		completeness = packet.End
	}

	return Hints{
		NaluCompleteness: completeness,
		Keyframe:         keyframe,
		CodecSpecific: packet.CodecSpecific{
			PictureID:  vp9.PictureID,
			TemporalID: vp9.TID,
		},
	}, nil
}
