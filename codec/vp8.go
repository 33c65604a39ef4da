package codec

import (
	"github.com/pion/rtp/codecs"

	"github.com/vjbuf/jitterbuffer/packet"
)

// deriveVP8 classifies one VP8 RTP payload, grounded in
// github.com/jech/galene's codecs.Keyframe/codecs.PacketFlags VP8
// branch: vp8.S (start of partition) and vp8.PID (partition id) locate
// the beginning of a partition, vp8.Payload[0]'s P bit (inverted into
// bit 0x1 == 0) marks a key frame, and the RTP marker bit ends the
// frame.  VP8 never needs a start code or continuation-bit merge.
func deriveVP8(marker bool, payload []byte) (Hints, error) {
	var vp8 codecs.VP8Packet
	_, err := vp8.Unmarshal(payload)
	if err != nil {
		return Hints{}, err
	}
	if len(vp8.Payload) < 1 {
		return Hints{}, ErrTruncated
	}

	beginning := vp8.S != 0
	keyframe := beginning && vp8.PID == 0 && (vp8.Payload[0]&0x1) == 0

	completeness := packet.Incomplete
	if beginning && marker {
		completeness = packet.Complete
	} else if beginning {
		completeness = packet.Start
	} else if marker {
		completeness = packet.End
	}

	return Hints{
		NaluCompleteness: completeness,
		Keyframe:         keyframe,
		CodecSpecific: packet.CodecSpecific{
			PartitionID:          uint8(vp8.PID),
			BeginningOfPartition: beginning,
			PictureID:            vp8.PictureID,
			TemporalID:           vp8.TID,
		},
	}, nil
}
