// Package packet defines the immutable packet descriptor that is the
// sole input to the jitter buffer core: a depacketizer for any
// supported codec populates one Descriptor per RTP payload unit before
// handing it to session.Session.Insert or jitterbuffer.Buffer.
package packet

import "github.com/vjbuf/jitterbuffer/seqnum"

// FrameType classifies the media carried by a packet's frame.
type FrameType int

const (
	// Delta is an inter-coded (non-key) frame.
	Delta FrameType = iota
	// Key is a key frame, decodable without reference to prior frames.
	Key
	// Golden is a VP8-style golden frame update.
	Golden
	// AltRef is a VP8-style alternate-reference frame update.
	AltRef
	// Empty denotes non-media padding or FEC; carries no decodable bytes.
	Empty
)

func (t FrameType) String() string {
	switch t {
	case Delta:
		return "delta"
	case Key:
		return "key"
	case Golden:
		return "golden"
	case AltRef:
		return "altref"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Codec identifies the codec family that produced a packet, enabling
// codec-specific reassembly rules in package session and package codec.
type Codec int

const (
	// CodecUnknown carries no codec-specific reassembly rules.
	CodecUnknown Codec = iota
	// CodecVP8 uses partition ids and a beginning-of-partition flag.
	CodecVP8
	// CodecVP9 uses picture ids and spatial/temporal layer flags.
	CodecVP9
	// CodecH264 uses NAL start-code insertion and STAP/FU-A framing.
	CodecH264
	// CodecLegacy models a bit-packed payload format that glues
	// adjacent packets at the byte level (continuation bits).
	// codec.FabricatedEmptyPacket supplies its ten-zero-byte Empty
	// payload, but session.MakeDecodable does not insert it: a missing
	// legacy packet is dropped like a gap of any other codec.
	CodecLegacy
)

func (c Codec) String() string {
	switch c {
	case CodecVP8:
		return "vp8"
	case CodecVP9:
		return "vp9"
	case CodecH264:
		return "h264"
	case CodecLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// NaluCompleteness describes where a packet sits within a NAL unit (or,
// for codecs without NAL units, the equivalent notion of a
// self-contained decodable chunk).
type NaluCompleteness int

const (
	// Unset denotes "no packet has arrived at this index".
	Unset NaluCompleteness = iota
	// Start is the first fragment of a NAL unit.
	Start
	// Incomplete is neither the first nor the last fragment.
	Incomplete
	// End is the last fragment of a NAL unit.
	End
	// Complete is a whole NAL unit in a single packet.
	Complete
)

func (c NaluCompleteness) String() string {
	switch c {
	case Unset:
		return "unset"
	case Start:
		return "start"
	case Incomplete:
		return "incomplete"
	case End:
		return "end"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// CodecSpecific carries the small, codec-dependent hints that the
// session assembler needs and that a generic depacketizer cannot
// derive: VP8/VP9 partitioning and picture ids.
type CodecSpecific struct {
	// PartitionID identifies the VP8 partition this packet belongs to.
	PartitionID uint8
	// BeginningOfPartition is true for the first packet of a partition.
	BeginningOfPartition bool
	// PictureID is the VP8/VP9 picture id, when the codec carries one;
	// zero when not carried.  See DESIGN.md: this module uses
	// sequence-number continuity as the sole release predicate and
	// carries PictureID only for logging/diagnostics.
	PictureID uint16
	// TemporalID is the SVC/simulcast temporal layer index, when known.
	TemporalID uint8
}

// Descriptor is one RTP payload unit, exactly as described in the
// packet-descriptor layout that forms the stable boundary between a
// depacketizer and this module.
type Descriptor struct {
	SeqNum               seqnum.Seq
	RTPTimestamp         seqnum.Timestamp
	Marker               bool
	IsFirstPacketInFrame bool
	SizeBytes            int
	// Payload is owned by the caller until Insert succeeds, at which
	// point the session copies it into its own frame buffer; the
	// caller may reuse or discard the slice immediately after Insert
	// returns.
	Payload          []byte
	FrameType        FrameType
	Codec            Codec
	NaluCompleteness NaluCompleteness
	CodecSpecific    CodecSpecific
	// InsertStartCode requests that the assembler prepend the 4-byte
	// 00 00 00 01 Annex-B start code before this packet's payload.
	InsertStartCode bool
	// ContinuationBits requests that the assembler OR-merge this
	// packet's first byte into the previous packet's last byte at
	// PrepareForDecode time (a legacy bit-packed codec's framing).
	ContinuationBits bool
}
