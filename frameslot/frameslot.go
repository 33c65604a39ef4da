// Package frameslot implements the frame slot (C4): a state machine
// wrapping one package session.Session, tracking NACK bookkeeping and
// the Free/Empty/Incomplete/Complete/Decodable/Decoding lifecycle the
// jitter buffer core pools and recycles.
package frameslot

import (
	"github.com/vjbuf/jitterbuffer/packet"
	"github.com/vjbuf/jitterbuffer/session"
	"github.com/vjbuf/jitterbuffer/seqnum"
)

// State is a frame slot's position in its lifecycle.
type State int

const (
	// Free slots sit in the pool, available for allocation.
	Free State = iota
	// Empty slots were just allocated for a new RTP timestamp and have
	// not yet received a packet.
	Empty
	// Incomplete slots have at least one packet but are neither
	// Complete nor Decodable.
	Incomplete
	// Complete slots have their first packet, their marker packet, and
	// every packet in between.
	Complete
	// Decodable slots are accepted by the codec's decodability policy
	// despite missing packets.
	Decodable
	// Decoding slots have been handed to the decoder and are awaiting
	// ReleaseFrame.
	Decoding
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Empty:
		return "empty"
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Decodable:
		return "decodable"
	case Decoding:
		return "decoding"
	default:
		return "unknown"
	}
}

// NackMode selects the scoring policy ZeroOutNackEntries applies to
// gaps within this frame.
type NackMode int

const (
	// NackNormal keeps every still-missing sequence number as a NACK
	// candidate.
	NackNormal NackMode = iota
	// NackHybrid additionally weighs an RTT-derived score against a
	// fixed threshold to decide whether to NACK a gap or rely on FEC.
	NackHybrid
)

// nackScoreThreshold is VCMSessionInfo::ZeroOutSeqNumHybrid's
// nackScoreTh, reproduced verbatim.
const nackScoreThreshold = 0.25

// Slot is one pooled frame assembler plus its state-machine and NACK
// bookkeeping.
type Slot struct {
	session              *session.Session
	state                State
	forcedHaveLastPacket bool
}

// New returns a Free slot whose session can hold up to capacity
// packets.
func New(capacity int) *Slot {
	return &Slot{session: session.New(capacity), state: Free}
}

// Reset returns the slot to Free, clearing its session and NACK state.
func (f *Slot) Reset() {
	f.session.Reset()
	f.state = Free
	f.forcedHaveLastPacket = false
}

// Allocate transitions a Free slot to Empty, as get_frame does when it
// allocates a new slot for an RTP timestamp it has not seen before.
func (f *Slot) Allocate() { f.state = Empty }

// State returns the slot's current lifecycle state.
func (f *Slot) State() State { return f.state }

// SetState forcibly sets the slot's state, for callers (the jitter
// buffer core) that drive the Decoding/Free transitions explicitly.
func (f *Slot) SetState(s State) { f.state = s }

// Insert stores one packet and promotes the slot's state:
// Empty/Free promote to Incomplete on the first packet;
// Incomplete promotes to Complete or Decodable once the session
// satisfies either predicate. Complete, Decodable and Decoding are
// terminal with respect to insertion: the packet's bytes are still
// stored (a late-arriving packet can only improve the assembled
// frame), but the slot's state no longer changes.
func (f *Slot) Insert(p packet.Descriptor, now int64) session.Outcome {
	out := f.session.Insert(p, now)
	if out.Result != session.InsertOK {
		return out
	}

	switch f.state {
	case Complete, Decodable, Decoding:
		return out
	case Free, Empty:
		f.state = Incomplete
	}

	if f.session.Complete() {
		f.state = Complete
	} else if f.session.Decodable() {
		f.state = Decodable
	}
	return out
}

// LowSeqNum, HighSeqNum, Timestamp, FrameType, Length and Bytes forward
// to the underlying session.
func (f *Slot) LowSeqNum() (seqnum.Seq, bool)       { return f.session.LowSeqNum() }
func (f *Slot) HighSeqNum() (seqnum.Seq, bool)      { return f.session.HighSeqNum() }
func (f *Slot) Timestamp() (seqnum.Timestamp, bool) { return f.session.Timestamp() }
func (f *Slot) FrameType() packet.FrameType         { return f.session.FrameType() }
func (f *Slot) Length() int                         { return f.session.Length() }
func (f *Slot) Bytes() []byte                       { return f.session.Bytes() }
func (f *Slot) PreviousFrameLoss() bool             { return f.session.PreviousFrameLoss() }
func (f *Slot) SetPreviousFrameLoss(v bool)         { f.session.SetPreviousFrameLoss(v) }
func (f *Slot) BuildPartitionHeader() []session.Partition {
	return f.session.BuildPartitionHeader()
}

// MarkerCodecSpecific forwards to the underlying session.
func (f *Slot) MarkerCodecSpecific() (packet.CodecSpecific, bool) {
	return f.session.MarkerCodecSpecific()
}

// HaveLastPacket reports whether the frame's marker packet has arrived,
// or ForceHaveLastPacket has overridden that.
func (f *Slot) HaveLastPacket() bool {
	return f.session.MarkerSeen() || f.forcedHaveLastPacket
}

// ForceHaveLastPacket overrides HaveLastPacket to true: used when the
// jitter buffer core decides to finalize an incomplete frame for
// best-effort decode despite never seeing its marker packet.
func (f *Slot) ForceHaveLastPacket() { f.forcedHaveLastPacket = true }

// IncrementNackCount records that this frame was NACKed once more.
func (f *Slot) IncrementNackCount() { f.session.IncrementNackCount() }

// NackCount returns how many times this frame has been NACKed.
func (f *Slot) NackCount() int { return f.session.NackCount() }

// LatestPacketTimeMs returns the monotonic-ms time of the slot's most
// recent insert.
func (f *Slot) LatestPacketTimeMs() int64 { return f.session.LatestPacketTimeMs() }

// PrepareForDecode OR-merges legacy-codec continuation bytes and
// returns the final length.
func (f *Slot) PrepareForDecode() int { return f.session.PrepareForDecode() }

// MakeSessionDecodable deletes any NAL unit spanning a gap so the
// remaining bytes can be decoded best-effort, and promotes the slot to
// Decodable if anything survived.
func (f *Slot) MakeSessionDecodable() int {
	dropped := f.session.MakeDecodable()
	if f.session.Length() > 0 {
		f.state = Decodable
	}
	return dropped
}

// ZeroOutNackEntries filters candidates down to the sequence numbers
// this frame still wants NACKed, following
// VCMSessionInfo::ZeroOutSeqNum/ZeroOutSeqNumHybrid: sequence numbers
// already present in this frame's session are dropped, Empty-packet
// sequence numbers are never NACKed, and in NackHybrid mode a gap
// within this frame is dropped (relying on FEC instead) when rttScore
// is at or below nackScoreThreshold. Candidates outside this frame's
// own sequence-number range pass through untouched, so callers can
// thread the same candidate list through every active slot in turn.
func (f *Slot) ZeroOutNackEntries(candidates []seqnum.Seq, mode NackMode, rttScore float64) []seqnum.Seq {
	low, ok := f.session.LowSeqNum()
	if !ok {
		return candidates
	}
	high, hok := f.session.HighSeqNum()
	if !hok {
		high = low
	}

	emptyLow, emptyHigh, haveEmpty := f.session.EmptySeqNumRange()

	highMediaPacket := high
	if marker, mok := f.session.MarkerSeqNum(); mok {
		highMediaPacket = marker
	} else if haveEmpty {
		highMediaPacket = seqnum.Latest(high, emptyLow-1)
	}

	relyOnFEC := mode == NackHybrid && rttScore <= nackScoreThreshold

	out := make([]seqnum.Seq, 0, len(candidates))
	for _, c := range candidates {
		switch {
		case haveEmpty && !c.IsOlder(emptyLow) && !c.IsNewer(emptyHigh):
			// Empty packets are never NACKed.
			continue
		case !c.IsOlder(low) && !c.IsNewer(highMediaPacket):
			if f.session.Present(c) {
				continue
			}
			if relyOnFEC {
				continue
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}
