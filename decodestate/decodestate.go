// Package decodestate tracks the position of the last frame handed to
// the decoder and answers the "is this old?" / "is this continuous?"
// queries the jitter buffer core needs before releasing a frame.
package decodestate

import (
	"github.com/vjbuf/jitterbuffer/packet"
	"github.com/vjbuf/jitterbuffer/seqnum"
)

// Tracker remembers the last decoded frame's (timestamp, seq_num,
// picture id, temporal id), grounded on VCMDecodingState in
// original_source's jitter_buffer.cc: IsOldPacket and ContinuousFrame
// there are the direct ancestors of IsOldPacket/IsContinuousFrame here.
type Tracker struct {
	initial bool

	lastTimestamp  seqnum.Timestamp
	lastSeqNum     seqnum.Seq
	lastPictureID  uint16
	lastTemporalID uint8

	consecutiveOldPackets int
	consecutiveOldFrames  int
}

// New returns a Tracker in its initial state.
func New() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset clears the tracker to its initial state: invoked on flush, on
// policy-driven key-frame requests, and on transport replacement.
func (t *Tracker) Reset() {
	t.initial = true
	t.lastTimestamp = 0
	t.lastSeqNum = 0
	t.lastPictureID = 0
	t.lastTemporalID = 0
	t.consecutiveOldPackets = 0
	t.consecutiveOldFrames = 0
}

// InInitialState reports whether any frame has been decoded since
// construction or the last Reset.
func (t *Tracker) InInitialState() bool { return t.initial }

// IsOldPacket reports whether ts/seq is modularly at or before the
// last decoded position.  Before any frame has been decoded, nothing
// is old.
func (t *Tracker) IsOldPacket(ts seqnum.Timestamp, seq seqnum.Seq) bool {
	if t.initial {
		return false
	}
	if ts.IsOlder(t.lastTimestamp) {
		return true
	}
	if ts == t.lastTimestamp {
		return !seq.IsNewer(t.lastSeqNum)
	}
	return false
}

// IsContinuousFrame reports whether a frame starting at lowSeqNum is
// continuous with the decoded state: either it picks up exactly where
// the last decoded frame left off, or the tracker has never decoded
// anything and this is a key frame.
func (t *Tracker) IsContinuousFrame(lowSeqNum seqnum.Seq, frameType packet.FrameType) bool {
	if t.initial {
		return frameType == packet.Key
	}
	return lowSeqNum == t.lastSeqNum+1
}

// Update advances the tracker on release of a frame for decoding,
// recording its high seq_num and timestamp and, when present, picture
// id and temporal layer id. pictureID/temporalID are diagnostic-only:
// per the decision recorded in DESIGN.md, sequence-number continuity
// is the sole predicate IsContinuousFrame consults; these fields are
// never read back by it. It resets the consecutive-old-packet and
// consecutive-old-frame streaks, since a successful release means the
// stream is moving again.
func (t *Tracker) Update(highSeqNum seqnum.Seq, timestamp seqnum.Timestamp, pictureID uint16, temporalID uint8) {
	t.initial = false
	t.lastSeqNum = highSeqNum
	t.lastTimestamp = timestamp
	t.lastPictureID = pictureID
	t.lastTemporalID = temporalID
	t.consecutiveOldPackets = 0
	t.ResetOldFrameStreak()
}

// UpdateForEmpty advances the tracker as though a purely-Empty frame
// were decoded.  The caller must not feed this frame to the jitter
// estimator: an Empty frame carries no media delay sample.
func (t *Tracker) UpdateForEmpty(highSeqNum seqnum.Seq, timestamp seqnum.Timestamp) {
	t.initial = false
	t.lastSeqNum = highSeqNum
	t.lastTimestamp = timestamp
	t.consecutiveOldPackets = 0
	t.ResetOldFrameStreak()
}

// LastDecodedSeqNum returns the last decoded high seq_num and whether
// one has ever been recorded.
func (t *Tracker) LastDecodedSeqNum() (seqnum.Seq, bool) { return t.lastSeqNum, !t.initial }

// LastDecodedTimestamp returns the last decoded RTP timestamp and
// whether one has ever been recorded.
func (t *Tracker) LastDecodedTimestamp() (seqnum.Timestamp, bool) { return t.lastTimestamp, !t.initial }

// LastPictureID returns the last decoded picture id (zero if the codec
// doesn't carry one, or none has been recorded).
func (t *Tracker) LastPictureID() uint16 { return t.lastPictureID }

// LastTemporalID returns the last decoded temporal layer id.
func (t *Tracker) LastTemporalID() uint8 { return t.lastTemporalID }

// RecordOldPacket extends the consecutive-old-packet streak and
// returns its new length; the jitter buffer core compares this against
// MAX_CONSECUTIVE_OLD_PACKETS to decide whether to emit a flush
// indicator.
func (t *Tracker) RecordOldPacket() int {
	t.consecutiveOldPackets++
	return t.consecutiveOldPackets
}

// ResetOldPacketStreak clears the consecutive-old-packet streak; called
// whenever a non-old packet arrives.
func (t *Tracker) ResetOldPacketStreak() { t.consecutiveOldPackets = 0 }

// RecordOldFrame extends the consecutive-old-frame streak (one queued
// frame dropped undecoded by the jitter buffer's recycling) and returns
// its new length, compared against MAX_CONSECUTIVE_OLD_FRAMES.
func (t *Tracker) RecordOldFrame() int {
	t.consecutiveOldFrames++
	return t.consecutiveOldFrames
}

// ResetOldFrameStreak clears the consecutive-old-frame streak.
func (t *Tracker) ResetOldFrameStreak() { t.consecutiveOldFrames = 0 }
