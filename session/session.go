// Package session implements the per-frame assembler (one RTP
// timestamp's worth of packets): it reassembles packet payloads into a
// contiguous byte range, tracks NAL-unit/partition boundaries, and
// decides when a frame is Complete or Decodable.
//
// Grounded in original_source's
// src/modules/video_coding/main/source/session_info.cc
// (VCMSessionInfo): InsertBuffer -> Insert, FindNaluBorder/DeletePackets
// -> MakeDecodable, BuildVP8FragmentationHeader -> BuildPartitionHeader.
// ZeroOutSeqNum/ZeroOutSeqNumHybrid map to frameslot's
// ZeroOutNackEntries, built on Present and EmptySeqNumRange here.  Go
// has no raw pointers, so the C++ API's
// "layer_base_ptr" and manual memmove/dataPtr-rebasing parameters have
// no equivalent here: a Session owns its packets' bytes directly and
// concatenates them lazily in Bytes(), a lazy-compaction-on-extract
// design chosen in place of the source's eager memmove.
package session

import (
	"errors"

	"github.com/vjbuf/jitterbuffer/packet"
	"github.com/vjbuf/jitterbuffer/seqnum"
)

// InsertResult is returned by Session.Insert.
type InsertResult int

const (
	// InsertOK indicates the packet was stored; BytesAdded in the
	// returned Outcome reports how many new bytes it contributed.
	InsertOK InsertResult = iota
	// InsertDuplicate indicates a packet already occupies this slot;
	// the new payload was dropped without side effects.
	InsertDuplicate
	// InsertSizeError indicates the shift distance or packet index
	// would exceed the session's capacity; the packet was dropped and
	// the session is now in a failed state until Reset.
	InsertSizeError
	// InsertTimestampError indicates the packet's RTP timestamp
	// disagrees with the session's established timestamp.
	InsertTimestampError
	// InsertStateError indicates the session previously failed and has
	// not been Reset.
	InsertStateError
)

func (r InsertResult) String() string {
	switch r {
	case InsertOK:
		return "ok"
	case InsertDuplicate:
		return "duplicate"
	case InsertSizeError:
		return "size_error"
	case InsertTimestampError:
		return "timestamp_error"
	case InsertStateError:
		return "state_error"
	default:
		return "unknown"
	}
}

// ErrCapacity is a plain sentinel error describing the InsertSizeError
// condition.  Insert itself returns no error value and reports that
// condition only through Outcome.Result.
var ErrCapacity = errors.New("session: packet index exceeds capacity")

// Outcome is the full result of an Insert call.
type Outcome struct {
	Result     InsertResult
	BytesAdded int
}

type entry struct {
	used             bool
	isFirst          bool
	seqNum           seqnum.Seq
	naluCompleteness packet.NaluCompleteness
	codecSpecific    packet.CodecSpecific
	continuationBits bool
	payload          []byte
}

// Session holds the packets of one frame under construction: all
// packets in a session share one RTP timestamp.
type Session struct {
	capacity int

	haveTimestamp bool
	rtpTimestamp  seqnum.Timestamp

	haveRange bool
	lowSeqNum seqnum.Seq
	entries   []entry

	markerSeen       bool
	haveMarkerSeqNum bool
	markerSeqNum     seqnum.Seq
	markerCodecSpec  packet.CodecSpecific

	haveEmptyRange bool
	emptySeqLow    seqnum.Seq
	emptySeqHigh   seqnum.Seq

	frameType     packet.FrameType
	haveFrameType bool

	nackCount          int
	latestPacketTimeMs int64
	previousFrameLoss  bool

	failed bool
}

// New creates a Session that can hold up to capacity packets, the
// codec-dependent per-frame packet limit.
func New(capacity int) *Session {
	return &Session{capacity: capacity}
}

// Reset clears the session back to its zero state, clearing the failed
// state that InsertStateError latches.
func (s *Session) Reset() {
	*s = Session{capacity: s.capacity}
}

// Timestamp returns the session's RTP timestamp and whether one has
// been established yet.
func (s *Session) Timestamp() (seqnum.Timestamp, bool) {
	return s.rtpTimestamp, s.haveTimestamp
}

// LowSeqNum returns the lowest media sequence number seen.
func (s *Session) LowSeqNum() (seqnum.Seq, bool) {
	return s.lowSeqNum, s.haveRange
}

// HighSeqNum returns the highest media sequence number seen.
func (s *Session) HighSeqNum() (seqnum.Seq, bool) {
	if !s.haveRange {
		return 0, false
	}
	return s.lowSeqNum + seqnum.Seq(len(s.entries)-1), true
}

// HighSeqNumIncludingEmpty is like HighSeqNum, but returns the highest
// Empty-packet sequence number attached to this frame when that is
// newer, following VCMSessionInfo::GetHighSeqNum.
func (s *Session) HighSeqNumIncludingEmpty() (seqnum.Seq, bool) {
	high, ok := s.HighSeqNum()
	if s.haveEmptyRange && (!ok || s.emptySeqHigh.IsNewer(high)) {
		return s.emptySeqHigh, true
	}
	return high, ok
}

// MarkerSeen reports whether the last packet of the frame has arrived.
func (s *Session) MarkerSeen() bool { return s.markerSeen }

// FrameType returns the frame type, as set by the first media packet.
func (s *Session) FrameType() packet.FrameType { return s.frameType }

// NackCount returns the number of times this frame's packets have
// appeared on a NACK list.
func (s *Session) NackCount() int { return s.nackCount }

// IncrementNackCount records that this frame was NACKed once more.
func (s *Session) IncrementNackCount() { s.nackCount++ }

// LatestPacketTimeMs returns the monotonic-ms time of the most recent
// insert.
func (s *Session) LatestPacketTimeMs() int64 { return s.latestPacketTimeMs }

// PreviousFrameLoss reports whether the decoding-state tracker judged
// this frame non-continuous with the last decoded one.
func (s *Session) PreviousFrameLoss() bool { return s.previousFrameLoss }

// SetPreviousFrameLoss is called by the jitter buffer core once the
// decoding-state tracker has evaluated continuity for this frame.
func (s *Session) SetPreviousFrameLoss(v bool) { s.previousFrameLoss = v }

// haveFirstPacket reports whether the packet explicitly marked as the
// frame's first packet (Descriptor.IsFirstPacketInFrame) has arrived.
// This is tracked separately from "entries[0] is used": the packet
// with the lowest received sequence number is not necessarily the
// frame's true first packet if that one was lost.
func (s *Session) haveFirstPacket() bool {
	return len(s.entries) > 0 && s.entries[0].used && s.entries[0].isFirst
}

// MarkerSeqNum returns the sequence number of the packet that carried
// the RTP marker bit, and whether one has arrived yet.
func (s *Session) MarkerSeqNum() (seqnum.Seq, bool) { return s.markerSeqNum, s.haveMarkerSeqNum }

// MarkerCodecSpecific returns the codec-specific hints (picture id,
// temporal id) carried by the marker packet, and whether one has
// arrived yet. These are diagnostic-only: see decodestate's doc
// comment for why they do not feed the continuity predicate.
func (s *Session) MarkerCodecSpecific() (packet.CodecSpecific, bool) {
	return s.markerCodecSpec, s.haveMarkerSeqNum
}

// EmptySeqNumRange returns the [low, high] sequence-number range of any
// Empty packets attached to this frame, and whether any have arrived.
func (s *Session) EmptySeqNumRange() (low, high seqnum.Seq, ok bool) {
	return s.emptySeqLow, s.emptySeqHigh, s.haveEmptyRange
}

// Present reports whether seq falls within the received index range
// and holds a non-Unset entry, i.e. "this sequence number is already
// covered by the session and need not be NACKed".  A seq outside the
// received range is reported as not present.
func (s *Session) Present(seq seqnum.Seq) bool {
	if !s.haveRange {
		return false
	}
	index := int(seq.Delta(s.lowSeqNum))
	if index < 0 || index >= len(s.entries) {
		return false
	}
	return s.entries[index].used && s.entries[index].naluCompleteness != packet.Unset
}

// Complete reports whether the frame has its first packet, its marker
// packet, and every index in between.
func (s *Session) Complete() bool {
	if !s.markerSeen || !s.haveFirstPacket() {
		return false
	}
	for _, e := range s.entries {
		if !e.used || e.naluCompleteness == packet.Unset {
			return false
		}
	}
	return true
}

// Decodable reports whether the codec's decodability rule accepts the
// session despite gaps: the first packet is present and begins a
// usable NAL unit/partition (NaluCompleteness Start or Complete).  A
// Complete session is always Decodable.
func (s *Session) Decodable() bool {
	if s.Complete() {
		return true
	}
	if !s.haveFirstPacket() {
		return false
	}
	switch s.entries[0].naluCompleteness {
	case packet.Start, packet.Complete:
		return true
	default:
		return false
	}
}

// Length returns the total number of assembled bytes.
func (s *Session) Length() int {
	n := 0
	for _, e := range s.entries {
		n += len(e.payload)
	}
	return n
}

// Bytes returns the concatenation of stored packet bytes in index
// order.  The returned slice is only valid until the next mutating
// call (Insert, MakeDecodable, PrepareForDecode, Reset); callers that
// need to retain it must copy.
func (s *Session) Bytes() []byte {
	out := make([]byte, 0, s.Length())
	for _, e := range s.entries {
		out = append(out, e.payload...)
	}
	return out
}

func startCode() []byte { return []byte{0, 0, 0, 1} }

// Insert stores one packet into the session.  now is the monotonic-ms
// time of receipt (rtptime.Milliseconds()).
func (s *Session) Insert(p packet.Descriptor, now int64) Outcome {
	if s.failed {
		return Outcome{Result: InsertStateError}
	}

	if p.FrameType == packet.Empty {
		return s.insertEmpty(p, now)
	}

	if !s.haveTimestamp {
		s.haveTimestamp = true
		s.rtpTimestamp = p.RTPTimestamp
	} else if p.RTPTimestamp != s.rtpTimestamp {
		return Outcome{Result: InsertTimestampError}
	}

	if !s.haveRange {
		s.haveRange = true
		s.lowSeqNum = p.SeqNum
		s.entries = make([]entry, 1)
	} else if p.SeqNum.IsOlder(s.lowSeqNum) {
		delta := int(s.lowSeqNum.Delta(p.SeqNum))
		newLen := len(s.entries) + delta
		if newLen > s.capacity {
			s.failed = true
			return Outcome{Result: InsertSizeError}
		}
		shifted := make([]entry, newLen)
		copy(shifted[delta:], s.entries)
		s.entries = shifted
		s.lowSeqNum = p.SeqNum
	}

	index := int(p.SeqNum.Delta(s.lowSeqNum))
	if index < 0 || index >= s.capacity {
		s.failed = true
		return Outcome{Result: InsertSizeError}
	}
	if index >= len(s.entries) {
		grown := make([]entry, index+1)
		copy(grown, s.entries)
		s.entries = grown
	}
	if s.entries[index].used {
		return Outcome{Result: InsertDuplicate}
	}

	payload := buildPayload(p)

	s.entries[index] = entry{
		used:             true,
		isFirst:          p.IsFirstPacketInFrame,
		seqNum:           p.SeqNum,
		naluCompleteness: p.NaluCompleteness,
		codecSpecific:    p.CodecSpecific,
		continuationBits: p.ContinuationBits,
		payload:          payload,
	}

	if p.Marker {
		s.markerSeen = true
		s.haveMarkerSeqNum = true
		s.markerSeqNum = p.SeqNum
		s.markerCodecSpec = p.CodecSpecific
	}
	if !s.haveFrameType {
		s.haveFrameType = true
		s.frameType = p.FrameType
	}
	s.latestPacketTimeMs = now

	return Outcome{Result: InsertOK, BytesAdded: len(payload)}
}

func buildPayload(p packet.Descriptor) []byte {
	if p.InsertStartCode {
		buf := make([]byte, 0, len(p.Payload)+4)
		buf = append(buf, startCode()...)
		buf = append(buf, p.Payload...)
		return buf
	}
	buf := make([]byte, len(p.Payload))
	copy(buf, p.Payload)
	return buf
}

// insertEmpty records an Empty packet's sequence number without
// storing any media bytes: Empty frame-type packets carry no media
// bytes, they only update the empty-seqnum range.
func (s *Session) insertEmpty(p packet.Descriptor, now int64) Outcome {
	if !s.haveEmptyRange {
		s.haveEmptyRange = true
		s.emptySeqLow = p.SeqNum
		s.emptySeqHigh = p.SeqNum
	} else {
		if p.SeqNum.IsOlder(s.emptySeqLow) {
			s.emptySeqLow = p.SeqNum
		}
		if p.SeqNum.IsNewer(s.emptySeqHigh) {
			s.emptySeqHigh = p.SeqNum
		}
	}
	s.latestPacketTimeMs = now
	return Outcome{Result: InsertOK}
}

// findNaluBorder locates the smallest enclosing NAL unit/fragment run
// around packetIndex, following VCMSessionInfo::FindNaluBorder.  -1
// means "no boundary found in that direction"; the caller clamps to
// the session's extremities.
func (s *Session) findNaluBorder(packetIndex int) (start, end int) {
	if s.entries[packetIndex].used &&
		(s.entries[packetIndex].naluCompleteness == packet.Start ||
			s.entries[packetIndex].naluCompleteness == packet.Complete) {
		start = packetIndex
	} else {
		start = -1
		for j := packetIndex - 1; j >= 0; j-- {
			e := s.entries[j]
			if e.used && e.naluCompleteness == packet.Complete && len(e.payload) > 0 {
				start = j + 1
				break
			}
			if e.used && e.naluCompleteness == packet.End && j > 0 {
				start = j + 1
				break
			}
			if e.used && e.naluCompleteness == packet.Start {
				start = j
				break
			}
		}
	}

	if s.entries[packetIndex].used &&
		(s.entries[packetIndex].naluCompleteness == packet.End ||
			s.entries[packetIndex].naluCompleteness == packet.Complete) {
		end = packetIndex
	} else {
		end = -1
		for j := packetIndex + 1; j < len(s.entries); j++ {
			e := s.entries[j]
			if e.used && e.naluCompleteness == packet.Complete {
				end = j - 1
				break
			}
			if e.used && e.naluCompleteness == packet.Start {
				end = j - 1
				break
			}
			if e.used && e.naluCompleteness == packet.End {
				end = j
				break
			}
		}
	}
	return start, end
}

// deleteRange zeroes entries [start,end] and returns the number of
// bytes thereby dropped, following VCMSessionInfo::DeletePackets (the
// memmove/offset bookkeeping has no Go equivalent: Bytes() simply
// skips unused entries when concatenating).
func (s *Session) deleteRange(start, end int) int {
	if start < 0 {
		start = 0
	}
	if end >= len(s.entries) {
		end = len(s.entries) - 1
	}
	dropped := 0
	for j := start; j <= end; j++ {
		dropped += len(s.entries[j].payload)
		s.entries[j] = entry{}
	}
	return dropped
}

// MakeDecodable walks the per-index array and deletes every packet
// that belongs to a NAL unit with a gap (an Unset slot), following
// VCMSessionInfo::MakeDecodable.  It returns the number of bytes
// dropped; after it returns, either the session is empty or its first
// surviving byte lies on a NAL-unit boundary.
func (s *Session) MakeDecodable() int {
	if !s.haveRange {
		return 0
	}

	dropped := 0
	for i := 0; i < len(s.entries); {
		if !s.entries[i].used || s.entries[i].naluCompleteness == packet.Unset {
			start, end := s.findNaluBorder(i)
			if start < 0 {
				start = 0
			}
			if end < 0 {
				end = len(s.entries) - 1
			}
			dropped += s.deleteRange(start, end)
			i = end + 1
			continue
		}
		i++
	}

	if len(s.entries) > 0 && s.entries[0].used && len(s.entries[0].payload) > 0 {
		switch s.entries[0].naluCompleteness {
		case packet.Complete, packet.Start:
			// already decodable
		case packet.Incomplete:
			_, end := s.findNaluBorder(0)
			if end < 0 {
				end = len(s.entries) - 1
			}
			dropped += s.deleteRange(0, end)
		case packet.End:
			dropped += s.deleteRange(0, 0)
		}
	}

	return dropped
}

// findPrevUsed returns the nearest index j < i holding non-empty bytes.
func (s *Session) findPrevUsed(i int) int {
	for j := i - 1; j >= 0; j-- {
		if s.entries[j].used && len(s.entries[j].payload) > 0 {
			return j
		}
	}
	return -1
}

// PrepareForDecode OR-merges continuation-bit packets into their
// predecessor's last byte and shifts the remainder left by one byte.
// It returns the final length, discarding the frame (returning 0) if
// every remaining byte is zero.
func (s *Session) PrepareForDecode() int {
	for i := 1; i < len(s.entries); i++ {
		e := &s.entries[i]
		if !e.used || !e.continuationBits || len(e.payload) == 0 {
			continue
		}
		prev := s.findPrevUsed(i)
		if prev < 0 {
			e.payload[0] = 0
		} else {
			prevEntry := &s.entries[prev]
			if len(prevEntry.payload) > 0 {
				last := len(prevEntry.payload) - 1
				prevEntry.payload[last] |= e.payload[0]
			}
		}
		if len(e.payload) > 1 {
			copy(e.payload, e.payload[1:])
			e.payload = e.payload[:len(e.payload)-1]
		} else {
			e.payload = nil
		}
	}

	total := 0
	allZero := true
	for _, e := range s.entries {
		for _, b := range e.payload {
			total++
			if b != 0 {
				allZero = false
			}
		}
	}
	if allZero {
		for i := range s.entries {
			s.entries[i].payload = nil
		}
		return 0
	}
	return total
}

// Partition is one independently-decodable sub-unit of a partitioned
// codec's frame (VP8's partitioning model).
type Partition struct {
	ID     int
	Offset int
	Length int
}

func (s *Session) computeOffsets() []int {
	offsets := make([]int, len(s.entries))
	sum := 0
	for i, e := range s.entries {
		offsets[i] = sum
		sum += len(e.payload)
	}
	return offsets
}

// findNextPartitionBeginning scans forward from index for the next
// packet flagged BeginningOfPartition, skipping gaps, following
// VCMSessionInfo::FindNextPartitionBeginning.
func (s *Session) findNextPartitionBeginning(index int) int {
	for index < len(s.entries) {
		if !s.entries[index].used || s.entries[index].naluCompleteness == packet.Unset {
			index++
			continue
		}
		if s.entries[index].codecSpecific.BeginningOfPartition {
			return index
		}
		index++
	}
	return index
}

// findPartitionEnd scans forward from a known partition beginning for
// where that partition stops being in sequence, following
// VCMSessionInfo::FindPartitionEnd.
func (s *Session) findPartitionEnd(index int) int {
	pid := s.entries[index].codecSpecific.PartitionID
	for index < len(s.entries) {
		e := s.entries[index]
		beginning := e.codecSpecific.BeginningOfPartition
		lost := !e.used || e.naluCompleteness == packet.Unset ||
			(!beginning && index > 0 && !seqnum.InSequence(s.entries[index-1].seqNum, e.seqNum))
		if lost || e.codecSpecific.PartitionID != pid {
			return index - 1
		}
		index++
	}
	return index - 1
}

// BuildPartitionHeader emits a fragmentation header for partitioned
// codecs, following VCMSessionInfo::BuildVP8FragmentationHeader: a
// partition terminates at a missing packet, a gap in sequence numbers,
// or a change of partition id; partitions following an incomplete
// partition are still emitted.  Empty (never-seen) partition ids
// between the ones found are filled to start where the previous one
// ends, with zero length.
func (s *Session) BuildPartitionHeader() []Partition {
	if !s.haveRange {
		return nil
	}
	offsets := s.computeOffsets()

	found := map[int]Partition{}
	maxID := -1
	i := s.findNextPartitionBeginning(0)
	for i < len(s.entries) {
		pid := int(s.entries[i].codecSpecific.PartitionID)
		end := s.findPartitionEnd(i)
		if end < i {
			break
		}
		partEnd := offsets[end] + len(s.entries[end].payload)
		if _, ok := found[pid]; !ok {
			found[pid] = Partition{ID: pid, Offset: offsets[i], Length: partEnd - offsets[i]}
		}
		if pid > maxID {
			maxID = pid
		}
		i = s.findNextPartitionBeginning(end + 1)
	}

	if maxID < 0 {
		return nil
	}

	out := make([]Partition, maxID+1)
	for id := 0; id <= maxID; id++ {
		if p, ok := found[id]; ok {
			out[id] = p
		} else {
			offset := 0
			if id > 0 {
				offset = out[id-1].Offset + out[id-1].Length
			}
			out[id] = Partition{ID: id, Offset: offset, Length: 0}
		}
	}
	return out
}
