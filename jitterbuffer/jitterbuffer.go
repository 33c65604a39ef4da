// Package jitterbuffer implements the jitter buffer core (C8): the
// fixed-capacity pool of frame slots, the timestamp-ordered release
// queue, the NACK set, and the single mutex plus two condition
// variables that make up the concurrency model. It dispatches to
// package session (through package frameslot), package decodestate,
// package framedelay and package jitterest on every packet insert and
// frame release.
package jitterbuffer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/vjbuf/jitterbuffer/decodestate"
	"github.com/vjbuf/jitterbuffer/estimator"
	"github.com/vjbuf/jitterbuffer/framedelay"
	"github.com/vjbuf/jitterbuffer/frameslot"
	"github.com/vjbuf/jitterbuffer/internal/config"
	"github.com/vjbuf/jitterbuffer/jitterest"
	"github.com/vjbuf/jitterbuffer/packet"
	"github.com/vjbuf/jitterbuffer/rtptime"
	"github.com/vjbuf/jitterbuffer/seqnum"
	"github.com/vjbuf/jitterbuffer/session"
)

// Result is the stable set of outcomes a caller of
// InsertPacket/GetFrame can see.
type Result int

const (
	NoError Result = iota
	FirstPacket
	CompleteSession
	DecodableSession
	Incomplete
	DuplicatePacket
	SizeError
	TimestampError
	StateError
	FlushIndicator
	OldPacketError
	Uninitialized
	JitterBufferError
)

func (r Result) String() string {
	switch r {
	case NoError:
		return "no_error"
	case FirstPacket:
		return "first_packet"
	case CompleteSession:
		return "complete_session"
	case DecodableSession:
		return "decodable_session"
	case Incomplete:
		return "incomplete"
	case DuplicatePacket:
		return "duplicate_packet"
	case SizeError:
		return "size_error"
	case TimestampError:
		return "timestamp_error"
	case StateError:
		return "state_error"
	case FlushIndicator:
		return "flush_indicator"
	case OldPacketError:
		return "old_packet_error"
	case Uninitialized:
		return "uninitialized"
	case JitterBufferError:
		return "jitter_buffer_error"
	default:
		return "unknown"
	}
}

// NackMode selects how the buffer treats NACK candidates. NackHybrid
// filters them through ZeroOutNackEntries' hybrid rule and drops the
// RTT term from the render-time hint while RTT is above LowRTTNackMs;
// NackOff and NackInfinite behave identically. No mode changes when a
// frame is released: NextCompleteTimestamp holds back a
// non-continuous frame in every mode.
type NackMode int

const (
	NackOff NackMode = iota
	NackInfinite
	NackHybrid
)

// FrameBorrow is the consumer-visible handle on one released frame,
// valid until ReleaseFrame.
type FrameBorrow struct {
	Bytes            []byte
	FrameType        packet.FrameType
	RTPTimestamp     seqnum.Timestamp
	RenderTimeHintMs int64
	IsComplete       bool
	// HadMissingFrame mirrors the continuity verdict ExtractAndSetDecode
	// computed for this frame against the decoding-state tracker: true
	// whenever the frame was not continuous with the last one decoded
	// (released via decode-with-errors or NextMaybeIncompleteTimestamp),
	// false otherwise. A key frame reached through the
	// incomplete-duration escape hatch is continuous, because that path
	// resets the tracker first.
	HadMissingFrame bool

	slot *frameslot.Slot
}

type waitingForCompletion struct {
	valid           bool
	timestamp       seqnum.Timestamp
	size            int
	latestPacketMs  int64
	extractedAtMs   int64
}

// Buffer is the jitter buffer core.
type Buffer struct {
	mu          sync.Mutex
	frameReady  *sync.Cond
	packetReady *sync.Cond
	running     bool

	cfg     config.Config
	clockHz uint32

	pool    []*frameslot.Slot          // Free slots only, ready for GetFrame
	ordered []*frameslot.Slot          // slots holding at least one packet, not yet extracted, ascending rtp timestamp
	byTS    map[seqnum.Timestamp]*frameslot.Slot

	haveLatestReceivedSeqNum bool
	latestReceivedSeqNum     seqnum.Seq

	missing         []seqnum.Seq // ordered set of believed-lost seq nums
	needKeyFrame    bool
	maxNackListSize int
	maxPacketAge    int32

	decode *decodestate.Tracker
	delay  *framedelay.Estimator
	jitter *jitterest.Estimator

	frameRateEstimator *estimator.Estimator
	bitRateEstimator   *estimator.Estimator

	nackMode      NackMode
	lowRTTNackMs  int64
	highRTTNackMs int64
	rttMs         int64

	decodeWithErrors bool
	waiting          waitingForCompletion

	dropCount              int
	numDiscardedPackets    int
	numNotDecodablePackets int

	log *slog.Logger
}

// New creates a Buffer with cfg.StartFrames pre-allocated slots of
// cfg.MaxPacketsPerFrame capacity each, growing toward cfg.MaxFrames as
// needed. clockHz is the RTP clock rate used by the inter-frame delay
// estimator. The buffer logs flush, recycle and flush-indicator events
// to slog.Default(); use SetLogger to redirect them.
func New(cfg config.Config, clockHz uint32) *Buffer {
	b := &Buffer{
		cfg:                cfg,
		clockHz:            clockHz,
		byTS:               make(map[seqnum.Timestamp]*frameslot.Slot),
		decode:             decodestate.New(),
		delay:              framedelay.New(clockHz),
		jitter:             jitterest.New(),
		frameRateEstimator: estimator.New(time.Second),
		bitRateEstimator:   estimator.New(time.Second),
		nackMode:           NackOff,
		lowRTTNackMs:       int64(cfg.LowRTTNackMs),
		highRTTNackMs:      int64(cfg.HighRTTNackMs),
		rttMs:              int64(cfg.DefaultRTTMs),
		maxNackListSize:    cfg.MaxNackListSize,
		maxPacketAge:       int32(cfg.MaxPacketAgeToNack),
		log:                slog.Default().With("component", "jitterbuffer"),
	}
	b.frameReady = sync.NewCond(&b.mu)
	b.packetReady = sync.NewCond(&b.mu)
	for i := 0; i < cfg.StartFrames; i++ {
		b.pool = append(b.pool, frameslot.New(cfg.MaxPacketsPerFrame))
	}
	return b
}

// SetLogger redirects the buffer's event log; passing nil restores
// slog.Default(). Must be called before Start.
func (b *Buffer) SetLogger(logger *slog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	b.log = logger.With("component", "jitterbuffer")
}

// Start allows InsertPacket/GetFrame to accept packets.
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
}

// Stop wakes every waiter and transitions the buffer to a terminal
// state where GetFrame returns Uninitialized.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.frameReady.Broadcast()
	b.packetReady.Broadcast()
}

// Flush releases every slot to Free, clears the queue, the NACK set
// and the decoding-state/delay/jitter estimators, but preserves
// numDiscardedPackets.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Buffer) flushLocked() {
	if len(b.ordered) > 0 {
		b.log.Info("flush", "slotsReleased", len(b.ordered), "missingTracked", len(b.missing))
	}
	for _, s := range b.ordered {
		s.Reset()
		b.pool = append(b.pool, s)
	}
	b.ordered = nil
	b.byTS = make(map[seqnum.Timestamp]*frameslot.Slot)
	b.missing = nil
	b.needKeyFrame = false
	b.haveLatestReceivedSeqNum = false
	b.decode.Reset()
	b.delay.Reset()
	b.jitter.Reset()
	b.waiting = waitingForCompletion{}
	b.frameReady.Broadcast()
	b.packetReady.Broadcast()
}

// SetNackMode sets the NACK mode and the hybrid mode's RTT thresholds
// (see NackMode).
func (b *Buffer) SetNackMode(mode NackMode, lowRTTMs, highRTTMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nackMode = mode
	b.lowRTTNackMs = lowRTTMs
	b.highRTTNackMs = highRTTMs
}

// SetNackSettings bounds the NACK set.
func (b *Buffer) SetNackSettings(maxListSize int, maxPacketAge int32, maxIncompleteTimeMs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxNackListSize = maxListSize
	b.maxPacketAge = maxPacketAge
	b.cfg.MaxIncompleteTimeMs = maxIncompleteTimeMs
}

// SetDecodeWithErrors enables NextCompleteTimestamp to accept a
// complete-but-not-continuous key frame instead of always waiting for
// strict continuity. It does not affect Decodable (gapped) frames;
// only NextMaybeIncompleteTimestamp returns those.
func (b *Buffer) SetDecodeWithErrors(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decodeWithErrors = v
}

// UpdateRTT propagates a new round-trip time estimate to the jitter
// estimator and to the hybrid NACK mode's RTT score and render-time
// multiplier.
func (b *Buffer) UpdateRTT(rttMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rttMs = rttMs
	b.jitter.UpdateRTT(float64(rttMs))
}

// IncomingRateStatistics reports inbound rates, frames per second and
// bits per second, measured over the last closed one-second interval of
// each estimator. It returns zero until the first interval has closed.
// The rates are not smoothed across intervals.
func (b *Buffer) IncomingRateStatistics() (frameRate, bitRate uint32) {
	_, frameRate = b.frameRateEstimator.Estimate()
	byteRate, _ := b.bitRateEstimator.Estimate()
	return frameRate, byteRate * 8
}

// GetFrame locates the slot for packet p's RTP timestamp, allocating a
// new Empty slot if none exists yet. When no free slot is left, the
// pool grows toward cfg.MaxFrames. At that ceiling, GetFrame drops the
// oldest queued frame, whatever its type, and does not recycle up to a
// key frame. It returns JitterBufferError only when nothing is queued
// to drop.
func (b *Buffer) GetFrame(p packet.Descriptor) (*frameslot.Slot, Result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil, Uninitialized
	}

	if b.decode.IsOldPacket(p.RTPTimestamp, p.SeqNum) {
		if p.SizeBytes > 0 {
			b.numDiscardedPackets++
		}
		streak := b.decode.RecordOldPacket()
		if b.cfg.MaxConsecutiveOldPackets > 0 && streak > b.cfg.MaxConsecutiveOldPackets {
			b.log.Warn("flushIndicator", "consecutiveOldPackets", streak)
			b.flushLocked()
			return nil, FlushIndicator
		}
		return nil, OldPacketError
	}
	b.decode.ResetOldPacketStreak()

	if slot, ok := b.byTS[p.RTPTimestamp]; ok {
		return slot, NoError
	}

	if len(b.pool) == 0 {
		if !b.reclaimOneSlotLocked() {
			return nil, JitterBufferError
		}
	}

	slot := b.pool[len(b.pool)-1]
	b.pool = b.pool[:len(b.pool)-1]
	slot.Allocate()
	b.byTS[p.RTPTimestamp] = slot
	return slot, NoError
}

// InsertPacket stores p into slot (obtained from GetFrame), updating
// the ordered release queue, the NACK set and the incoming rate
// statistics.
func (b *Buffer) InsertPacket(slot *frameslot.Slot, p packet.Descriptor) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.noteReceived(p.SeqNum)

	wasState := slot.State()
	out := slot.Insert(p, rtptime.Milliseconds())

	switch out.Result {
	case session.InsertDuplicate:
		return DuplicatePacket
	case session.InsertSizeError:
		return SizeError
	case session.InsertTimestampError:
		return TimestampError
	case session.InsertStateError:
		return StateError
	}

	if wasState == frameslot.Empty || wasState == frameslot.Free {
		b.insertIntoQueueLocked(slot)
	}

	b.bitRateEstimator.Accumulate(uint32(out.BytesAdded))

	if b.waiting.valid {
		if ts, ok := slot.Timestamp(); ok && ts == b.waiting.timestamp {
			b.waiting.size += out.BytesAdded
			b.waiting.latestPacketMs = slot.LatestPacketTimeMs()
			b.maybeFlushWaitingLocked()
		}
	}

	// Complete/Decodable take priority over FirstPacket: a frame whose
	// very first packet already satisfies one of those predicates (a
	// one-packet key frame, a Start-fragment-only frame) is reported as
	// such rather than merely as "first packet arrived".
	newState := slot.State()
	result := Incomplete
	switch {
	case newState == frameslot.Complete && wasState != frameslot.Complete:
		result = CompleteSession
		b.frameRateEstimator.Accumulate(1)
		b.frameReady.Broadcast()
	case newState == frameslot.Decodable && wasState != frameslot.Decodable:
		result = DecodableSession
		b.frameRateEstimator.Accumulate(1)
		b.frameReady.Broadcast()
	case wasState == frameslot.Empty && newState != frameslot.Empty:
		result = FirstPacket
	}

	b.packetReady.Broadcast()
	return result
}

// insertIntoQueueLocked inserts slot into the ascending-timestamp
// ordered queue; called once, on the slot's first packet.
func (b *Buffer) insertIntoQueueLocked(slot *frameslot.Slot) {
	ts, ok := slot.Timestamp()
	if !ok {
		return
	}
	i := 0
	for ; i < len(b.ordered); i++ {
		ots, _ := b.ordered[i].Timestamp()
		if ts.IsOlder(ots) {
			break
		}
	}
	b.ordered = append(b.ordered, nil)
	copy(b.ordered[i+1:], b.ordered[i:])
	b.ordered[i] = slot
}

// NextCompleteTimestamp blocks up to maxWaitMs on the frame-ready
// event, returning the oldest complete-and-continuous (or, under the
// decode-with-errors policy, complete key) frame's timestamp.
func (b *Buffer) NextCompleteTimestamp(maxWaitMs int64) (seqnum.Timestamp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := rtptime.Milliseconds() + maxWaitMs
	for {
		if !b.running {
			return 0, false
		}
		if ts, ok := b.oldestReleasableLocked(); ok {
			return ts, true
		}
		remaining := deadline - rtptime.Milliseconds()
		if remaining <= 0 {
			return 0, false
		}
		timer := time.AfterFunc(time.Duration(remaining)*time.Millisecond, func() {
			b.mu.Lock()
			b.frameReady.Broadcast()
			b.mu.Unlock()
		})
		b.frameReady.Wait()
		timer.Stop()
	}
}

// oldestReleasableLocked applies the continuity-gating rule: release
// the oldest Complete-and-continuous frame; if
// decode-with-errors is set, also release a Complete key frame even if
// not continuous; if the incomplete-duration escape hatch is
// configured and exceeded, force-advance to the next key frame in the
// queue and retry.
func (b *Buffer) oldestReleasableLocked() (seqnum.Timestamp, bool) {
	for len(b.ordered) > 0 {
		slot := b.ordered[0]
		if slot.State() != frameslot.Complete {
			return 0, false
		}
		ts, _ := slot.Timestamp()
		low, _ := slot.LowSeqNum()
		if b.decode.IsContinuousFrame(low, slot.FrameType()) {
			return ts, true
		}
		if b.decodeWithErrors && slot.FrameType() == packet.Key {
			return ts, true
		}
		if b.cfg.MaxIncompleteTimeMs > 0 && b.tooLongNonContinuousLocked(slot) {
			if b.recycleUntilKeyFrameLocked() {
				continue
			}
			return 0, false
		}
		return 0, false
	}
	return 0, false
}

func (b *Buffer) tooLongNonContinuousLocked(slot *frameslot.Slot) bool {
	return rtptime.Milliseconds()-slot.LatestPacketTimeMs() > int64(b.cfg.MaxIncompleteTimeMs)
}

// WaitForPacket blocks up to maxWaitMs on the packet-ready event,
// letting a consumer that wants to coalesce polling (rather than
// tightly spin) wake up whenever any packet is successfully inserted,
// not just when a frame becomes releasable. It returns false if
// maxWaitMs elapses or the buffer is stopped first.
func (b *Buffer) WaitForPacket(maxWaitMs int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return false
	}
	deadline := rtptime.Milliseconds() + maxWaitMs
	remaining := deadline - rtptime.Milliseconds()
	if remaining <= 0 {
		return false
	}
	timer := time.AfterFunc(time.Duration(remaining)*time.Millisecond, func() {
		b.mu.Lock()
		b.packetReady.Broadcast()
		b.mu.Unlock()
	})
	b.packetReady.Wait()
	timer.Stop()
	return b.running && rtptime.Milliseconds() < deadline
}

// NextMaybeIncompleteTimestamp is the non-blocking counterpart of
// NextCompleteTimestamp: it additionally accepts a Decodable (gapped)
// frame, subject to requiring a key frame while the decoding-state
// tracker is in its initial state.
func (b *Buffer) NextMaybeIncompleteTimestamp() (seqnum.Timestamp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ordered) == 0 {
		return 0, false
	}
	slot := b.ordered[0]
	switch slot.State() {
	case frameslot.Complete, frameslot.Decodable:
		if b.decode.InInitialState() && slot.FrameType() != packet.Key {
			return 0, false
		}
		ts, _ := slot.Timestamp()
		return ts, true
	default:
		return 0, false
	}
}

// ExtractAndSetDecode removes the slot for rtpTs from the release
// queue, feeds one sample to the delay/jitter path, marks the slot
// Decoding, advances the decoding-state tracker, and prunes the NACK
// list up to the newly-decoded sequence number.
func (b *Buffer) ExtractAndSetDecode(rtpTs seqnum.Timestamp) (*FrameBorrow, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot, ok := b.byTS[rtpTs]
	if !ok {
		return nil, false
	}
	for i, s := range b.ordered {
		if s == slot {
			b.ordered = append(b.ordered[:i], b.ordered[i+1:]...)
			break
		}
	}

	b.maybeFlushWaitingLocked()

	wasComplete := slot.State() == frameslot.Complete
	delayMs, ok := b.delay.Update(slot.LatestPacketTimeMs(), rtpTs)
	if ok {
		for n := slot.NackCount(); n > 0; n-- {
			b.jitter.FrameNacked()
		}
		b.jitter.Update(float64(delayMs), slot.Length(), !wasComplete)
	}

	low, _ := slot.LowSeqNum()
	continuous := b.decode.IsContinuousFrame(low, slot.FrameType())
	slot.SetPreviousFrameLoss(!continuous)

	high, _ := slot.HighSeqNum()
	if slot.FrameType() == packet.Empty {
		b.decode.UpdateForEmpty(high, rtpTs)
	} else {
		pictureID, temporalID := uint16(0), uint8(0)
		if cs, ok := slot.MarkerCodecSpecific(); ok {
			pictureID, temporalID = cs.PictureID, cs.TemporalID
		}
		b.decode.Update(high, rtpTs, pictureID, temporalID)
	}
	b.pruneMissingUpTo(high)

	if !wasComplete {
		b.waiting = waitingForCompletion{
			valid:          true,
			timestamp:      rtpTs,
			size:           slot.Length(),
			latestPacketMs: slot.LatestPacketTimeMs(),
			extractedAtMs:  rtptime.Milliseconds(),
		}
		b.numNotDecodablePackets++
	}

	slot.SetState(frameslot.Decoding)

	return &FrameBorrow{
		Bytes:            slot.Bytes(),
		FrameType:        slot.FrameType(),
		RTPTimestamp:     rtpTs,
		RenderTimeHintMs: rtptime.Milliseconds() + b.jitter.EstimateMs(b.rttMultiplierLocked()),
		IsComplete:       wasComplete,
		HadMissingFrame:  slot.PreviousFrameLoss(),
		slot:             slot,
	}, true
}

func (b *Buffer) rttMultiplierLocked() float64 {
	if b.nackMode == NackHybrid && b.rttMs > b.lowRTTNackMs {
		return 0
	}
	return 1
}

// maybeFlushWaitingLocked flushes the belated-completion side-band
// into the jitter estimator once its timeout has elapsed.
func (b *Buffer) maybeFlushWaitingLocked() {
	if !b.waiting.valid {
		return
	}
	if rtptime.Milliseconds()-b.waiting.extractedAtMs > int64(b.cfg.WaitingForCompletionTimeoutMs) {
		b.jitter.Update(0, b.waiting.size, true)
		b.waiting = waitingForCompletion{}
	}
}

// ReleaseFrame returns fb's slot to the Free pool.
func (b *Buffer) ReleaseFrame(fb *FrameBorrow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byTS, fb.RTPTimestamp)
	fb.slot.Reset()
	b.pool = append(b.pool, fb.slot)
}

// GetNackList returns the current NACK set as bitmap-coalesced
// rtcp.NackPair entries, and whether the caller should request a fresh
// key frame instead (the set overflowed, or no key frame is queued to
// recover to).
func (b *Buffer) GetNackList() ([]rtcp.NackPair, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.needKeyFrame {
		return nil, true
	}
	return toNackPairs(b.zeroOutNackEntriesLocked()), false
}

// GetNackSeqNums returns the current NACK set as a sorted slice of raw
// sequence numbers, and whether the caller should request a fresh key
// frame instead. A nil slice with requestKeyFrame==false means the set
// is genuinely empty; a key-frame request returns a nil slice with
// requestKeyFrame==true.
func (b *Buffer) GetNackSeqNums() (seqNums []uint16, requestKeyFrame bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.needKeyFrame {
		return nil, true
	}
	missing := b.zeroOutNackEntriesLocked()
	if len(missing) == 0 {
		return nil, false
	}
	out := make([]uint16, len(missing))
	for i, s := range missing {
		out[i] = uint16(s)
	}
	return out, false
}

// zeroOutNackEntriesLocked threads the gap-detection candidate list
// through every active (non-Free) slot's ZeroOutNackEntries in
// ascending-timestamp order, following VCMJitterBuffer's
// frame-buffer loop in CreateNackList: each frame claims and filters
// its own region of the candidate list before the remainder is
// reported to the caller.
func (b *Buffer) zeroOutNackEntriesLocked() []seqnum.Seq {
	mode := frameslot.NackNormal
	if b.nackMode == NackHybrid {
		mode = frameslot.NackHybrid
	}
	score := b.rttScoreLocked()
	candidates := b.missing
	for _, slot := range b.ordered {
		candidates = slot.ZeroOutNackEntries(candidates, mode, score)
	}
	return candidates
}

// rttScoreLocked derives ZeroOutNackEntries' hybrid-mode rttScore from
// where the current RTT estimate falls between the hybrid NACK mode's
// low/high thresholds: 1.0 (favor NACK) at or below lowRTTNackMs,
// falling linearly to 0.0 (favor FEC) at or above highRTTNackMs, rather
// than the fixed constant this value inherited before it had a real
// caller (see DESIGN.md).
func (b *Buffer) rttScoreLocked() float64 {
	if b.rttMs <= b.lowRTTNackMs {
		return 1.0
	}
	if b.rttMs >= b.highRTTNackMs || b.highRTTNackMs <= b.lowRTTNackMs {
		return 0.0
	}
	return float64(b.highRTTNackMs-b.rttMs) / float64(b.highRTTNackMs-b.lowRTTNackMs)
}

// noteReceived updates the gap-detection state for one newly-arrived
// sequence number.
func (b *Buffer) noteReceived(seq seqnum.Seq) {
	if !b.haveLatestReceivedSeqNum {
		b.haveLatestReceivedSeqNum = true
		b.latestReceivedSeqNum = seq
		return
	}
	if seq.IsNewer(b.latestReceivedSeqNum) {
		for s := b.latestReceivedSeqNum + 1; s != seq; s++ {
			b.missing = append(b.missing, s)
		}
		b.latestReceivedSeqNum = seq
		b.enforceNackBoundsLocked()
		return
	}
	for i, m := range b.missing {
		if m == seq {
			b.missing = append(b.missing[:i], b.missing[i+1:]...)
			break
		}
	}
}

func (b *Buffer) enforceNackBoundsLocked() {
	for len(b.missing) > 0 {
		tooLong := len(b.missing) > b.maxNackListSize
		tooOld := b.maxPacketAge > 0 &&
			b.latestReceivedSeqNum.Delta(b.missing[0]) > b.maxPacketAge
		if !tooLong && !tooOld {
			return
		}
		if !b.recycleUntilKeyFrameLocked() {
			b.needKeyFrame = true
			b.missing = nil
			return
		}
	}
}

func (b *Buffer) pruneMissingUpTo(seq seqnum.Seq) {
	i := 0
	for i < len(b.missing) && !b.missing[i].IsNewer(seq) {
		i++
	}
	b.missing = b.missing[i:]
}

// recycleUntilKeyFrameLocked drops the oldest queued frames until the
// next one in order is a key frame, resetting the decoding-state
// tracker and re-anchoring the NACK list to that key frame's lowest
// sequence number. Returns false if the queue was exhausted without
// finding one. Every dropped frame's slot returns to the pool, but
// callers that need a guaranteed-available slot afterward (GetFrame's
// pool-empty path) must use reclaimOneSlotLocked instead: a call that
// stops right at a key frame frees nothing.
func (b *Buffer) recycleUntilKeyFrameLocked() bool {
	for len(b.ordered) > 0 {
		front := b.ordered[0]
		if front.FrameType() == packet.Key {
			b.decode.Reset()
			if low, ok := front.LowSeqNum(); ok {
				b.reanchorMissingTo(low)
			}
			b.needKeyFrame = false
			return true
		}
		b.dropFrontLocked(front)
	}
	return false
}

// reclaimOneSlotLocked makes one slot available in the pool. Used by
// GetFrame when the pool is exhausted and a new RTP timestamp needs a
// slot right now. It grows the pool while capacity remains below
// cfg.MaxFrames; at the ceiling it drops exactly the oldest queued
// frame, regardless of its type, returning its slot to the pool.
func (b *Buffer) reclaimOneSlotLocked() bool {
	if b.growPoolLocked() {
		return true
	}
	if len(b.ordered) == 0 {
		return false
	}
	b.dropFrontLocked(b.ordered[0])
	return true
}

// dropFrontLocked removes front (the head of b.ordered) from the
// queue, resets it to Free and returns it to the pool, and records it
// against the consecutive-old-frame streak.
func (b *Buffer) dropFrontLocked(front *frameslot.Slot) {
	b.ordered = b.ordered[1:]
	ts, haveTS := front.Timestamp()
	if haveTS {
		delete(b.byTS, ts)
	}
	b.log.Debug("recycle", "timestamp", ts, "frameType", front.FrameType())
	front.Reset()
	b.pool = append(b.pool, front)
	b.dropCount++
	streak := b.decode.RecordOldFrame()
	if b.cfg.MaxConsecutiveOldFrames > 0 && streak > b.cfg.MaxConsecutiveOldFrames {
		b.needKeyFrame = true
		b.log.Info("needKeyFrame", "consecutiveOldFrames", streak)
	}
}

// growPoolLocked adds one slot to the pool while the slots in use
// (free ones plus those mapped to an RTP timestamp) number fewer than
// cfg.MaxFrames.
func (b *Buffer) growPoolLocked() bool {
	total := len(b.pool) + len(b.byTS)
	if total >= b.cfg.MaxFrames {
		return false
	}
	b.pool = append(b.pool, frameslot.New(b.maxPayloadCapacity()))
	return true
}

func (b *Buffer) maxPayloadCapacity() int {
	if b.cfg.MaxPacketsPerFrame <= 0 {
		return 1024
	}
	return b.cfg.MaxPacketsPerFrame
}

func (b *Buffer) reanchorMissingTo(low seqnum.Seq) {
	i := 0
	for i < len(b.missing) && b.missing[i].IsOlder(low) {
		i++
	}
	b.missing = b.missing[i:]
}

// Stats is the external statistics tuple exposed to callers.
type Stats struct {
	DropCount              int
	NumDiscardedPackets    int
	NumNotDecodablePackets int
	LastDecodedTimestamp   seqnum.Timestamp
	HaveLastDecoded        bool
}

// GetStats reports the buffer's accumulated drop/discard counters and
// the decoding-state tracker's last decoded position.
func (b *Buffer) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.decode.LastDecodedTimestamp()
	return Stats{
		DropCount:              b.dropCount,
		NumDiscardedPackets:    b.numDiscardedPackets,
		NumNotDecodablePackets: b.numNotDecodablePackets,
		LastDecodedTimestamp:   ts,
		HaveLastDecoded:        ok,
	}
}

// toNackPairs coalesces a sorted, modularly-ascending run of missing
// sequence numbers into bitmap NACK pairs, following
// packetcache.ToBitmap's algorithm.
func toNackPairs(missing []seqnum.Seq) []rtcp.NackPair {
	if len(missing) == 0 {
		return nil
	}
	raw := make([]uint16, len(missing))
	for i, s := range missing {
		raw[i] = uint16(s)
	}
	var nacks []rtcp.NackPair
	for len(raw) > 0 {
		first, bitmap, remain := toBitmap(raw)
		nacks = append(nacks, rtcp.NackPair{PacketID: first, LostPackets: rtcp.PacketBitmap(bitmap)})
		raw = remain
	}
	return nacks
}

func toBitmap(seqnos []uint16) (first uint16, bitmap uint16, remain []uint16) {
	first = seqnos[0]
	remain = seqnos[1:]
	for len(remain) > 0 {
		delta := remain[0] - first - 1
		if delta >= 16 {
			break
		}
		bitmap = bitmap | (1 << delta)
		remain = remain[1:]
	}
	return
}
