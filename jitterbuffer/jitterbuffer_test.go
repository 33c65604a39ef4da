package jitterbuffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vjbuf/jitterbuffer/internal/config"
	"github.com/vjbuf/jitterbuffer/packet"
	"github.com/vjbuf/jitterbuffer/seqnum"
)

func testConfig() config.Config {
	c := config.Default()
	c.StartFrames = 4
	c.MaxFrames = 8
	c.MaxPacketsPerFrame = 32
	c.MaxNackListSize = 16
	c.MaxPacketAgeToNack = 100
	c.MaxConsecutiveOldFrames = 4
	c.MaxConsecutiveOldPackets = 4
	c.WaitingForCompletionTimeoutMs = 50
	return c
}

func oneShotKeyFrame(ts seqnum.Timestamp, seq seqnum.Seq) packet.Descriptor {
	return packet.Descriptor{
		SeqNum:               seq,
		RTPTimestamp:         ts,
		Marker:               true,
		IsFirstPacketInFrame: true,
		FrameType:            packet.Key,
		NaluCompleteness:     packet.Complete,
		Payload:              []byte{1, 2, 3},
	}
}

func oneShotDeltaFrame(ts seqnum.Timestamp, seq seqnum.Seq) packet.Descriptor {
	return packet.Descriptor{
		SeqNum:               seq,
		RTPTimestamp:         ts,
		Marker:               true,
		IsFirstPacketInFrame: true,
		FrameType:            packet.Delta,
		NaluCompleteness:     packet.Complete,
		Payload:              []byte{4, 5, 6},
	}
}

func insert(t *testing.T, b *Buffer, p packet.Descriptor) Result {
	t.Helper()
	slot, res := b.GetFrame(p)
	require.Equal(t, NoError, res)
	return b.InsertPacket(slot, p)
}

func TestFirstPacketThenCompleteSingleShotKeyFrame(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	res := insert(t, b, oneShotKeyFrame(1000, 5))
	// A Complete, one-packet key frame transitions Free->Complete in a
	// single Insert: the core reports the stronger CompleteSession
	// outcome rather than FirstPacket.
	require.Equal(t, CompleteSession, res)

	ts, ok := b.NextMaybeIncompleteTimestamp()
	require.True(t, ok)
	require.Equal(t, seqnum.Timestamp(1000), ts)

	fb, ok := b.ExtractAndSetDecode(ts)
	require.True(t, ok)
	require.True(t, fb.IsComplete)
	require.Equal(t, packet.Key, fb.FrameType)
	require.Equal(t, []byte{1, 2, 3}, fb.Bytes)

	b.ReleaseFrame(fb)
}

func TestIncompleteFrameReportsFirstPacketThenComplete(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	// NaluCompleteness Incomplete (neither Start nor End) keeps the slot
	// at Incomplete rather than promoting straight to Decodable, so the
	// first insert reports plain FirstPacket.
	first := packet.Descriptor{
		SeqNum:               10,
		RTPTimestamp:         2000,
		IsFirstPacketInFrame: true,
		FrameType:            packet.Key,
		NaluCompleteness:     packet.Incomplete,
		Payload:              []byte{0xAA},
	}
	last := packet.Descriptor{
		SeqNum:           11,
		RTPTimestamp:     2000,
		Marker:           true,
		FrameType:        packet.Key,
		NaluCompleteness: packet.End,
		Payload:          []byte{0xBB},
	}

	require.Equal(t, FirstPacket, insert(t, b, first))
	require.Equal(t, CompleteSession, insert(t, b, last))
}

func TestContinuityGatesReleaseOfNonKeyFrame(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	// The first frame ever is a delta frame: with no decoded baseline,
	// IsContinuousFrame only accepts a key frame, so it must not be
	// releasable even though it is Complete.
	insert(t, b, oneShotDeltaFrame(1000, 0))
	_, ok := b.NextMaybeIncompleteTimestamp()
	require.False(t, ok)

	_, ok = b.NextCompleteTimestamp(5)
	require.False(t, ok)
}

func TestKeyFrameUnblocksInitialRelease(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 100))
	ts, ok := b.NextCompleteTimestamp(50)
	require.True(t, ok)
	require.Equal(t, seqnum.Timestamp(1000), ts)
}

func TestDuplicatePacketIsReportedAndDropped(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	p := oneShotKeyFrame(1000, 7)
	require.Equal(t, CompleteSession, insert(t, b, p))
	require.Equal(t, DuplicatePacket, insert(t, b, p))
}

func TestOldPacketAfterDecodeIsRejected(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	ts, ok := b.NextCompleteTimestamp(50)
	require.True(t, ok)
	fb, ok := b.ExtractAndSetDecode(ts)
	require.True(t, ok)
	b.ReleaseFrame(fb)

	_, res := b.GetFrame(oneShotKeyFrame(900, 0))
	require.Equal(t, OldPacketError, res)
}

func TestTooManyConsecutiveOldPacketsFlushes(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	ts, ok := b.NextCompleteTimestamp(50)
	require.True(t, ok)
	fb, ok := b.ExtractAndSetDecode(ts)
	require.True(t, ok)
	b.ReleaseFrame(fb)

	var last Result
	for i := 0; i < testConfig().MaxConsecutiveOldPackets+1; i++ {
		_, last = b.GetFrame(oneShotKeyFrame(900, seqnum.Seq(i)))
	}
	require.Equal(t, FlushIndicator, last)

	// After the flush, the decoding-state tracker is back to its
	// initial state, so the same old packet is accepted again.
	_, res := b.GetFrame(oneShotKeyFrame(900, 0))
	require.Equal(t, NoError, res)
}

func TestNackListReportsGapAndPrunesOnDecode(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	// Sequence numbers 1 and 2 never arrive; 3 does, opening a gap.
	insert(t, b, oneShotDeltaFrame(1030, 3))

	pairs, needKeyFrame := b.GetNackList()
	require.False(t, needKeyFrame)
	require.Len(t, pairs, 1)
	require.Equal(t, uint16(1), pairs[0].PacketID)
	require.NotZero(t, pairs[0].LostPackets)

	ts, ok := b.NextCompleteTimestamp(5)
	require.True(t, ok)
	require.Equal(t, seqnum.Timestamp(1000), ts)
	fb, ok := b.ExtractAndSetDecode(ts)
	require.True(t, ok)
	b.ReleaseFrame(fb)

	// Once seq 0 has been decoded, gaps at or below it are pruned from
	// the NACK set; seq 1/2 are still outstanding since they are newer.
	pairs, _ = b.GetNackList()
	require.Len(t, pairs, 1)
}

func TestLateArrivalClearsMissingEntry(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	insert(t, b, oneShotDeltaFrame(1030, 2))
	pairs, _ := b.GetNackList()
	require.Len(t, pairs, 1)

	// Seq 1 arrives late, closing the gap.
	insert(t, b, oneShotDeltaFrame(1015, 1))
	pairs, _ = b.GetNackList()
	require.Empty(t, pairs)
}

func TestFlushClearsQueueAndNackSet(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	insert(t, b, oneShotDeltaFrame(1030, 3))
	pairs, _ := b.GetNackList()
	require.NotEmpty(t, pairs)

	b.Flush()

	pairs, needKeyFrame := b.GetNackList()
	require.Empty(t, pairs)
	require.False(t, needKeyFrame)
	_, ok := b.NextMaybeIncompleteTimestamp()
	require.False(t, ok)
}

func TestReleaseFrameReturnsSlotToPool(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	for i := 0; i < testConfig().StartFrames*3; i++ {
		ts := seqnum.Timestamp(1000 + i*30)
		insert(t, b, oneShotKeyFrame(ts, seqnum.Seq(i)))
		rts, ok := b.NextCompleteTimestamp(50)
		require.True(t, ok)
		require.Equal(t, ts, rts)
		fb, ok := b.ExtractAndSetDecode(rts)
		require.True(t, ok)
		b.ReleaseFrame(fb)
	}
}

func TestIncomingRateStatisticsZeroWithinFirstInterval(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	insert(t, b, oneShotDeltaFrame(1030, 1))

	frameRate, bitRate := b.IncomingRateStatistics()
	// Both estimators use a one-second interval; a burst that lands
	// within the first interval reports zero until it elapses.
	require.Equal(t, uint32(0), frameRate)
	require.Equal(t, uint32(0), bitRate)
}

func TestStopWakesBlockedWaiter(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	done := make(chan struct{})
	go func() {
		_, ok := b.NextCompleteTimestamp(5000)
		require.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NextCompleteTimestamp did not wake up after Stop")
	}
}

func TestWaitForPacketWakesOnInsert(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	woke := make(chan bool, 1)
	go func() {
		woke <- b.WaitForPacket(2000)
	}()

	time.Sleep(10 * time.Millisecond)
	insert(t, b, oneShotKeyFrame(1000, 0))

	select {
	case ok := <-woke:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitForPacket did not wake up on insert")
	}
}

func TestGetFrameBeforeStartReturnsUninitialized(t *testing.T) {
	b := New(testConfig(), 90000)
	_, res := b.GetFrame(oneShotKeyFrame(1000, 0))
	require.Equal(t, Uninitialized, res)
}

func TestToNackPairsCoalescesRunIntoSingleBitmap(t *testing.T) {
	missing := []seqnum.Seq{1, 2, 3, 20}
	pairs := toNackPairs(missing)
	require.Len(t, pairs, 2)
	require.Equal(t, uint16(1), pairs[0].PacketID)
	require.Equal(t, uint16(20), pairs[1].PacketID)
}

func TestHadMissingFrameReflectsContinuity(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	ts, ok := b.NextCompleteTimestamp(50)
	require.True(t, ok)
	fb, ok := b.ExtractAndSetDecode(ts)
	require.True(t, ok)
	require.False(t, fb.HadMissingFrame)
	b.ReleaseFrame(fb)

	// Seq 1 is skipped, so the next frame's low seq num no longer picks
	// up where the last decoded one left off.
	insert(t, b, oneShotDeltaFrame(1030, 2))
	fb2, ok := b.ExtractAndSetDecode(seqnum.Timestamp(1030))
	require.True(t, ok)
	require.True(t, fb2.HadMissingFrame)
	b.ReleaseFrame(fb2)
}

func TestGetNackSeqNumsMatchesBitmapForm(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	insert(t, b, oneShotDeltaFrame(1030, 3))

	seqNums, requestKeyFrame := b.GetNackSeqNums()
	require.False(t, requestKeyFrame)
	require.Equal(t, []uint16{1, 2}, seqNums)

	pairs, _ := b.GetNackList()
	require.Len(t, pairs, 1)
	require.Equal(t, uint16(1), pairs[0].PacketID)
}

func TestHybridNackRelaxesOnlyGapsInsideAnActiveFrameWhenRTTIsHigh(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	insert(t, b, oneShotKeyFrame(1000, 0))
	// ts=1030's own packet range is [2,4]; seq 3 is a gap inside that
	// frame, while seq 1 is a gap before it (outside any slot's range).
	p2 := oneShotDeltaFrame(1030, 2)
	p2.Marker = false
	insert(t, b, p2)
	insert(t, b, oneShotDeltaFrame(1030, 4))

	seqNums, _ := b.GetNackSeqNums()
	require.Equal(t, []uint16{1, 3}, seqNums)

	// Once hybrid NACK mode is active and the RTT estimate is at or
	// above highRTTNackMs, rttScoreLocked bottoms out at 0, which is at
	// or below ZeroOutNackEntries' 0.25 threshold: gaps inside an active
	// frame's own range are dropped in favor of FEC, but seq 1 (outside
	// every slot's range) still passes through untouched.
	b.SetNackMode(NackHybrid, 20, 100)
	b.UpdateRTT(150)

	seqNums, _ = b.GetNackSeqNums()
	require.Equal(t, []uint16{1}, seqNums)
}

func TestGetStatsReportsLastDecodedTimestamp(t *testing.T) {
	b := New(testConfig(), 90000)
	b.Start()

	require.False(t, b.GetStats().HaveLastDecoded)

	insert(t, b, oneShotKeyFrame(1000, 0))
	ts, ok := b.NextCompleteTimestamp(50)
	require.True(t, ok)
	fb, ok := b.ExtractAndSetDecode(ts)
	require.True(t, ok)
	b.ReleaseFrame(fb)

	stats := b.GetStats()
	require.True(t, stats.HaveLastDecoded)
	require.Equal(t, seqnum.Timestamp(1000), stats.LastDecodedTimestamp)
}
