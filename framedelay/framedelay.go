// Package framedelay implements the inter-frame delay estimator (C6):
// one sample per released frame, comparing how much wallclock time
// elapsed against how much media time the RTP timestamps claim
// elapsed.  A positive result means the frame arrived later than its
// capture-time spacing would predict; this is jitterest's raw input.
package framedelay

import (
	"github.com/vjbuf/jitterbuffer/rtptime"
	"github.com/vjbuf/jitterbuffer/seqnum"
)

// Estimator computes frame_delay = wallclock_delta_ms - rtp_delta_ms
// between consecutive released frames. It is an original derivation
// rather than a ported implementation; see DESIGN.md. It reuses
// package rtptime for tick<->duration conversion rather than
// hand-rolling fixed-point math, following how RTP timestamps are
// converted to wallclock time for RTCP sender reports elsewhere in
// this style of codebase.
type Estimator struct {
	clockHz uint32

	haveSample     bool
	lastWallclocks int64
	lastTimestamp  seqnum.Timestamp
}

// New returns an Estimator for a codec clock running at clockHz (e.g.
// 90000 for video).
func New(clockHz uint32) *Estimator {
	return &Estimator{clockHz: clockHz}
}

// Reset clears the estimator back to having no baseline sample.
func (e *Estimator) Reset() {
	e.haveSample = false
	e.lastWallclocks = 0
	e.lastTimestamp = 0
}

// Update computes one frame_delay sample in milliseconds.  wallclockMs
// is the frame's latest_packet_time_ms and ts its RTP timestamp.  ok is
// false when there is no prior baseline yet, the timestamp repeats the
// previous sample (at most one sample per RTP timestamp), or the
// sample is reordered (negative rtp_delta after modular unwrap).
func (e *Estimator) Update(wallclockMs int64, ts seqnum.Timestamp) (delayMs int64, ok bool) {
	if !e.haveSample {
		e.haveSample = true
		e.lastWallclocks = wallclockMs
		e.lastTimestamp = ts
		return 0, false
	}

	if ts == e.lastTimestamp {
		return 0, false
	}

	rtpDeltaTicks := ts.Delta(e.lastTimestamp)
	if rtpDeltaTicks <= 0 {
		return 0, false
	}

	rtpDeltaMs := rtptime.ToDuration(rtpDeltaTicks, e.clockHz).Milliseconds()
	wallclockDeltaMs := wallclockMs - e.lastWallclocks

	e.lastWallclocks = wallclockMs
	e.lastTimestamp = ts

	return wallclockDeltaMs - rtpDeltaMs, true
}
