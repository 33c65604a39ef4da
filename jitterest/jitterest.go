// Package jitterest implements the jitter estimator (C7): a recursive
// two-state Kalman filter over (frame_delay, frame_size) pairs that
// tracks a link-rate slope and a queuing delay, inflating its noise
// model when retransmissions (NACKs) are dominating the observed
// delay.
//
// This is an original derivation of the filter's state and contract
// rather than a port of a reference implementation; see DESIGN.md for
// the modeling choices. It follows the packaging idiom of an
// atomically-readable estimate behind an Accumulate/Reset-shaped API,
// generalized to a (delay, size, nack) observation rather than a
// plain EWMA over RTP-timestamp deltas.
package jitterest

import (
	"math"
	"sync/atomic"
)

const (
	// initialVarNoise is the starting measurement-noise variance
	// (ms^2) before any samples have been observed.
	initialVarNoise = 4.0
	// processNoiseSlope/processNoiseDelay are the diagonal entries of
	// the Kalman process-noise covariance (Q), reflecting that the
	// true link-rate slope drifts far more slowly than the queuing
	// delay does.
	processNoiseSlope = 2.5e-10
	processNoiseDelay = 1e-10
	// nackPenaltyPerCount inflates the effective measurement noise by
	// this fraction for every NACK recorded against the frame being
	// updated, so that retransmission-inflated delay samples widen the
	// estimate less abruptly than a genuine network regression would.
	nackPenaltyPerCount = 0.5
	// noiseVarianceDecay is the EWMA weight kept on the running
	// measurement-noise-variance estimate.
	noiseVarianceDecay = 0.999
	// frameSizeDecay is the EWMA weight kept on the running average
	// frame size used as the Kalman observation matrix's reference
	// point.
	frameSizeDecay = 0.99
)

// Estimator is the two-state Kalman filter over (frame delay, frame
// size) observations.
type Estimator struct {
	theta    [2]float64    // [0] link-rate slope, [1] queuing delay (ms)
	thetaCov [2][2]float64 // Kalman state covariance P

	varNoise     float64
	avgFrameSize float64
	haveFrame    bool

	pendingNackCount int

	rttMs float64

	// estimateMs is the last computed estimate, readable without
	// taking any lock the caller might hold around Update/UpdateRTT.
	estimateMs int64 // atomic
}

// New returns an Estimator with its initial covariance and noise
// variance.
func New() *Estimator {
	e := &Estimator{varNoise: initialVarNoise}
	e.thetaCov[0][0] = 1e-4
	e.thetaCov[1][1] = 1e2
	return e
}

// Reset clears the filter to its initial state, following Reset()'s
// contract: invoked on flush and on decoder/ice reconfiguration.
func (e *Estimator) Reset() {
	e.theta = [2]float64{}
	e.thetaCov = [2][2]float64{}
	e.thetaCov[0][0] = 1e-4
	e.thetaCov[1][1] = 1e2
	e.varNoise = initialVarNoise
	e.avgFrameSize = 0
	e.haveFrame = false
	e.pendingNackCount = 0
	atomic.StoreInt64(&e.estimateMs, 0)
}

// ResetNackCount clears the pending per-frame NACK count without
// touching the filter state, for callers that want to discard a
// stale NACK tally without a full Reset.
func (e *Estimator) ResetNackCount() { e.pendingNackCount = 0 }

// FrameNacked records that the frame about to be Update'd was found on
// a NACK list, inflating the effective measurement noise for its
// sample.
func (e *Estimator) FrameNacked() { e.pendingNackCount++ }

// UpdateRTT records the current round-trip estimate in milliseconds,
// consumed by EstimateMs's rtt_multiplier term.
func (e *Estimator) UpdateRTT(rttMs float64) { e.rttMs = rttMs }

// Update feeds one (frame_delay, frame_size) sample to the filter. It
// must be called at most once per released frame. incomplete marks a
// frame that was released before ever becoming complete; the caller
// still supplies its best estimate of frame_delay/frame_size (a
// belated complete sample, if one later arrives via the
// waiting_for_completion side-band, is injected with its own Update
// call).
func (e *Estimator) Update(frameDelayMs float64, frameSizeBytes int, incomplete bool) {
	_ = incomplete // the filter treats incomplete samples exactly like complete ones

	size := float64(frameSizeBytes)
	if !e.haveFrame {
		e.avgFrameSize = size
		e.haveFrame = true
	}

	dFrameSize := size - e.avgFrameSize
	e.avgFrameSize = frameSizeDecay*e.avgFrameSize + (1-frameSizeDecay)*size

	h0, h1 := dFrameSize, 1.0

	zhat := e.theta[0]*h0 + e.theta[1]*h1
	residual := frameDelayMs - zhat

	effectiveNoise := e.varNoise * (1 + nackPenaltyPerCount*float64(e.pendingNackCount))
	e.pendingNackCount = 0

	p := e.thetaCov
	m0 := p[0][0]*h0 + p[0][1]*h1
	m1 := p[1][0]*h0 + p[1][1]*h1

	denom := h0*m0 + h1*m1 + effectiveNoise
	if denom <= 0 {
		denom = effectiveNoise
	}
	k0 := m0 / denom
	k1 := m1 / denom

	e.theta[0] += k0 * residual
	e.theta[1] += k1 * residual

	newP00 := p[0][0] - k0*(h0*p[0][0]+h1*p[1][0])
	newP01 := p[0][1] - k0*(h0*p[0][1]+h1*p[1][1])
	newP10 := p[1][0] - k1*(h0*p[0][0]+h1*p[1][0])
	newP11 := p[1][1] - k1*(h0*p[0][1]+h1*p[1][1])

	e.thetaCov[0][0] = newP00 + processNoiseSlope
	e.thetaCov[0][1] = newP01
	e.thetaCov[1][0] = newP10
	e.thetaCov[1][1] = newP11 + processNoiseDelay

	e.varNoise = noiseVarianceDecay*e.varNoise + (1-noiseVarianceDecay)*residual*residual

	atomic.StoreInt64(&e.estimateMs, int64(math.Max(0, e.theta[1])))
}

// EstimateMs returns jitter_ms = Kalman-derived queuing delay plus
// rttMultiplier*rtt_ms, clamped to zero.  rttMultiplier is 0 when FEC
// is expected to cover loss, 1 otherwise (the jitterbuffer package
// decides which). This is safe to call concurrently with Update.
func (e *Estimator) EstimateMs(rttMultiplier float64) int64 {
	delay := float64(atomic.LoadInt64(&e.estimateMs))
	jitter := delay + rttMultiplier*e.rttMs
	if jitter < 0 {
		jitter = 0
	}
	return int64(jitter)
}
