// Package lossprotection implements the loss-protection selector (C9):
// a set of protection methods (NACK, FEC, hybrid NACK+FEC, intra
// request, periodic intra refresh, macroblock refresh, none) scored
// against the same RTT/loss/bitrate inputs, and a selector that picks
// the best-scoring recommended method.
package lossprotection

import "math"

// Method names a protection policy, mirroring VCMProtectionMethodEnum.
type Method int

const (
	NACK Method = iota
	FEC
	NackFec
	IntraRequest
	PeriodicIntra
	MbRefresh
	None
)

func (m Method) String() string {
	switch m {
	case NACK:
		return "nack"
	case FEC:
		return "fec"
	case NackFec:
		return "nack-fec"
	case IntraRequest:
		return "intra-request"
	case PeriodicIntra:
		return "periodic-intra"
	case MbRefresh:
		return "mb-refresh"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// Thresholds and defaults, named after media_opt_util.h's enums and
// VCMProtectionMethod's default fields.
const (
	NackMaxRTTMs        = 200
	IreqMaxRTTMs        = 150
	MbRefreshMinKbps    = 150
	defaultScaleProtKey = 2.0
	maxPayloadSize      = 1460

	// LossPrHistorySize and LossPrShortFilterWinMs size the loss-rate
	// history buffer: 30 samples at a 1000ms minimum spacing, giving a
	// 30 second window.
	LossPrHistorySize      = 30
	LossPrShortFilterWinMs = 1000
)

// Parameters is the input the selector scores every method against,
// mirroring VCMProtectionParameters.
type Parameters struct {
	RTTMs              uint32
	LossProbability    float64 // [0, 1]
	BitRateKbps        float64
	PacketsPerFrame    float64
	PacketsPerFrameKey float64
	FrameRate          float64
	KeyFrameSizeBytes  float64
	ResidualLoss       float64 // effective loss after FEC recovery, [0, 1]
}

// Outcome is one method's scored result for the current Parameters.
type Outcome struct {
	Method                Method
	Recommended           bool
	RequiredBitRateKbps   float64
	EffectiveLoss         float64 // [0, 1]
	ProtectionFactorKey   uint8   // [0, 255]
	ProtectionFactorDelta uint8   // [0, 255]
	Score                 float64 // loss reduction per required bit
}

// protectionMethod is the {update_parameters, required_bit_rate,
// effective_packet_loss, protection_factor_key, protection_factor_delta,
// score, efficiency} trait expressed as a Go interface implemented by
// one tagged variant per Method, replacing a class hierarchy with a
// flat switch.
type protectionMethod interface {
	kind() Method
	updateParameters(p Parameters) Outcome
}

var defaultMethods = []protectionMethod{
	nackMethod{},
	fecMethod{},
	nackFecMethod{},
	intraRequestMethod{},
	periodicIntraMethod{},
	mbRefreshMethod{},
	noneMethod{},
}

// nackMethod recommends NACK whenever RTT is low enough that a
// retransmission would likely arrive before the frame is needed.
type nackMethod struct{}

func (nackMethod) kind() Method { return NACK }

func (nackMethod) updateParameters(p Parameters) Outcome {
	recommended := p.RTTMs <= NackMaxRTTMs
	effLoss := p.LossProbability
	if recommended {
		// A retransmission within budget recovers the lost packet, so
		// the effective loss reported to the encoder trends toward
		// zero the more RTT budget is available relative to the cap.
		margin := 1.0 - float64(p.RTTMs)/float64(NackMaxRTTMs)
		effLoss = p.LossProbability * (1.0 - margin)
	}
	score := 0.0
	if recommended && p.LossProbability > 0 {
		score = (p.LossProbability - effLoss) / 1.0 // required bit rate is 0
	}
	return Outcome{
		Method:              NACK,
		Recommended:         recommended,
		RequiredBitRateKbps: 0,
		EffectiveLoss:       effLoss,
		Score:               score,
	}
}

// fecMethod always applies, scaling its protection factor against the
// reported loss curve with a key-frame boost.
type fecMethod struct{}

func (fecMethod) kind() Method { return FEC }

func (fecMethod) updateParameters(p Parameters) Outcome {
	factorDelta := protectionFactorFromLoss(p.LossProbability)
	factorKey := boostCodeRateKey(factorDelta, p.PacketsPerFrame, p.PacketsPerFrameKey)

	required := p.BitRateKbps * (1.0 + float64(factorDelta)/255.0)
	residual := avgResidualAfterFEC(p.LossProbability, factorDelta)

	score := 0.0
	reduction := p.LossProbability - residual
	extraRate := required - p.BitRateKbps
	if extraRate > 0 {
		score = reduction / extraRate
	}

	return Outcome{
		Method:                FEC,
		Recommended:           true,
		RequiredBitRateKbps:   required,
		EffectiveLoss:         residual,
		ProtectionFactorKey:   factorKey,
		ProtectionFactorDelta: factorDelta,
		Score:                 score,
	}
}

// nackFecMethod combines partial FEC coverage (a lighter protection
// factor) with NACK for the remainder, recommended under the same RTT
// condition as plain NACK.
type nackFecMethod struct{}

func (nackFecMethod) kind() Method { return NackFec }

func (nackFecMethod) updateParameters(p Parameters) Outcome {
	recommended := p.RTTMs <= NackMaxRTTMs

	// Halve the FEC coverage relative to the pure-FEC method: NACK
	// picks up what FEC leaves behind.
	factorDelta := protectionFactorFromLoss(p.LossProbability / 2)
	factorKey := boostCodeRateKey(factorDelta, p.PacketsPerFrame, p.PacketsPerFrameKey)
	fecRequired := p.BitRateKbps * (1.0 + float64(factorDelta)/255.0)
	residual := avgResidualAfterFEC(p.LossProbability, factorDelta)

	score := 0.0
	if recommended {
		reduction := p.LossProbability - residual
		extraRate := fecRequired - p.BitRateKbps
		if extraRate > 0 {
			score = reduction / extraRate
		}
	}

	return Outcome{
		Method:                NackFec,
		Recommended:           recommended,
		RequiredBitRateKbps:   fecRequired,
		EffectiveLoss:         residual,
		ProtectionFactorKey:   factorKey,
		ProtectionFactorDelta: factorDelta,
		Score:                 score,
	}
}

// intraRequestMethod recommends asking for a fresh key frame when RTT
// is low enough that the request would land before the GOP ends,
// amortising the key frame's extra size over the inter-key interval.
type intraRequestMethod struct{}

func (intraRequestMethod) kind() Method { return IntraRequest }

func (intraRequestMethod) updateParameters(p Parameters) Outcome {
	recommended := p.RTTMs <= IreqMaxRTTMs
	required := 0.0
	if p.FrameRate > 0 && p.KeyFrameSizeBytes > 0 {
		// Amortise one whole key frame's size over a nominal 1-second
		// GOP, in kbps.
		required = p.KeyFrameSizeBytes * 8 / 1000
	}
	score := 0.0
	if recommended && required > 0 {
		score = p.LossProbability / required
	}
	return Outcome{
		Method:              IntraRequest,
		Recommended:         recommended,
		RequiredBitRateKbps: required,
		EffectiveLoss:       p.LossProbability,
		Score:               score,
	}
}

// periodicIntraMethod always applies at a fixed, small overhead.
type periodicIntraMethod struct{}

func (periodicIntraMethod) kind() Method { return PeriodicIntra }

func (periodicIntraMethod) updateParameters(p Parameters) Outcome {
	const overheadKbps = 5.0
	score := 0.0
	if p.LossProbability > 0 {
		score = p.LossProbability / overheadKbps
	}
	return Outcome{
		Method:              PeriodicIntra,
		Recommended:         true,
		RequiredBitRateKbps: overheadKbps,
		EffectiveLoss:       p.LossProbability,
		Score:               score,
	}
}

// mbRefreshMethod reuses the existing bit budget (no extra bit rate)
// once the channel can sustain it.
type mbRefreshMethod struct{}

func (mbRefreshMethod) kind() Method { return MbRefresh }

func (mbRefreshMethod) updateParameters(p Parameters) Outcome {
	recommended := p.BitRateKbps >= MbRefreshMinKbps
	score := 0.0
	if recommended && p.LossProbability > 0 {
		score = p.LossProbability
	}
	return Outcome{
		Method:              MbRefresh,
		Recommended:         recommended,
		RequiredBitRateKbps: 0,
		EffectiveLoss:       p.LossProbability,
		Score:               score,
	}
}

// noneMethod is the always-applicable, zero-cost fallback.
type noneMethod struct{}

func (noneMethod) kind() Method { return None }

func (noneMethod) updateParameters(p Parameters) Outcome {
	return Outcome{
		Method:              None,
		Recommended:         true,
		RequiredBitRateKbps: 0,
		EffectiveLoss:       p.LossProbability,
		Score:               0,
	}
}

// protectionFactorFromLoss maps a loss probability in [0, 1] to a
// protection factor in [0, 255]: the loss probability times 255,
// rounded and clamped.  Unlike VCMFecMethod::ProtectionFactor, it does
// not take the source packet count into account.
func protectionFactorFromLoss(lossProbability float64) uint8 {
	if lossProbability <= 0 {
		return 0
	}
	factor := lossProbability * 255.0
	if factor > 255 {
		factor = 255
	}
	return uint8(math.Round(factor))
}

// boostCodeRateKey applies VCMFecMethod::BoostCodeRateKey's key-frame
// multiplier: key frames get scaleProtKey times the delta frame's
// protection factor, since losing a key frame is more costly to
// recover from.
func boostCodeRateKey(deltaFactor uint8, packetsPerFrame, packetsPerFrameKey float64) uint8 {
	boosted := float64(deltaFactor) * defaultScaleProtKey
	if boosted > 255 {
		boosted = 255
	}
	return uint8(math.Round(boosted))
}

// avgResidualAfterFEC approximates VCMFecMethod::AvgRecoveryFEC's
// random-loss residual: the fraction of loss FEC cannot mask once its
// protection factor saturates, modeled as a quadratic falloff in the
// coverage ratio.
func avgResidualAfterFEC(lossProbability float64, factor uint8) float64 {
	coverage := float64(factor) / 255.0
	if coverage >= 1.0 {
		return 0
	}
	residual := lossProbability * (1.0 - coverage) * (1.0 - coverage)
	if residual < 0 {
		return 0
	}
	return residual
}

// lossSample is one entry in the selector's loss-probability history.
type lossSample struct {
	loss   float64
	timeMs int64
}

// Selector holds the loss-probability history and chooses the
// best-scoring method on each UpdateMethod call, following
// VCMLossProtectionLogic.
type Selector struct {
	methods []protectionMethod

	history      []lossSample
	current      lossSample
	haveCurrent  bool

	params Parameters

	selected Outcome
	haveAny  bool
}

// NewSelector returns a Selector with the default method set: NACK,
// FEC, NackFec, IntraRequest, PeriodicIntra, MbRefresh, None.
func NewSelector() *Selector {
	return &Selector{methods: defaultMethods}
}

// UpdateRTT records the current round-trip time estimate.
func (s *Selector) UpdateRTT(rttMs uint32) { s.params.RTTMs = rttMs }

// UpdateBitRate records the current target bit rate, in kbps.
func (s *Selector) UpdateBitRate(kbps float64) { s.params.BitRateKbps = kbps }

// UpdateFrameRate records the current target frame rate.
func (s *Selector) UpdateFrameRate(fps float64) { s.params.FrameRate = fps }

// UpdatePacketsPerFrame records the delta-frame packet count estimate.
func (s *Selector) UpdatePacketsPerFrame(n float64) { s.params.PacketsPerFrame = n }

// UpdatePacketsPerFrameKey records the key-frame packet count estimate.
func (s *Selector) UpdatePacketsPerFrameKey(n float64) { s.params.PacketsPerFrameKey = n }

// UpdateKeyFrameSize records the most recent key frame's size, in
// bytes.
func (s *Selector) UpdateKeyFrameSize(bytes float64) { s.params.KeyFrameSizeBytes = bytes }

// UpdateResidualPacketLoss records the loss remaining after FEC
// recovery, as reported back from the transport layer.
func (s *Selector) UpdateResidualPacketLoss(loss float64) { s.params.ResidualLoss = loss }

// UpdateLossProbability folds one loss-probability sample (in [0, 1])
// into the current LossPrShortFilterWinMs window, taking the max of
// every sample seen so far this window. When nowMs has advanced past
// the window, the just-closed window is pushed onto the history
// (capped at LossPrHistorySize entries) and a fresh window starts. The
// loss input fed to every method is always the current window's max,
// following VCMLossProtectionLogic's short-then-long history split.
func (s *Selector) UpdateLossProbability(loss float64, nowMs int64) {
	switch {
	case !s.haveCurrent:
		s.current = lossSample{loss: loss, timeMs: nowMs}
		s.haveCurrent = true
	case nowMs-s.current.timeMs < LossPrShortFilterWinMs:
		if loss > s.current.loss {
			s.current.loss = loss
		}
	default:
		s.history = append(s.history, s.current)
		if len(s.history) > LossPrHistorySize {
			s.history = s.history[len(s.history)-LossPrHistorySize:]
		}
		s.current = lossSample{loss: loss, timeMs: nowMs}
	}
	s.params.LossProbability = s.current.loss
}

// UpdateMethod scores every available method against the current
// parameters and selects the best-scoring recommended one; if none are
// recommended, it falls back to the best-scoring unrecommended method.
// It returns the selected Outcome and whether that method is actually
// recommended under these conditions.
func (s *Selector) UpdateMethod() (Outcome, bool) {
	var best, bestNotOK Outcome
	haveBest, haveBestNotOK := false, false

	for _, m := range s.methods {
		out := m.updateParameters(s.params)
		if out.Recommended {
			if !haveBest || out.Score > best.Score {
				best = out
				haveBest = true
			}
		} else {
			if !haveBestNotOK || out.Score > bestNotOK.Score {
				bestNotOK = out
				haveBestNotOK = true
			}
		}
	}

	if haveBest {
		s.selected = best
		s.haveAny = true
		return best, true
	}
	s.selected = bestNotOK
	s.haveAny = true
	return bestNotOK, false
}

// SelectedMethod returns the outcome of the most recent UpdateMethod
// call, if any.
func (s *Selector) SelectedMethod() (Outcome, bool) {
	return s.selected, s.haveAny
}

// FilteredLoss returns the current short-window maximum loss
// probability, in [0, 1].
func (s *Selector) FilteredLoss() float64 { return s.current.loss }

// Reset clears the selector's history and selection, keeping its
// method set.
func (s *Selector) Reset() {
	s.history = nil
	s.current = lossSample{}
	s.haveCurrent = false
	s.params = Parameters{}
	s.selected = Outcome{}
	s.haveAny = false
}
