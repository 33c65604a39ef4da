// Package config holds the jitter buffer's tunable thresholds, loaded
// from a YAML file the way startup data tables are loaded elsewhere in
// this stack, with a Default that reproduces the tunables named in the
// external-interfaces contract.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the ambient set of tunables for one jitter buffer instance.
type Config struct {
	// StartFrames and MaxFrames bound the frame-slot pool; it grows
	// monotonically from StartFrames toward MaxFrames and never
	// shrinks while running.
	StartFrames int `yaml:"start-frames,omitempty"`
	MaxFrames   int `yaml:"max-frames,omitempty"`

	// MaxPacketsPerFrame bounds one session's packet-index array.
	MaxPacketsPerFrame int `yaml:"max-packets-per-frame,omitempty"`

	// MaxNackListSize bounds the jitter buffer's outstanding-NACK set.
	MaxNackListSize int `yaml:"max-nack-list-size,omitempty"`

	// MaxPacketAgeToNack is the largest seq-num distance, from the
	// latest received packet, a gap may have before it is dropped from
	// the NACK set instead of requested.
	MaxPacketAgeToNack int `yaml:"max-packet-age-to-nack,omitempty"`

	// MaxIncompleteTimeMs is how long a non-continuous complete frame
	// may block the queue before the decoding state is force-advanced
	// to the next key frame. 0 disables the escape hatch.
	MaxIncompleteTimeMs int `yaml:"max-incomplete-time-ms,omitempty"`

	// MaxConsecutiveOldFrames bounds how many queued frames in a row
	// may be dropped undecoded before a key frame is requested through
	// GetNackList; exceeding it does not flush the buffer.
	// MaxConsecutiveOldPackets bounds how many old packets in a row are
	// tolerated before GetFrame flushes and returns FlushIndicator.
	MaxConsecutiveOldFrames  int `yaml:"max-consecutive-old-frames,omitempty"`
	MaxConsecutiveOldPackets int `yaml:"max-consecutive-old-packets,omitempty"`

	// WaitingForCompletionTimeoutMs bounds how long the
	// belated-completion side-band will still accept a late sample.
	WaitingForCompletionTimeoutMs int `yaml:"waiting-for-completion-timeout-ms,omitempty"`

	// NackMaxRTTMs, IreqMaxRTTMs and MbRefreshMinKbps are the
	// loss-protection selector's RTT/bitrate gates.
	NackMaxRTTMs     int `yaml:"nack-max-rtt-ms,omitempty"`
	IreqMaxRTTMs     int `yaml:"ireq-max-rtt-ms,omitempty"`
	MbRefreshMinKbps int `yaml:"mb-refresh-min-kbps,omitempty"`

	// LossPrHistorySize and LossPrShortWinMs size the loss-protection
	// selector's loss-probability history.
	LossPrHistorySize int `yaml:"loss-pr-history-size,omitempty"`
	LossPrShortWinMs  int `yaml:"loss-pr-short-win-ms,omitempty"`

	// DefaultRTTMs seeds the RTT estimate before the first real
	// measurement arrives.
	DefaultRTTMs int `yaml:"default-rtt-ms,omitempty"`

	// HighRTTNackMs and LowRTTNackMs are the hybrid NACK mode's RTT
	// thresholds.
	HighRTTNackMs int `yaml:"high-rtt-nack-ms,omitempty"`
	LowRTTNackMs  int `yaml:"low-rtt-nack-ms,omitempty"`
}

// Default returns the tunables named in the external-interfaces
// contract.
func Default() Config {
	return Config{
		StartFrames:                   16,
		MaxFrames:                     256,
		MaxPacketsPerFrame:            1024,
		MaxNackListSize:               250,
		MaxPacketAgeToNack:            450,
		MaxIncompleteTimeMs:           0,
		MaxConsecutiveOldFrames:       60,
		MaxConsecutiveOldPackets:      300,
		WaitingForCompletionTimeoutMs: 2000,
		NackMaxRTTMs:                  200,
		IreqMaxRTTMs:                  150,
		MbRefreshMinKbps:              150,
		LossPrHistorySize:             30,
		LossPrShortWinMs:              1000,
		DefaultRTTMs:                  200,
		HighRTTNackMs:                 100,
		LowRTTNackMs:                  20,
	}
}

// Load reads a YAML config file on top of Default: any field the file
// omits keeps Default's value, and a field the file sets, even to zero,
// takes the file's value.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}
