package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesExternalInterfaceTunables(t *testing.T) {
	c := Default()
	require.GreaterOrEqual(t, c.MaxFrames, 256)
	require.GreaterOrEqual(t, c.MaxPacketsPerFrame, 1024)
	require.Equal(t, 60, c.MaxConsecutiveOldFrames)
	require.Equal(t, 300, c.MaxConsecutiveOldPackets)
	require.Equal(t, 2000, c.WaitingForCompletionTimeoutMs)
	require.Equal(t, 200, c.NackMaxRTTMs)
	require.Equal(t, 150, c.IreqMaxRTTMs)
	require.Equal(t, 150, c.MbRefreshMinKbps)
	require.Equal(t, 30, c.LossPrHistorySize)
	require.Equal(t, 1000, c.LossPrShortWinMs)
	require.Equal(t, 200, c.DefaultRTTMs)
}

func TestLoadOverridesOnlyProvidedFields(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "jitterbuffer.yaml")
	err := os.WriteFile(p, []byte("max-frames: 512\nnack-max-rtt-ms: 300\n"), 0o644)
	require.NoError(t, err)

	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, 512, c.MaxFrames)
	require.Equal(t, 300, c.NackMaxRTTMs)
	// untouched fields keep their default.
	require.Equal(t, 150, c.IreqMaxRTTMs)
	require.Equal(t, 60, c.MaxConsecutiveOldFrames)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
