package framedelay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const videoClockHz = 90000

func TestFirstSampleEstablishesBaseline(t *testing.T) {
	e := New(videoClockHz)
	_, ok := e.Update(1000, 90000)
	require.False(t, ok)
}

func TestPositiveDelayWhenFrameArrivesLate(t *testing.T) {
	e := New(videoClockHz)
	e.Update(1000, 90000)

	// 33ms of RTP time passed (90000Hz * 0.033s = 2970 ticks), but 50ms
	// of wallclock time passed: the frame is late by 17ms.
	delay, ok := e.Update(1050, 90000+2970)
	require.True(t, ok)
	require.Equal(t, int64(17), delay)
}

func TestNegativeDelayWhenFrameArrivesEarly(t *testing.T) {
	e := New(videoClockHz)
	e.Update(1000, 90000)

	delay, ok := e.Update(1020, 90000+2970)
	require.True(t, ok)
	require.Equal(t, int64(-13), delay)
}

func TestRepeatedTimestampRejected(t *testing.T) {
	e := New(videoClockHz)
	e.Update(1000, 90000)
	_, ok := e.Update(1010, 90000)
	require.False(t, ok)
}

func TestReorderedTimestampRejected(t *testing.T) {
	e := New(videoClockHz)
	e.Update(1000, 90000+2970)
	_, ok := e.Update(1010, 90000)
	require.False(t, ok)
}

func TestResetClearsBaseline(t *testing.T) {
	e := New(videoClockHz)
	e.Update(1000, 90000)
	e.Reset()
	_, ok := e.Update(2000, 180000)
	require.False(t, ok)
}
