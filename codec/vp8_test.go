package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vjbuf/jitterbuffer/packet"
)

func TestDeriveVP8SinglePacketKeyFrame(t *testing.T) {
	// X=0 R=0 N=0 S=1 PID=0, then a payload whose P bit (bit 0) is
	// clear, marking a key frame.
	payload := []byte{0x10, 0x00}
	h, err := deriveVP8(true, payload)
	require.NoError(t, err)
	require.Equal(t, uint8(0), h.CodecSpecific.PartitionID)
	require.True(t, h.CodecSpecific.BeginningOfPartition)
	require.True(t, h.Keyframe)
	require.Equal(t, packet.Complete, h.NaluCompleteness)
}

func TestDeriveVP8StartFragmentOfDeltaFrame(t *testing.T) {
	payload := []byte{0x10, 0x01} // P bit set: not a key frame
	h, err := deriveVP8(false, payload)
	require.NoError(t, err)
	require.True(t, h.CodecSpecific.BeginningOfPartition)
	require.False(t, h.Keyframe)
	require.Equal(t, packet.Start, h.NaluCompleteness)
}

func TestDeriveVP8ContinuationFragment(t *testing.T) {
	// S=0: not the start of a partition, so never classified as a key
	// frame regardless of the payload's P bit.
	payload := []byte{0x00, 0xaa}
	h, err := deriveVP8(false, payload)
	require.NoError(t, err)
	require.False(t, h.CodecSpecific.BeginningOfPartition)
	require.False(t, h.Keyframe)
	require.Equal(t, packet.Incomplete, h.NaluCompleteness)
}

func TestDeriveVP8EndFragment(t *testing.T) {
	payload := []byte{0x00, 0xaa}
	h, err := deriveVP8(true, payload)
	require.NoError(t, err)
	require.Equal(t, packet.End, h.NaluCompleteness)
}

func TestDeriveVP8ExtendedPictureID(t *testing.T) {
	// X=1 S=1 PID=0, I=1 (two-byte picture id, M set), picture id 57.
	payload := []byte{0x90, 0x80, 0x80, 57, 0x00}
	h, err := deriveVP8(true, payload)
	require.NoError(t, err)
	require.Equal(t, uint16(57), h.CodecSpecific.PictureID)
	require.True(t, h.Keyframe)
}

func TestDeriveVP8Truncated(t *testing.T) {
	_, err := deriveVP8(false, nil)
	require.Error(t, err)
}
