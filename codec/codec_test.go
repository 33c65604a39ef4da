package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vjbuf/jitterbuffer/packet"
)

func TestDeriveH264SimpleNALU(t *testing.T) {
	// NALU type 7 (SPS), forbidden_zero_bit=0, nal_ref_idc=3
	payload := []byte{0x67, 0x42, 0x00, 0x1f}
	h, err := deriveH264(true, payload)
	require.NoError(t, err)
	require.Equal(t, packet.Complete, h.NaluCompleteness)
	require.True(t, h.Keyframe)
	require.True(t, h.InsertStartCode)
}

func TestDeriveH264FUA(t *testing.T) {
	// FU-A indicator (type 28), start fragment of an IDR slice (type 5)
	fuHeader := byte(0x80 | 5)
	payload := []byte{0x7c, fuHeader, 0xaa, 0xbb}
	h, err := deriveH264(false, payload)
	require.NoError(t, err)
	require.Equal(t, packet.Start, h.NaluCompleteness)
	require.True(t, h.Keyframe)
	require.True(t, h.InsertStartCode)

	// continuation fragment: neither start nor end
	fuHeader2 := byte(5)
	payload2 := []byte{0x7c, fuHeader2, 0xcc}
	h2, err := deriveH264(false, payload2)
	require.NoError(t, err)
	require.Equal(t, packet.Incomplete, h2.NaluCompleteness)
	require.False(t, h2.InsertStartCode)

	// end fragment
	fuHeader3 := byte(0x40 | 5)
	payload3 := []byte{0x7c, fuHeader3, 0xdd}
	h3, err := deriveH264(true, payload3)
	require.NoError(t, err)
	require.Equal(t, packet.End, h3.NaluCompleteness)
}

func TestDeriveH264Truncated(t *testing.T) {
	_, err := deriveH264(false, nil)
	require.Error(t, err)
}

func TestDeriveLegacy(t *testing.T) {
	h, err := deriveLegacy(false, []byte{0x01, 0x02})
	require.NoError(t, err)
	require.True(t, h.ContinuationBits)
	require.Equal(t, packet.Incomplete, h.NaluCompleteness)

	h2, err := deriveLegacy(true, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, packet.End, h2.NaluCompleteness)
}

func TestFabricatedEmptyPacket(t *testing.T) {
	buf := FabricatedEmptyPacket()
	require.Len(t, buf, 10)
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}
