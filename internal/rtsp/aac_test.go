package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketizeAAC(t *testing.T) {
	frame := make([]byte, 192)
	for i := range frame {
		frame[i] = byte(i)
	}

	payload := PacketizeAAC(frame)
	require.Len(t, payload, 4+192)

	// AU-headers-length: one 16-bit AU header
	require.Equal(t, byte(0x00), payload[0])
	require.Equal(t, byte(0x10), payload[1])

	// AU header: 13-bit size in the top bits
	auHeader := int(payload[2])<<8 | int(payload[3])
	require.Equal(t, 192, auHeader>>3)
	require.Equal(t, 0, auHeader&0x7) // AU-Index

	require.Equal(t, frame, payload[4:])
}

func TestPacketizeAACLargeFrame(t *testing.T) {
	// A 13-bit size field caps at 8191; typical AAC frames are far
	// below, but the header math must hold near the top too.
	frame := make([]byte, 1000)
	payload := PacketizeAAC(frame)
	auHeader := int(payload[2])<<8 | int(payload[3])
	require.Equal(t, 1000, auHeader>>3)
}

func TestAudioSpecificConfig(t *testing.T) {
	tests := []struct {
		rate int
		want uint16
	}{
		// AAC-LC (2), mono (1): 00010 ffff 0001 000
		{16000, 0x1408}, // freq index 8
		{8000, 0x1588},  // freq index 11
		{44100, 0x1208}, // freq index 4
	}
	for _, tt := range tests {
		got, err := audioSpecificConfig(tt.rate)
		require.NoError(t, err)
		require.Equalf(t, tt.want, got, "rate %d", tt.rate)
	}

	_, err := audioSpecificConfig(12345)
	require.Error(t, err)
}

func TestAACSDPAttributes(t *testing.T) {
	require.Equal(t, "96 MPEG4-GENERIC/16000/1", aacRTPMap(16000))

	fmtp, err := aacFMTP(16000)
	require.NoError(t, err)
	require.Contains(t, fmtp, "96 profile-level-id=1")
	require.Contains(t, fmtp, "mode=AAC-hbr")
	require.Contains(t, fmtp, "config=1408")
	require.Contains(t, fmtp, "SizeLength=13")
	require.Contains(t, fmtp, "IndexLength=3")
	require.Contains(t, fmtp, "IndexDeltaLength=3")
}
