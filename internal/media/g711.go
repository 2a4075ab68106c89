// Package media implements the in-call RTP audio path: G.711 framing on a
// 20 ms cadence, incoming audio playback, and RFC 4733 DTMF detection.
package media

import (
	"time"

	"github.com/zaf/g711"
)

// Audio timing constants. G.711 runs at 8 kHz with 20 ms frames.
const (
	SampleRate      = 8000
	FrameDuration   = 20 * time.Millisecond
	SamplesPerFrame = 160
)

// SilenceByte returns the G.711 encoding of digital silence for the given
// payload type: 0xFF for µ-law, 0xD5 for A-law.
func SilenceByte(payloadType uint8) byte {
	if payloadType == 8 {
		return 0xD5
	}
	return 0xFF
}

// SilenceFrame returns one full frame of encoded silence.
func SilenceFrame(payloadType uint8) []byte {
	frame := make([]byte, SamplesPerFrame)
	b := SilenceByte(payloadType)
	for i := range frame {
		frame[i] = b
	}
	return frame
}

// EncodeG711 encodes signed 16-bit samples to G.711 for the given payload
// type (0 = PCMU, 8 = PCMA).
func EncodeG711(payloadType uint8, samples []int16) []byte {
	pcm := samplesToBytes(samples)
	if payloadType == 8 {
		return g711.EncodeAlaw(pcm)
	}
	return g711.EncodeUlaw(pcm)
}

// DecodeG711 decodes a G.711 payload to signed 16-bit samples.
func DecodeG711(payloadType uint8, payload []byte) []int16 {
	var pcm []byte
	if payloadType == 8 {
		pcm = g711.DecodeAlaw(payload)
	} else {
		pcm = g711.DecodeUlaw(payload)
	}
	return bytesToSamples(pcm)
}

// samplesToBytes converts int16 samples to 16-bit little-endian PCM.
func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// bytesToSamples converts 16-bit little-endian PCM to int16 samples.
func bytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}
