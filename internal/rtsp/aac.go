package rtsp

import "fmt"

// RFC 3640 AAC-hbr parameters.
const (
	aacPayloadType  = 96
	aacFrameSamples = 1024
	aacSizeLength   = 13
)

// PacketizeAAC wraps one raw AAC frame in the RFC 3640 AU header section:
// a 16-bit AU-headers-length of 16 bits followed by one AU header holding
// the 13-bit frame size. Every packet carries a complete access unit, so
// the RTP marker is always set by the sender.
func PacketizeAAC(frame []byte) []byte {
	size := len(frame)
	payload := make([]byte, 4+size)
	payload[0] = 0x00
	payload[1] = 0x10 // AU-headers-length: one 16-bit header
	payload[2] = byte(size >> 5)
	payload[3] = byte(size << 3)
	copy(payload[4:], frame)
	return payload
}

// audioSpecificConfig computes the two-byte MPEG-4 AudioSpecificConfig for
// AAC-LC mono at the given sample rate, as carried in the fmtp config=
// parameter.
func audioSpecificConfig(rate int) (uint16, error) {
	idx, err := samplingFreqIndex(rate)
	if err != nil {
		return 0, err
	}
	// objectType=2 (AAC-LC), frequency index, channels=1
	return uint16(2)<<11 | uint16(idx)<<7 | uint16(1)<<3, nil
}

func samplingFreqIndex(rate int) (int, error) {
	rates := []int{96000, 88200, 64000, 48000, 44100, 32000,
		24000, 22050, 16000, 12000, 11025, 8000, 7350}
	for i, r := range rates {
		if r == rate {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no sampling frequency index for %d Hz", rate)
}

// aacRTPMap returns the rtpmap attribute value for the audio track.
func aacRTPMap(rate int) string {
	return fmt.Sprintf("%d MPEG4-GENERIC/%d/1", aacPayloadType, rate)
}

// aacFMTP returns the fmtp attribute value for the audio track.
func aacFMTP(rate int) (string, error) {
	asc, err := audioSpecificConfig(rate)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"%d profile-level-id=1;mode=AAC-hbr;config=%04X;SizeLength=%d;IndexLength=3;IndexDeltaLength=3",
		aacPayloadType, asc, aacSizeLength), nil
}
