package rtsp

import "fmt"

// RFC 2435 parameters. The quantization factor is fixed because the
// camera emits a constant quality setting.
const (
	jpegQuality    = 80
	jpegClockRate  = 90000
	maxRTPPayload  = 1200 - 8 // MTU headroom minus the JPEG payload header
	jpegHeaderSize = 8
)

// JPEGFrame is the result of dissecting a camera JPEG: the image geometry,
// the RFC 2435 type derived from the chroma subsampling, and the
// entropy-coded scan data that actually goes on the wire.
type JPEGFrame struct {
	Width  int
	Height int
	Type   byte   // 0 = 4:2:0, 1 = 4:2:2
	Scan   []byte // Entropy data, EOI excluded
}

// ParseJPEG walks the marker structure of a baseline JPEG and extracts
// what the packetizer needs. Only SOF0 images with 4:2:0 or 4:2:2 luma
// sampling are streamable.
func ParseJPEG(data []byte) (*JPEGFrame, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("missing SOI marker")
	}

	frame := &JPEGFrame{}
	i := 2
	for i+1 < len(data) {
		if data[i] != 0xFF {
			return nil, fmt.Errorf("expected marker at offset %d", i)
		}
		marker := data[i+1]
		i += 2

		switch {
		case marker == 0xD8 || marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			// Standalone markers, no length field
			continue
		case marker == 0xD9:
			return nil, fmt.Errorf("EOI before scan data")
		}

		if i+1 >= len(data) {
			return nil, fmt.Errorf("truncated segment at offset %d", i)
		}
		segLen := int(data[i])<<8 | int(data[i+1])
		if segLen < 2 || i+segLen > len(data) {
			return nil, fmt.Errorf("bad segment length %d at offset %d", segLen, i)
		}

		switch marker {
		case 0xC0: // SOF0, baseline
			if segLen < 11 {
				return nil, fmt.Errorf("short SOF0 segment")
			}
			frame.Height = int(data[i+3])<<8 | int(data[i+4])
			frame.Width = int(data[i+5])<<8 | int(data[i+6])
			// First component is luma; its sampling factors pick the
			// RFC 2435 type. Layout: Ncomp at i+7, then id/sampling/qtab
			// per component.
			switch data[i+9] {
			case 0x22:
				frame.Type = 0 // 4:2:0
			case 0x21:
				frame.Type = 1 // 4:2:2
			default:
				return nil, fmt.Errorf("unsupported luma sampling 0x%02x", data[i+9])
			}
			i += segLen

		case 0xC2:
			return nil, fmt.Errorf("progressive JPEG not streamable")

		case 0xDA: // SOS: scan data follows the segment
			i += segLen
			scan, err := scanDataEnd(data, i)
			if err != nil {
				return nil, err
			}
			frame.Scan = data[i:scan]
			if frame.Width == 0 || frame.Height == 0 {
				return nil, fmt.Errorf("scan data before SOF0")
			}
			return frame, nil

		default:
			i += segLen
		}
	}

	return nil, fmt.Errorf("no scan data found")
}

// scanDataEnd finds the end of the entropy-coded data: the first marker
// that is neither a stuffed 0xFF00 nor a restart marker.
func scanDataEnd(data []byte, start int) (int, error) {
	for i := start; i+1 < len(data); i++ {
		if data[i] != 0xFF {
			continue
		}
		next := data[i+1]
		if next == 0x00 || (next >= 0xD0 && next <= 0xD7) {
			i++ // Stuffed byte or RST, part of the scan
			continue
		}
		return i, nil
	}
	return 0, fmt.Errorf("unterminated scan data")
}

// PacketizeJPEG splits a frame's scan data into RFC 2435 payloads. Each
// payload carries the 8-byte JPEG header with the running fragment offset;
// the sender sets the RTP marker on the final fragment.
func PacketizeJPEG(frame *JPEGFrame) [][]byte {
	var payloads [][]byte
	offset := 0
	for offset < len(frame.Scan) {
		chunk := len(frame.Scan) - offset
		if chunk > maxRTPPayload {
			chunk = maxRTPPayload
		}

		payload := make([]byte, jpegHeaderSize+chunk)
		payload[0] = 0 // Type-specific
		payload[1] = byte(offset >> 16)
		payload[2] = byte(offset >> 8)
		payload[3] = byte(offset)
		payload[4] = frame.Type
		payload[5] = jpegQuality
		payload[6] = byte(frame.Width / 8)
		payload[7] = byte(frame.Height / 8)
		copy(payload[jpegHeaderSize:], frame.Scan[offset:offset+chunk])

		payloads = append(payloads, payload)
		offset += chunk
	}
	return payloads
}
