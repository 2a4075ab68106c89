package media

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DTMFEvent is an RFC 4733 telephone-event payload.
// The payload format is 4 bytes:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     event     |E|R| volume    |          duration             |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type DTMFEvent struct {
	Event      uint8  // 0-15: 0-9, *, #, A-D
	EndOfEvent bool   // E bit: marks final packet of event
	Volume     uint8  // 0-63, expressed in dBm0
	Duration   uint16 // Duration in timestamp units
}

// DTMFDebounce is the window inside which a repeated end-of-event for the
// same digit is treated as a retransmission rather than a new press.
const DTMFDebounce = 250 * time.Millisecond

// DecodeDTMFEvent decodes an RFC 4733 4-byte payload.
func DecodeDTMFEvent(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, fmt.Errorf("DTMF payload too short: %d bytes", len(payload))
	}
	return DTMFEvent{
		Event:      payload[0],
		EndOfEvent: (payload[1] & 0x80) != 0,
		Volume:     payload[1] & 0x3F,
		Duration:   binary.BigEndian.Uint16(payload[2:]),
	}, nil
}

// EventToRune converts a DTMF event code to its character.
// Returns the character and true if valid, 0 and false otherwise.
func EventToRune(event uint8) (rune, bool) {
	switch {
	case event <= 9:
		return rune('0' + event), true
	case event == 10:
		return '*', true
	case event == 11:
		return '#', true
	case event >= 12 && event <= 15:
		return rune('A' + event - 12), true
	}
	return 0, false
}

// DTMFDetector turns a stream of telephone-event payloads into distinct
// digit presses. End-of-event retransmissions are standard, so a digit is
// only reported once per debounce window.
type DTMFDetector struct {
	lastEvent uint8
	lastEnd   time.Time
	haveLast  bool
}

// Feed processes one telephone-event payload and returns a digit when a
// new key press completed.
func (d *DTMFDetector) Feed(payload []byte, now time.Time) (rune, bool) {
	evt, err := DecodeDTMFEvent(payload)
	if err != nil {
		return 0, false
	}
	if !evt.EndOfEvent {
		return 0, false
	}

	if d.haveLast && evt.Event == d.lastEvent && now.Sub(d.lastEnd) < DTMFDebounce {
		// Retransmitted end packet for the same press
		d.lastEnd = now
		return 0, false
	}

	d.lastEvent = evt.Event
	d.lastEnd = now
	d.haveLast = true
	return EventToRune(evt.Event)
}

// Reset clears the detector state.
func (d *DTMFDetector) Reset() {
	d.haveLast = false
	d.lastEvent = 0
	d.lastEnd = time.Time{}
}
