package sip

import "fmt"

// EventType identifies the engine events delivered on the client's
// event channel.
type EventType int

const (
	// EventRegistered fires after a successful REGISTER round trip
	EventRegistered EventType = iota
	// EventRegisterFailed fires when registration is rejected or times out
	EventRegisterFailed
	// EventRingTick fires once per second while an outbound ring is active
	EventRingTick
	// EventCallStarted fires when a call is established (ACK exchanged)
	EventCallStarted
	// EventCallEnded fires when a call or ring attempt terminates
	EventCallEnded
	// EventDTMF fires for each detected DTMF key press during a call
	EventDTMF
)

// String returns the string representation of the event type
func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "Registered"
	case EventRegisterFailed:
		return "RegisterFailed"
	case EventRingTick:
		return "RingTick"
	case EventCallStarted:
		return "CallStarted"
	case EventCallEnded:
		return "CallEnded"
	case EventDTMF:
		return "DTMF"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Event is a single engine notification.
type Event struct {
	Type   EventType
	Digit  rune   // Set for EventDTMF
	Detail string // Free-form context (status line, end reason)
}

// eventBufferSize bounds the event channel. A stalled consumer loses the
// oldest events rather than blocking the signaling path.
const eventBufferSize = 16

// publish delivers an event without ever blocking the caller.
func (c *Client) publish(evt Event) {
	for {
		select {
		case c.events <- evt:
			return
		default:
			// Channel full: drop the oldest event and retry
			select {
			case <-c.events:
			default:
			}
		}
	}
}
