package sip

import "fmt"

// CallState represents the lifecycle state of a call leg
type CallState int

const (
	// StateIdle means no call activity
	StateIdle CallState = iota
	// StateInviting is after INVITE was sent, before any response
	StateInviting
	// StateRinging is after a provisional response (180/183) arrived
	StateRinging
	// StateCancelling is after CANCEL was sent, awaiting 487
	StateCancelling
	// StateWaitingACK is the 200 OK stage: sent and awaiting the ACK on
	// an inbound call, received and being acknowledged on an outbound one
	StateWaitingACK
	// StateActive is a fully established call
	StateActive
	// StateTerminated is the final state after the call leg ends
	StateTerminated
)

// String returns the string representation of the state
func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInviting:
		return "Inviting"
	case StateRinging:
		return "Ringing"
	case StateCancelling:
		return "Cancelling"
	case StateWaitingACK:
		return "WaitingACK"
	case StateActive:
		return "Active"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// validTransitions defines which state transitions are allowed
var validTransitions = map[CallState][]CallState{
	StateIdle:       {StateInviting, StateWaitingACK},
	StateInviting:   {StateRinging, StateActive, StateTerminated},
	StateRinging:    {StateCancelling, StateActive, StateTerminated},
	StateCancelling: {StateTerminated},
	StateWaitingACK: {StateActive, StateTerminated},
	StateActive:     {StateTerminated},
	StateTerminated: {},
}

// CanTransitionTo checks if a transition from current state to next is valid
func (s CallState) CanTransitionTo(next CallState) bool {
	for _, state := range validTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s CallState) IsTerminal() bool {
	return s == StateTerminated
}

// EndReason explains why a call leg terminated
type EndReason int

const (
	// ReasonLocalBye means we sent the BYE
	ReasonLocalBye EndReason = iota
	// ReasonRemoteBye means the peer sent BYE
	ReasonRemoteBye
	// ReasonCancelled means the ring was cancelled before answer
	ReasonCancelled
	// ReasonTimeout means nobody answered within the ring window
	ReasonTimeout
	// ReasonRejected means the peer sent a failure response
	ReasonRejected
	// ReasonError means a local error ended the call
	ReasonError
)

// String returns the string representation of the end reason
func (r EndReason) String() string {
	switch r {
	case ReasonLocalBye:
		return "LocalBye"
	case ReasonRemoteBye:
		return "RemoteBye"
	case ReasonCancelled:
		return "Cancelled"
	case ReasonTimeout:
		return "Timeout"
	case ReasonRejected:
		return "Rejected"
	case ReasonError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}
