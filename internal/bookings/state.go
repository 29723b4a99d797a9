package bookings

import "fmt"

// State is a booking lifecycle state.
type State string

const (
	StateInitiated   State = "INITIATED"
	StateAwaitingOTP State = "AWAITING_OTP"
	StateConfirmed   State = "CONFIRMED"
	StateCheckedIn   State = "CHECKED_IN"
	StateCancelled   State = "CANCELLED"
	StateExpired     State = "EXPIRED"
)

// AllStates lists every lifecycle state in table order.
var AllStates = []State{
	StateInitiated,
	StateAwaitingOTP,
	StateConfirmed,
	StateCheckedIn,
	StateCancelled,
	StateExpired,
}

// transitions is the only place lifecycle moves are defined.
var transitions = map[State][]State{
	StateInitiated:   {StateAwaitingOTP, StateCancelled},
	StateAwaitingOTP: {StateConfirmed, StateExpired, StateCancelled},
	StateConfirmed:   {StateCheckedIn, StateCancelled},
	StateCheckedIn:   {},
	StateCancelled:   {},
	StateExpired:     {},
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from → to is in the lifecycle table.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalState reports whether s has no outgoing transitions.
func IsTerminalState(s State) bool {
	allowed, ok := transitions[s]
	return !ok || len(allowed) == 0
}

// ParseState converts a string to a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("bookings: unknown state %q", raw)
	}
	return s, nil
}

func (s State) String() string { return string(s) }
