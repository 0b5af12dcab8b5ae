package call

import "fmt"

// State of a call leg.
type State string

const (
	StateDialing      State = "DIALING"
	StateRingingOut   State = "RINGING_OUT"
	StateRingingIn    State = "RINGING_IN"
	StateConnecting   State = "CONNECTING"
	StateInCall       State = "IN_CALL"
	StateOnHold       State = "ON_HOLD"
	StateTransferring State = "TRANSFERRING"
	StateEnded        State = "ENDED"
	StateError        State = "ERROR"
)

var transitions = map[State][]State{
	StateDialing:      {StateRingingOut, StateEnded, StateError},
	StateRingingOut:   {StateInCall, StateEnded, StateError},
	StateRingingIn:    {StateConnecting, StateEnded, StateError},
	StateConnecting:   {StateInCall, StateEnded, StateError},
	StateInCall:       {StateOnHold, StateTransferring, StateEnded, StateError},
	StateOnHold:       {StateInCall, StateOnHold, StateEnded, StateError},
	StateTransferring: {StateEnded, StateError},
}

func (s State) Validate() error {
	switch s {
	case StateDialing, StateRingingOut, StateRingingIn, StateConnecting, StateInCall,
		StateOnHold, StateTransferring, StateEnded, StateError:
		return nil
	default:
		return fmt.Errorf("unsupported call state: %q", s)
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateError
}

// CanTransition reports whether next is reachable from s in one step.
func (s State) CanTransition(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func CanAnswer(s State) bool { return s == StateRingingIn }

func CanHold(s State) bool { return s == StateInCall || s == StateOnHold }

func CanMute(s State) bool { return s == StateInCall || s == StateOnHold }

func CanTransfer(s State) bool { return s == StateInCall }

func CanSendDTMF(s State) bool { return s == StateInCall }

// RegistrationState is the process wide signaling session state.
type RegistrationState string

const (
	RegistrationUnregistered RegistrationState = "UNREGISTERED"
	RegistrationRegistering  RegistrationState = "REGISTERING"
	RegistrationRegistered   RegistrationState = "REGISTERED"
	RegistrationFailed       RegistrationState = "ERROR"
)
