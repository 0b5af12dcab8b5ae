package simulator

import "time"

// Timing holds every delay the simulator waits on.
// Inbound generation is disabled when InboundMax is zero.
type Timing struct {
	DialDelay      time.Duration
	RingMin        time.Duration
	RingMax        time.Duration
	AnswerDelay    time.Duration
	CallMin        time.Duration
	CallMax        time.Duration
	InboundMin     time.Duration
	InboundMax     time.Duration
	InboundTimeout time.Duration
	RegisterDelay  time.Duration
	TransferDelay  time.Duration
	CleanupGrace   time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		DialDelay:      500 * time.Millisecond,
		RingMin:        2 * time.Second,
		RingMax:        5 * time.Second,
		AnswerDelay:    300 * time.Millisecond,
		CallMin:        30 * time.Second,
		CallMax:        180 * time.Second,
		InboundMin:     30 * time.Second,
		InboundMax:     90 * time.Second,
		InboundTimeout: 30 * time.Second,
		RegisterDelay:  800 * time.Millisecond,
		TransferDelay:  2 * time.Second,
		CleanupGrace:   time.Second,
	}
}

// Odds are the outcome probabilities. Busy takes whatever Connected and NoAnswer leave.
type Odds struct {
	Connected           float64
	NoAnswer            float64
	RegistrationFailure float64
	// CallFault turns a connected outcome into an error event.
	CallFault float64
}

func DefaultOdds() Odds {
	return Odds{
		Connected:           0.70,
		NoAnswer:            0.15,
		RegistrationFailure: 0.10,
	}
}
