package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of an event on the Redis bus and the push channel.
type Envelope struct {
	EventType  EventType       `json:"event_type"`
	CallID     string          `json:"call_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(e Event, sessionID string) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s event: %w", e.Type(), err)
	}
	return Envelope{
		EventType:  e.Type(),
		CallID:     CallIDOf(e),
		SessionID:  sessionID,
		OccurredAt: e.OccurredAt(),
		Payload:    payload,
	}, nil
}

// Decode rebuilds the typed event carried by the envelope.
func (env Envelope) Decode() (Event, error) {
	var target Event
	switch env.EventType {
	case EventRegistered:
		target = &RegisteredEvent{}
	case EventUnregistered:
		target = &UnregisteredEvent{}
	case EventRegistrationError:
		target = &RegistrationErrorEvent{}
	case EventIncoming:
		target = &IncomingEvent{}
	case EventRinging:
		target = &RingingEvent{}
	case EventConnected:
		target = &ConnectedEvent{}
	case EventEnded:
		target = &EndedEvent{}
	case EventError:
		target = &ErrorEvent{}
	case EventRemoteAudio:
		target = &RemoteAudioEvent{}
	case EventHeld:
		target = &HeldEvent{}
	case EventTransferInitiated:
		target = &TransferInitiatedEvent{}
	case EventTransferCompleted:
		target = &TransferCompletedEvent{}
	case EventDTMFSent:
		target = &DTMFSentEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.EventType)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", env.EventType, err)
	}
	return target, nil
}
