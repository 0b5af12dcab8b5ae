package events

import (
	"time"

	"clinic-phone/internal/domain/call"
)

// EventType discriminates backend events. The set is closed.
type EventType string

const (
	EventRegistered        EventType = "registered"
	EventUnregistered      EventType = "unregistered"
	EventRegistrationError EventType = "registration_error"
	EventIncoming          EventType = "incoming"
	EventRinging           EventType = "ringing"
	EventConnected         EventType = "connected"
	EventEnded             EventType = "ended"
	EventError             EventType = "error"
	EventRemoteAudio       EventType = "remote_audio"
	EventHeld              EventType = "held"
	EventTransferInitiated EventType = "transfer_initiated"
	EventTransferCompleted EventType = "transfer_completed"
	EventDTMFSent          EventType = "dtmf_sent"
)

// Event is implemented by every backend event shape.
type Event interface {
	Type() EventType
	OccurredAt() time.Time
}

// CallScoped is implemented by events that refer to a single call.
type CallScoped interface {
	Event
	CallRef() string
}

type BaseEvent struct {
	EventTypeVal EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e BaseEvent) Type() EventType       { return e.EventTypeVal }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

type CallBase struct {
	BaseEvent
	CallID string `json:"call_id"`
}

func (e CallBase) CallRef() string { return e.CallID }

func base(t EventType, at time.Time) BaseEvent {
	return BaseEvent{EventTypeVal: t, Timestamp: at}
}

func callBase(t EventType, at time.Time, callID string) CallBase {
	return CallBase{BaseEvent: base(t, at), CallID: callID}
}

type RegisteredEvent struct {
	BaseEvent
	Identity string `json:"identity"`
}

type UnregisteredEvent struct {
	BaseEvent
}

type RegistrationErrorEvent struct {
	BaseEvent
	Code    string `json:"code"`
	Message string `json:"message"`
}

type IncomingEvent struct {
	CallBase
	Peer        string `json:"peer"`
	DisplayName string `json:"display_name,omitempty"`
}

type RingingEvent struct {
	CallBase
}

type ConnectedEvent struct {
	CallBase
}

type EndedEvent struct {
	CallBase
	Disposition call.Disposition `json:"disposition"`
	Reason      string           `json:"reason,omitempty"`
}

// ErrorEvent is an unrecoverable backend fault on one call.
type ErrorEvent struct {
	CallBase
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MediaStream is an opaque handle the presentation layer attaches to a playback element.
type MediaStream struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

type RemoteAudioEvent struct {
	CallBase
	Stream MediaStream `json:"stream"`
}

type HeldEvent struct {
	CallBase
	OnHold bool `json:"on_hold"`
}

type TransferInitiatedEvent struct {
	CallBase
	Target string `json:"target"`
	Warm   bool   `json:"warm"`
}

type TransferCompletedEvent struct {
	CallBase
	Target string `json:"target"`
}

type DTMFSentEvent struct {
	CallBase
	Digits string `json:"digits"`
}

func NewRegistered(at time.Time, identity string) *RegisteredEvent {
	return &RegisteredEvent{BaseEvent: base(EventRegistered, at), Identity: identity}
}

func NewUnregistered(at time.Time) *UnregisteredEvent {
	return &UnregisteredEvent{BaseEvent: base(EventUnregistered, at)}
}

func NewRegistrationError(at time.Time, code, message string) *RegistrationErrorEvent {
	return &RegistrationErrorEvent{BaseEvent: base(EventRegistrationError, at), Code: code, Message: message}
}

func NewIncoming(at time.Time, callID, peer, displayName string) *IncomingEvent {
	return &IncomingEvent{CallBase: callBase(EventIncoming, at, callID), Peer: peer, DisplayName: displayName}
}

func NewRinging(at time.Time, callID string) *RingingEvent {
	return &RingingEvent{CallBase: callBase(EventRinging, at, callID)}
}

func NewConnected(at time.Time, callID string) *ConnectedEvent {
	return &ConnectedEvent{CallBase: callBase(EventConnected, at, callID)}
}

func NewEnded(at time.Time, callID string, disposition call.Disposition, reason string) *EndedEvent {
	return &EndedEvent{CallBase: callBase(EventEnded, at, callID), Disposition: disposition, Reason: reason}
}

func NewError(at time.Time, callID, code, message string) *ErrorEvent {
	return &ErrorEvent{CallBase: callBase(EventError, at, callID), Code: code, Message: message}
}

func NewRemoteAudio(at time.Time, callID string, stream MediaStream) *RemoteAudioEvent {
	return &RemoteAudioEvent{CallBase: callBase(EventRemoteAudio, at, callID), Stream: stream}
}

func NewHeld(at time.Time, callID string, onHold bool) *HeldEvent {
	return &HeldEvent{CallBase: callBase(EventHeld, at, callID), OnHold: onHold}
}

func NewTransferInitiated(at time.Time, callID, target string, warm bool) *TransferInitiatedEvent {
	return &TransferInitiatedEvent{CallBase: callBase(EventTransferInitiated, at, callID), Target: target, Warm: warm}
}

func NewTransferCompleted(at time.Time, callID, target string) *TransferCompletedEvent {
	return &TransferCompletedEvent{CallBase: callBase(EventTransferCompleted, at, callID), Target: target}
}

func NewDTMFSent(at time.Time, callID, digits string) *DTMFSentEvent {
	return &DTMFSentEvent{CallBase: callBase(EventDTMFSent, at, callID), Digits: digits}
}

// CallIDOf returns the call id an event refers to, or "" for registration events.
func CallIDOf(e Event) string {
	if scoped, ok := e.(CallScoped); ok {
		return scoped.CallRef()
	}
	return ""
}
