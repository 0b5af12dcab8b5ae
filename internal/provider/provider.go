// Package provider defines the contract every telephony backend implements.
package provider

import (
	"context"

	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
	"clinic-phone/internal/events"
)

// InitOptions carry the identity and the signaling server a backend binds to.
type InitOptions struct {
	Identity    string
	Server      string
	DisplayName string
	Devices     settings.DeviceSelection
}

// CallOptions tag an outbound call.
type CallOptions struct {
	DisplayName string
	Association call.Association
}

type DeviceKind string

const (
	DeviceInput  DeviceKind = "audioinput"
	DeviceOutput DeviceKind = "audiooutput"
	DeviceRinger DeviceKind = "ringer"
)

type Device struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

// DeviceList is the set of devices a backend exposes plus the current selection.
type DeviceList struct {
	Inputs   []Device                 `json:"inputs"`
	Outputs  []Device                 `json:"outputs"`
	Ringers  []Device                 `json:"ringers"`
	Selected settings.DeviceSelection `json:"selected"`
}

// Status is a point in time view of the backend.
type Status struct {
	Initialized  bool                   `json:"initialized"`
	Registration call.RegistrationState `json:"registration"`
	Identity     string                 `json:"identity"`
	ActiveCalls  int                    `json:"active_calls"`
}

// Provider is the sole integration point for a signaling/media backend.
// Invalid state changing operations reject with a typed error from pkg/errors.
type Provider interface {
	Init(ctx context.Context, opts InitOptions) error
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
	Call(ctx context.Context, target string, opts CallOptions) (string, error)
	Answer(ctx context.Context, callID string) error
	Hangup(ctx context.Context, callID string) error
	Hold(ctx context.Context, callID string, on bool) error
	Mute(ctx context.Context, callID string, on bool) error
	Transfer(ctx context.Context, callID, target string, warm bool) error
	SendDTMF(ctx context.Context, callID, digits string) error
	SetDevices(ctx context.Context, selection settings.DeviceSelection) error
	GetDevices(ctx context.Context) (DeviceList, error)
	Status() Status
	// On registers h for every event the backend emits and returns its remover.
	On(h events.Handler) (unsubscribe func())
	Destroy(ctx context.Context) error
}

// MicrophoneAuthorizer is implemented by backends that can ask for microphone access.
type MicrophoneAuthorizer interface {
	RequestMicrophone(ctx context.Context) (settings.PermissionState, error)
}

// Factory builds a fresh, uninitialized backend.
type Factory func() Provider
