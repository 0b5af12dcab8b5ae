package httpdto

import (
	"time"

	"clinic-phone/internal/domain/call"
)

// DialRequest is used for POST /v1/phone/calls
type DialRequest struct {
	Target      string           `json:"target" binding:"required"`
	DisplayName string           `json:"display_name,omitempty"`
	Association call.Association `json:"association"`
}

// HangupRequest is used for POST /v1/phone/calls/:id/hangup
type HangupRequest struct {
	Disposition call.Disposition `json:"disposition,omitempty"`
}

// ToggleRequest is used for hold and mute
type ToggleRequest struct {
	On *bool `json:"on" binding:"required"`
}

// TransferRequest is used for POST /v1/phone/calls/:id/transfer
type TransferRequest struct {
	Target string `json:"target" binding:"required"`
	Warm   *bool  `json:"warm,omitempty"`
}

// DTMFRequest is used for POST /v1/phone/calls/:id/dtmf
type DTMFRequest struct {
	Digits string `json:"digits" binding:"required"`
}

// DialBufferRequest is used for PUT /v1/phone/dial-buffer
type DialBufferRequest struct {
	Value string `json:"value"`
}

// SimulateIncomingRequest is used for POST /v1/phone/simulate/incoming
type SimulateIncomingRequest struct {
	Peer        string `json:"peer,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type CallIDResponse struct {
	CallID string `json:"call_id"`
}

type PermissionResponse struct {
	Microphone string `json:"microphone"`
}

type HealthResponse struct {
	Status       string    `json:"status"`
	Registration string    `json:"registration"`
	Initialized  bool      `json:"initialized"`
	ActiveCalls  int       `json:"active_calls"`
	Time         time.Time `json:"time"`
}
