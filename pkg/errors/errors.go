package phone_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNotInitialized     = errors.New("provider not initialized")
	ErrProviderClosed     = errors.New("provider destroyed")
	ErrNoLastNumber       = errors.New("no number to redial")
)

// Code classifies provider failures.
type Code string

const (
	CodeNetworkError       Code = "NETWORK_ERROR"
	CodeNotInitialized     Code = "NOT_INITIALIZED"
	CodeRegistrationFailed Code = "REGISTRATION_FAILED"
	CodeNotRegistered      Code = "NOT_REGISTERED"
	CodeCallNotFound       Code = "CALL_NOT_FOUND"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeInvalidTarget      Code = "INVALID_TARGET"
	CodeInvalidDigits      Code = "INVALID_DIGITS"
	CodeDeviceNotFound     Code = "DEVICE_NOT_FOUND"
)

// Code sentinels, matched by errors.Is against the typed errors below.
var (
	ErrNetwork            = errors.New("network error")
	ErrRegistrationFailed = errors.New("registration failed")
	ErrNotRegistered      = errors.New("not registered")
	ErrCallNotFound       = errors.New("call not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidTarget      = errors.New("invalid target")
	ErrInvalidDigits      = errors.New("invalid dtmf digits")
	ErrDeviceNotFound     = errors.New("device not found")
)

var codeSentinels = map[Code]error{
	CodeNetworkError:       ErrNetwork,
	CodeNotInitialized:     ErrNotInitialized,
	CodeRegistrationFailed: ErrRegistrationFailed,
	CodeNotRegistered:      ErrNotRegistered,
	CodeCallNotFound:       ErrCallNotFound,
	CodeInvalidState:       ErrInvalidState,
	CodeInvalidTarget:      ErrInvalidTarget,
	CodeInvalidDigits:      ErrInvalidDigits,
	CodeDeviceNotFound:     ErrDeviceNotFound,
}

func matchesCode(code Code, target error) bool {
	sentinel, ok := codeSentinels[code]
	return ok && sentinel == target
}

// RegistrationError reports a register/unregister failure.
type RegistrationError struct {
	Code    Code
	Message string
	Err     error
}

func NewRegistrationError(code Code, message string) *RegistrationError {
	return &RegistrationError{Code: code, Message: message}
}

func (e *RegistrationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registration error (%s)", e.Code)
	}
	return fmt.Sprintf("registration error (%s): %s", e.Code, e.Message)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

func (e *RegistrationError) Is(target error) bool { return matchesCode(e.Code, target) }

// CallError reports a per-call operation failure.
type CallError struct {
	CallID  string
	Code    Code
	Message string
}

func NewCallError(callID string, code Code, format string, args ...any) *CallError {
	return &CallError{CallID: callID, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *CallError) Error() string {
	if e.CallID == "" {
		return fmt.Sprintf("call error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("call %s error (%s): %s", e.CallID, e.Code, e.Message)
}

func (e *CallError) Is(target error) bool { return matchesCode(e.Code, target) }

// DeviceError reports a device selection failure.
type DeviceError struct {
	DeviceID string
	Code     Code
}

func NewDeviceError(deviceID string, code Code) *DeviceError {
	return &DeviceError{DeviceID: deviceID, Code: code}
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error (%s): %q", e.Code, e.DeviceID)
}

func (e *DeviceError) Is(target error) bool { return matchesCode(e.Code, target) }

// CodeOf extracts the taxonomy code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var regErr *RegistrationError
	if errors.As(err, &regErr) {
		return regErr.Code, true
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Code, true
	}
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code, true
	}
	return "", false
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
