package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"clinic-phone/internal/diagnostics"
	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
	"clinic-phone/internal/events"
	"clinic-phone/internal/provider"
	"clinic-phone/internal/store"
	phone_errors "clinic-phone/pkg/errors"

	"go.uber.org/zap"
)

// DialOptions tag an outbound call with clinic records.
type DialOptions struct {
	DisplayName string
	Association call.Association
}

// Capabilities are the live predicates for the presentation layer.
type Capabilities struct {
	Registered  bool `json:"registered"`
	CanCall     bool `json:"can_call"`
	CanAnswer   bool `json:"can_answer"`
	CanHold     bool `json:"can_hold"`
	CanTransfer bool `json:"can_transfer"`
}

// IncomingSimulator is implemented by backends that can fake an inbound call.
type IncomingSimulator interface {
	SimulateIncoming(peer, displayName string) (string, error)
}

// PhoneService binds the backend to the store and is the only component that
// touches both. Every action and event is mirrored to the diagnostic log.
type PhoneService struct {
	manager *ProviderManager
	store   *store.Store
	diag    *diagnostics.Log
	logger  *zap.Logger
	now     func() time.Time

	// apply serializes "backend op + store mutation" with event application,
	// so a call record always exists before its first event is applied.
	apply sync.Mutex

	subMu       sync.Mutex
	unsubscribe func()
	listeners   *events.Broadcaster
}

func NewPhoneService(manager *ProviderManager, st *store.Store, diag *diagnostics.Log, logger *zap.Logger) *PhoneService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PhoneService{
		manager:   manager,
		store:     st,
		diag:      diag,
		logger:    logger,
		now:       time.Now,
		listeners: events.NewBroadcaster(logger),
	}
	manager.OnReady(s.attach)
	return s
}

func (s *PhoneService) attach(p provider.Provider) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = p.On(s.handleEvent)
}

func (s *PhoneService) handleEvent(e events.Event) {
	s.diag.Record("event:"+string(e.Type()), eventPayload(e))

	s.apply.Lock()
	s.store.Apply(EventMutation(e))
	s.apply.Unlock()

	s.listeners.Publish(e)
}

// Events exposes backend events after they have been applied to the store.
func (s *PhoneService) Events() events.Subscriber {
	return s.listeners
}

func (s *PhoneService) Store() *store.Store { return s.store }

func (s *PhoneService) Diagnostics() *diagnostics.Log { return s.diag }

func (s *PhoneService) record(action string, payload map[string]any) {
	s.diag.Record("action:"+action, payload)
}

// fail records err against action and returns it unchanged.
func (s *PhoneService) fail(action string, err error, payload map[string]any) error {
	merged := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	if code, ok := phone_errors.CodeOf(err); ok {
		merged["code"] = string(code)
	}
	s.diag.RecordError("error:"+action, err, merged)
	s.logger.Warn("phone action failed", zap.String("action", action), zap.Error(err))
	return err
}

func (s *PhoneService) Register(ctx context.Context) error {
	s.record("register", nil)
	p, err := s.manager.Get(ctx)
	if err != nil {
		s.store.SetRegistration(call.RegistrationFailed, err.Error())
		return s.fail("register", err, nil)
	}
	if p.Status().Registration != call.RegistrationRegistered {
		s.store.SetRegistration(call.RegistrationRegistering, "")
	}
	if err := p.Register(ctx); err != nil {
		var regErr *phone_errors.RegistrationError
		if errors.As(err, &regErr) {
			s.store.SetRegistration(call.RegistrationFailed, regErr.Message)
		}
		return s.fail("register", err, nil)
	}
	s.store.SetRegistration(call.RegistrationRegistered, "")
	return nil
}

func (s *PhoneService) Unregister(ctx context.Context) error {
	s.record("unregister", nil)
	p, ok := s.manager.Current()
	if !ok {
		s.store.SetRegistration(call.RegistrationUnregistered, "")
		return nil
	}
	if err := p.Unregister(ctx); err != nil {
		return s.fail("unregister", err, nil)
	}
	s.store.SetRegistration(call.RegistrationUnregistered, "")
	return nil
}

// Dial places an outbound call. When auto-register is on and the line is not
// registered it makes exactly one registration attempt first.
func (s *PhoneService) Dial(ctx context.Context, target string, opts DialOptions) (call.Call, error) {
	target = strings.TrimSpace(target)
	payload := map[string]any{"target": target}
	if opts.Association.PatientID != "" {
		payload["patient_id"] = opts.Association.PatientID
	}
	if opts.Association.AppointmentID != "" {
		payload["appointment_id"] = opts.Association.AppointmentID
	}
	s.record("dial", payload)

	p, err := s.manager.Get(ctx)
	if err != nil {
		return call.Call{}, s.fail("dial", err, payload)
	}
	if !s.IsRegistered() && s.store.Settings().Behavior.AutoRegister {
		if err := s.Register(ctx); err != nil {
			s.logger.Info("auto-register before dial failed", zap.Error(err))
		}
	}

	s.apply.Lock()
	defer s.apply.Unlock()
	id, err := p.Call(ctx, target, provider.CallOptions{DisplayName: opts.DisplayName, Association: opts.Association})
	if err != nil {
		return call.Call{}, s.fail("dial", err, payload)
	}
	c := call.NewOutbound(id, target, s.now())
	c.DisplayName = opts.DisplayName
	c.Association = opts.Association
	s.store.Apply(func(tx *store.Tx) {
		tx.AddCall(c)
		tx.SetActiveCall(id)
		tx.SetLastDialed(target)
		tx.SetDialBuffer("")
	})
	return c, nil
}

// RedialLast dials the last number dialed from this line.
func (s *PhoneService) RedialLast(ctx context.Context) (call.Call, error) {
	last := s.store.LastDialed()
	if last == "" {
		return call.Call{}, s.fail("redial", phone_errors.ErrNoLastNumber, nil)
	}
	return s.Dial(ctx, last, DialOptions{})
}

func (s *PhoneService) Answer(ctx context.Context, callID string) error {
	payload := map[string]any{"call_id": callID}
	s.record("answer", payload)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return s.fail("answer", err, payload)
	}

	s.apply.Lock()
	defer s.apply.Unlock()
	if err := p.Answer(ctx, callID); err != nil {
		return s.fail("answer", err, payload)
	}
	s.store.Apply(func(tx *store.Tx) {
		// The incoming event may still be queued; leave the pointer alone then.
		if _, ok := tx.Call(callID); ok {
			tx.UpdateCall(callID, func(c *call.Call) { c.State = call.StateConnecting })
			tx.SetActiveCall(callID)
		}
		tx.DismissIncoming(callID)
	})
	return nil
}

func defaultHangupDisposition(state call.State) call.Disposition {
	switch state {
	case call.StateRingingIn:
		return call.DispositionRejected
	case call.StateDialing, call.StateRingingOut, call.StateConnecting:
		return call.DispositionCancelled
	default:
		return call.DispositionCompleted
	}
}

// Hangup ends callID. An empty disposition is derived from the call state.
func (s *PhoneService) Hangup(ctx context.Context, callID string, disposition call.Disposition) error {
	payload := map[string]any{"call_id": callID}
	if disposition != "" {
		payload["disposition"] = string(disposition)
	}
	s.record("hangup", payload)
	if disposition != "" {
		if err := disposition.Validate(); err != nil {
			return s.fail("hangup", fmt.Errorf("%w: %v", phone_errors.ErrInvalidInput, err), payload)
		}
	}
	p, err := s.manager.Get(ctx)
	if err != nil {
		return s.fail("hangup", err, payload)
	}

	s.apply.Lock()
	defer s.apply.Unlock()
	if err := p.Hangup(ctx, callID); err != nil {
		return s.fail("hangup", err, payload)
	}
	if disposition == "" {
		if c, ok := s.store.ActiveCall(callID); ok {
			disposition = defaultHangupDisposition(c.State)
		}
	}
	s.store.EndCall(callID, disposition, s.now())
	return nil
}

func (s *PhoneService) Hold(ctx context.Context, callID string, on bool) error {
	payload := map[string]any{"call_id": callID, "on": on}
	s.record("hold", payload)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return s.fail("hold", err, payload)
	}

	s.apply.Lock()
	defer s.apply.Unlock()
	if err := p.Hold(ctx, callID, on); err != nil {
		return s.fail("hold", err, payload)
	}
	s.store.UpdateCall(callID, func(c *call.Call) {
		c.OnHold = on
		if on {
			c.State = call.StateOnHold
		} else {
			c.State = call.StateInCall
		}
	})
	return nil
}

func (s *PhoneService) Mute(ctx context.Context, callID string, on bool) error {
	payload := map[string]any{"call_id": callID, "on": on}
	s.record("mute", payload)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return s.fail("mute", err, payload)
	}

	s.apply.Lock()
	defer s.apply.Unlock()
	if err := p.Mute(ctx, callID, on); err != nil {
		return s.fail("mute", err, payload)
	}
	s.store.UpdateCall(callID, func(c *call.Call) { c.Muted = on })
	return nil
}

func (s *PhoneService) Transfer(ctx context.Context, callID, target string, warm bool) error {
	target = strings.TrimSpace(target)
	payload := map[string]any{"call_id": callID, "target": target, "warm": warm}
	s.record("transfer", payload)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return s.fail("transfer", err, payload)
	}

	s.apply.Lock()
	defer s.apply.Unlock()
	if err := p.Transfer(ctx, callID, target, warm); err != nil {
		return s.fail("transfer", err, payload)
	}
	s.store.UpdateCall(callID, func(c *call.Call) {
		c.State = call.StateTransferring
		c.OnHold = false
		c.TransferTarget = target
	})
	return nil
}

func (s *PhoneService) SendDTMF(ctx context.Context, callID, digits string) error {
	payload := map[string]any{"call_id": callID, "digits": digits}
	s.record("dtmf", payload)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return s.fail("dtmf", err, payload)
	}
	if err := p.SendDTMF(ctx, callID, digits); err != nil {
		return s.fail("dtmf", err, payload)
	}
	return nil
}

func (s *PhoneService) GetDevices(ctx context.Context) (provider.DeviceList, error) {
	s.record("get_devices", nil)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return provider.DeviceList{}, s.fail("get_devices", err, nil)
	}
	list, err := p.GetDevices(ctx)
	if err != nil {
		return provider.DeviceList{}, s.fail("get_devices", err, nil)
	}
	return list, nil
}

// SetDevices stores the selection only after the backend accepted it.
func (s *PhoneService) SetDevices(ctx context.Context, sel settings.DeviceSelection) error {
	payload := map[string]any{"input_id": sel.InputID, "output_id": sel.OutputID, "ringer_id": sel.RingerID}
	s.record("set_devices", payload)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return s.fail("set_devices", err, payload)
	}
	if err := p.SetDevices(ctx, sel); err != nil {
		return s.fail("set_devices", err, payload)
	}
	s.store.SetDevices(sel)
	return nil
}

// RequestMicrophonePermission asks the backend for microphone access. Backends
// without a microphone gate are treated as granted.
func (s *PhoneService) RequestMicrophonePermission(ctx context.Context) (settings.PermissionState, error) {
	s.record("request_microphone", nil)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return settings.PermissionPrompt, s.fail("request_microphone", err, nil)
	}
	state := settings.PermissionGranted
	if auth, ok := p.(provider.MicrophoneAuthorizer); ok {
		state, err = auth.RequestMicrophone(ctx)
		if err != nil {
			return settings.PermissionPrompt, s.fail("request_microphone", err, nil)
		}
	}
	s.store.SetPermission(state, s.now())
	return state, nil
}

// SimulateIncoming rings the line when the backend supports it.
func (s *PhoneService) SimulateIncoming(ctx context.Context, peer, displayName string) (string, error) {
	payload := map[string]any{"peer": peer}
	s.record("simulate_incoming", payload)
	p, err := s.manager.Get(ctx)
	if err != nil {
		return "", s.fail("simulate_incoming", err, payload)
	}
	sim, ok := p.(IncomingSimulator)
	if !ok {
		return "", s.fail("simulate_incoming", fmt.Errorf("%w: backend cannot simulate calls", phone_errors.ErrServiceUnavailable), payload)
	}
	id, err := sim.SimulateIncoming(peer, displayName)
	if err != nil {
		return "", s.fail("simulate_incoming", err, payload)
	}
	return id, nil
}

func (s *PhoneService) SetDialBuffer(value string) {
	s.record("set_dial_buffer", map[string]any{"value": value})
	s.store.SetDialBuffer(value)
}

// UpdateSettings overlays a partial JSON document on the current settings.
// Device changes are checked by the backend, which is started if needed.
func (s *PhoneService) UpdateSettings(ctx context.Context, patch []byte) (settings.Settings, error) {
	s.record("update_settings", nil)
	current := s.store.Settings()
	next, err := settings.ApplyJSON(current, patch)
	if err != nil {
		return current, s.fail("update_settings", fmt.Errorf("%w: %v", phone_errors.ErrInvalidInput, err), nil)
	}
	if next.Devices != current.Devices {
		p, err := s.manager.Get(ctx)
		if err != nil {
			return current, s.fail("update_settings", err, nil)
		}
		if err := p.SetDevices(ctx, next.Devices); err != nil {
			return current, s.fail("update_settings", err, nil)
		}
	}
	s.store.UpdateSettings(next)
	return next, nil
}

func (s *PhoneService) ClearHistory() {
	s.record("clear_history", nil)
	s.store.ClearHistory()
}

func (s *PhoneService) Snapshot() store.Snapshot {
	return s.store.Snapshot()
}

func (s *PhoneService) Stats() settings.Stats {
	return s.store.Stats(s.now())
}

// Status reports the backend view, or a zero status before the first use.
func (s *PhoneService) Status() provider.Status {
	if p, ok := s.manager.Current(); ok {
		return p.Status()
	}
	reg, _ := s.store.Registration()
	return provider.Status{Registration: reg}
}

func (s *PhoneService) IsRegistered() bool {
	reg, _ := s.store.Registration()
	return reg == call.RegistrationRegistered
}

func (s *PhoneService) CanCall() bool {
	if s.store.Permissions().Microphone == settings.PermissionDenied {
		return false
	}
	return s.IsRegistered() || s.store.Settings().Behavior.AutoRegister
}

func (s *PhoneService) CanAnswer(callID string) bool {
	c, ok := s.store.ActiveCall(callID)
	return ok && call.CanAnswer(c.State)
}

func (s *PhoneService) CanHold(callID string) bool {
	c, ok := s.store.ActiveCall(callID)
	return ok && call.CanHold(c.State)
}

func (s *PhoneService) CanTransfer(callID string) bool {
	c, ok := s.store.ActiveCall(callID)
	return ok && call.CanTransfer(c.State)
}

func (s *PhoneService) Capabilities(callID string) Capabilities {
	return Capabilities{
		Registered:  s.IsRegistered(),
		CanCall:     s.CanCall(),
		CanAnswer:   s.CanAnswer(callID),
		CanHold:     s.CanHold(callID),
		CanTransfer: s.CanTransfer(callID),
	}
}

// Shutdown destroys the backend and waits for its last events to be applied.
func (s *PhoneService) Shutdown(ctx context.Context) error {
	s.record("shutdown", nil)
	err := s.manager.Shutdown(ctx)
	s.subMu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.subMu.Unlock()
	s.listeners.Close()
	return err
}
