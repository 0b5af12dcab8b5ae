// Package simulator is an in-process telephony backend. It drives calls and
// registration through the same asynchronous lifecycle a real signaling
// stack would, using timers and a pluggable Randomizer.
package simulator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
	"clinic-phone/internal/events"
	"clinic-phone/internal/provider"
	phone_errors "clinic-phone/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	targetPattern = regexp.MustCompile(`^\+?[0-9*#]{2,20}$`)
	digitsPattern = regexp.MustCompile(`^[0-9A-Da-d*#]{1,32}$`)
)

type Option func(*Simulator)

func WithTiming(t Timing) Option { return func(s *Simulator) { s.timing = t } }

func WithOdds(o Odds) Option { return func(s *Simulator) { s.odds = o } }

func WithRandomizer(r Randomizer) Option { return func(s *Simulator) { s.rnd = r } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Simulator) { s.now = now } }

// WithMicrophone fixes the answer RequestMicrophone gives.
func WithMicrophone(state settings.PermissionState) Option {
	return func(s *Simulator) { s.microphone = state }
}

type simCall struct {
	id         string
	peer       string
	direction  call.Direction
	state      call.State
	onHold     bool
	muted      bool
	answeredAt *time.Time
	timer      *time.Timer
}

func (c *simCall) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

type attempt struct {
	done chan struct{}
	err  error
}

type Simulator struct {
	timing     Timing
	odds       Odds
	rnd        Randomizer
	logger     *zap.Logger
	now        func() time.Time
	microphone settings.PermissionState
	bus        *events.Broadcaster

	mu           sync.Mutex
	initialized  bool
	destroyed    bool
	opts         provider.InitOptions
	registration call.RegistrationState
	pending      *attempt
	epoch        uint64
	inboundTimer *time.Timer
	calls        map[string]*simCall
	selected     settings.DeviceSelection
}

var _ provider.Provider = (*Simulator)(nil)
var _ provider.MicrophoneAuthorizer = (*Simulator)(nil)

func New(opts ...Option) *Simulator {
	s := &Simulator{
		timing:       DefaultTiming(),
		odds:         DefaultOdds(),
		rnd:          NewSeededRandomizer(uint64(time.Now().UnixNano())),
		logger:       zap.NewNop(),
		now:          time.Now,
		microphone:   settings.PermissionGranted,
		registration: call.RegistrationUnregistered,
		calls:        make(map[string]*simCall),
		selected:     settings.Default().Devices,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bus = events.NewBroadcaster(s.logger)
	return s
}

func (s *Simulator) Init(ctx context.Context, opts provider.InitOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(opts.Identity) == "" {
		return fmt.Errorf("%w: identity is required", phone_errors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return phone_errors.ErrProviderClosed
	}
	s.opts = opts
	if err := validateSelection(opts.Devices); err != nil {
		s.logger.Warn("ignoring stored device selection", zap.Error(err))
	} else {
		s.selected = s.selected.Merge(opts.Devices)
	}
	s.initialized = true
	s.logger.Info("simulator initialized",
		zap.String("identity", opts.Identity),
		zap.String("server", opts.Server),
	)
	return nil
}

func (s *Simulator) checkReady() error {
	if s.destroyed {
		return phone_errors.ErrProviderClosed
	}
	if !s.initialized {
		return phone_errors.ErrNotInitialized
	}
	return nil
}

func notReady(err error) *phone_errors.RegistrationError {
	return &phone_errors.RegistrationError{
		Code:    phone_errors.CodeNotInitialized,
		Message: err.Error(),
		Err:     err,
	}
}

// Register is idempotent while registered; concurrent callers share the in-flight attempt.
func (s *Simulator) Register(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkReady(); err != nil {
		s.mu.Unlock()
		return notReady(err)
	}
	if s.registration == call.RegistrationRegistered {
		s.mu.Unlock()
		return nil
	}
	a := s.pending
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		s.pending = a
		s.registration = call.RegistrationRegistering
		time.AfterFunc(s.timing.RegisterDelay, func() { s.completeRegistration(a) })
	}
	s.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) completeRegistration(a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != a {
		return
	}
	s.pending = nil

	if s.rnd.Float64() < s.odds.RegistrationFailure {
		msg := fmt.Sprintf("registrar %s did not respond", s.opts.Server)
		s.registration = call.RegistrationFailed
		a.err = phone_errors.NewRegistrationError(phone_errors.CodeNetworkError, msg)
		s.emit(events.NewRegistrationError(s.now(), string(phone_errors.CodeNetworkError), msg))
		s.logger.Warn("registration failed", zap.String("identity", s.opts.Identity))
	} else {
		s.registration = call.RegistrationRegistered
		s.emit(events.NewRegistered(s.now(), s.opts.Identity))
		s.scheduleInbound()
	}
	close(a.done)
}

func (s *Simulator) cancelPending(err error) {
	if s.pending == nil {
		return
	}
	s.pending.err = err
	close(s.pending.done)
	s.pending = nil
}

// Unregister hangs up every active call before leaving the registrar.
func (s *Simulator) Unregister(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return notReady(err)
	}
	if s.registration == call.RegistrationUnregistered {
		return nil
	}
	s.hangupAll()
	s.cancelPending(phone_errors.NewRegistrationError(phone_errors.CodeRegistrationFailed, "registration cancelled"))
	s.stopInbound()
	s.registration = call.RegistrationUnregistered
	s.emit(events.NewUnregistered(s.now()))
	return nil
}

func (s *Simulator) Call(ctx context.Context, target string, opts provider.CallOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return "", err
	}
	if s.registration != call.RegistrationRegistered {
		return "", phone_errors.NewCallError("", phone_errors.CodeNotRegistered, "line is %s", s.registration)
	}
	target = strings.TrimSpace(target)
	if !targetPattern.MatchString(target) {
		return "", phone_errors.NewCallError("", phone_errors.CodeInvalidTarget, "%q is not a dialable number", target)
	}

	c := &simCall{
		id:        uuid.NewString(),
		peer:      target,
		direction: call.DirectionOutbound,
		state:     call.StateDialing,
	}
	s.calls[c.id] = c
	s.schedule(c, s.timing.DialDelay, func() { s.dialProgress(c) })
	s.logger.Debug("outbound call placed", zap.String("call_id", c.id), zap.String("peer", target))
	return c.id, nil
}

func (s *Simulator) dialProgress(c *simCall) {
	if c.state != call.StateDialing {
		return
	}
	if !s.moveTo(c, call.StateRingingOut) {
		return
	}
	s.emit(events.NewRinging(s.now(), c.id))
	s.schedule(c, s.rnd.Between(s.timing.RingMin, s.timing.RingMax), func() { s.ringOutcome(c) })
}

func (s *Simulator) ringOutcome(c *simCall) {
	if c.state != call.StateRingingOut {
		return
	}
	roll := s.rnd.Float64()
	switch {
	case roll < s.odds.Connected:
		if s.odds.CallFault > 0 && s.rnd.Float64() < s.odds.CallFault {
			s.fail(c, "MEDIA_FAILURE", "media negotiation failed")
			return
		}
		s.connect(c)
	case roll < s.odds.Connected+s.odds.NoAnswer:
		s.end(c, call.DispositionNoAnswer, "remote did not answer")
	default:
		s.end(c, call.DispositionBusy, "remote busy")
	}
}

func (s *Simulator) connect(c *simCall) {
	if c.state == call.StateInCall || !s.moveTo(c, call.StateInCall) {
		return
	}
	now := s.now()
	c.answeredAt = &now
	s.emit(events.NewConnected(now, c.id))
	s.emit(events.NewRemoteAudio(now, c.id, events.MediaStream{
		ID:    "stream-" + c.id,
		Kind:  "audio",
		Label: "remote:" + c.peer,
	}))
	s.schedule(c, s.rnd.Between(s.timing.CallMin, s.timing.CallMax), func() {
		if c.state == call.StateInCall || c.state == call.StateOnHold {
			s.end(c, call.DispositionCompleted, "remote hung up")
		}
	})
}

// moveTo applies a state change when the call state table allows it.
// Re-entering the current state is accepted as a no-op.
func (s *Simulator) moveTo(c *simCall, next call.State) bool {
	if c.state == next {
		return true
	}
	if !c.state.CanTransition(next) {
		s.logger.Warn("refusing call state change",
			zap.String("call_id", c.id),
			zap.String("from", string(c.state)),
			zap.String("to", string(next)))
		return false
	}
	c.state = next
	return true
}

func (s *Simulator) end(c *simCall, disposition call.Disposition, reason string) {
	if c.state.IsTerminal() || !s.moveTo(c, call.StateEnded) {
		return
	}
	c.onHold = false
	s.emit(events.NewEnded(s.now(), c.id, disposition, reason))
	s.schedulePurge(c)
}

func (s *Simulator) fail(c *simCall, code, message string) {
	if c.state.IsTerminal() || !s.moveTo(c, call.StateError) {
		return
	}
	c.onHold = false
	s.emit(events.NewError(s.now(), c.id, code, message))
	s.schedulePurge(c)
}

func (s *Simulator) schedulePurge(c *simCall) {
	s.schedule(c, s.timing.CleanupGrace, func() {
		if c.state.IsTerminal() {
			delete(s.calls, c.id)
		}
	})
}

// schedule replaces the pending step of c. Steps run under s.mu and only
// while c is still the registered record for its id.
func (s *Simulator) schedule(c *simCall, d time.Duration, step func()) {
	c.stopTimer()
	c.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.destroyed || s.calls[c.id] != c {
			return
		}
		step()
	})
}

func (s *Simulator) scheduleInbound() {
	if s.timing.InboundMax <= 0 {
		return
	}
	epoch := s.epoch
	s.inboundTimer = time.AfterFunc(s.rnd.Between(s.timing.InboundMin, s.timing.InboundMax), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.destroyed || s.epoch != epoch || s.registration != call.RegistrationRegistered {
			return
		}
		p := inboundPeers[s.rnd.Intn(len(inboundPeers))]
		s.startInbound(p.peer, p.name)
		s.scheduleInbound()
	})
}

func (s *Simulator) stopInbound() {
	s.epoch++
	if s.inboundTimer != nil {
		s.inboundTimer.Stop()
		s.inboundTimer = nil
	}
}

func (s *Simulator) startInbound(peer, name string) string {
	c := &simCall{
		id:        uuid.NewString(),
		peer:      peer,
		direction: call.DirectionInbound,
		state:     call.StateRingingIn,
	}
	s.calls[c.id] = c
	s.emit(events.NewIncoming(s.now(), c.id, peer, name))
	s.schedule(c, s.timing.InboundTimeout, func() {
		if c.state == call.StateRingingIn {
			s.end(c, call.DispositionTimeout, "caller gave up")
		}
	})
	return c.id
}

// SimulateIncoming rings the line from peer right away. An empty peer is
// drawn from the inbound pool.
func (s *Simulator) SimulateIncoming(peer, displayName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return "", err
	}
	if s.registration != call.RegistrationRegistered {
		return "", phone_errors.NewCallError("", phone_errors.CodeNotRegistered, "line is %s", s.registration)
	}
	if peer == "" {
		p := inboundPeers[s.rnd.Intn(len(inboundPeers))]
		peer, displayName = p.peer, p.name
	}
	return s.startInbound(peer, displayName), nil
}

func (s *Simulator) lookup(callID string) (*simCall, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	c, ok := s.calls[callID]
	if !ok {
		return nil, phone_errors.NewCallError(callID, phone_errors.CodeCallNotFound, "no such call")
	}
	return c, nil
}

func guard(c *simCall, allowed func(call.State) bool, op string) error {
	if !allowed(c.state) {
		return phone_errors.NewCallError(c.id, phone_errors.CodeInvalidState, "cannot %s while %s", op, c.state)
	}
	return nil
}

func invalidMove(c *simCall, op string) error {
	return phone_errors.NewCallError(c.id, phone_errors.CodeInvalidState, "cannot %s while %s", op, c.state)
}

func (s *Simulator) Answer(ctx context.Context, callID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(callID)
	if err != nil {
		return err
	}
	if err := guard(c, call.CanAnswer, "answer"); err != nil {
		return err
	}
	if !s.moveTo(c, call.StateConnecting) {
		return invalidMove(c, "answer")
	}
	s.schedule(c, s.timing.AnswerDelay, func() {
		if c.state == call.StateConnecting {
			s.connect(c)
		}
	})
	return nil
}

func hangupDisposition(state call.State) call.Disposition {
	switch state {
	case call.StateInCall, call.StateOnHold, call.StateTransferring:
		return call.DispositionCompleted
	case call.StateRingingIn:
		return call.DispositionRejected
	default:
		return call.DispositionCancelled
	}
}

func (s *Simulator) Hangup(ctx context.Context, callID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(callID)
	if err != nil {
		return err
	}
	if c.state.IsTerminal() {
		return phone_errors.NewCallError(c.id, phone_errors.CodeInvalidState, "call already %s", c.state)
	}
	s.end(c, hangupDisposition(c.state), "local hangup")
	return nil
}

func (s *Simulator) hangupAll() {
	for _, c := range s.calls {
		if !c.state.IsTerminal() {
			s.end(c, hangupDisposition(c.state), "line unregistered")
		}
	}
}

func (s *Simulator) Hold(ctx context.Context, callID string, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(callID)
	if err != nil {
		return err
	}
	if err := guard(c, call.CanHold, "hold"); err != nil {
		return err
	}
	next := call.StateInCall
	if on {
		next = call.StateOnHold
	}
	if !s.moveTo(c, next) {
		return invalidMove(c, "hold")
	}
	c.onHold = on
	s.emit(events.NewHeld(s.now(), c.id, on))
	return nil
}

func (s *Simulator) Mute(ctx context.Context, callID string, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(callID)
	if err != nil {
		return err
	}
	if err := guard(c, call.CanMute, "mute"); err != nil {
		return err
	}
	c.muted = on
	return nil
}

func (s *Simulator) Transfer(ctx context.Context, callID, target string, warm bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(callID)
	if err != nil {
		return err
	}
	if err := guard(c, call.CanTransfer, "transfer"); err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	if !targetPattern.MatchString(target) {
		return phone_errors.NewCallError(c.id, phone_errors.CodeInvalidTarget, "%q is not a transfer target", target)
	}
	if !s.moveTo(c, call.StateTransferring) {
		return invalidMove(c, "transfer")
	}
	s.emit(events.NewTransferInitiated(s.now(), c.id, target, warm))
	s.schedule(c, s.timing.TransferDelay, func() {
		if c.state != call.StateTransferring {
			return
		}
		s.emit(events.NewTransferCompleted(s.now(), c.id, target))
		s.end(c, call.DispositionTransferred, "transferred to "+target)
	})
	return nil
}

func (s *Simulator) SendDTMF(ctx context.Context, callID, digits string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(callID)
	if err != nil {
		return err
	}
	if err := guard(c, call.CanSendDTMF, "send dtmf"); err != nil {
		return err
	}
	if !digitsPattern.MatchString(digits) {
		return phone_errors.NewCallError(c.id, phone_errors.CodeInvalidDigits, "%q is not a dtmf sequence", digits)
	}
	s.emit(events.NewDTMFSent(s.now(), c.id, digits))
	return nil
}

// SetDevices validates every id before changing anything.
func (s *Simulator) SetDevices(ctx context.Context, selection settings.DeviceSelection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return err
	}
	if err := validateSelection(selection); err != nil {
		return err
	}
	s.selected = s.selected.Merge(selection)
	return nil
}

func (s *Simulator) GetDevices(ctx context.Context) (provider.DeviceList, error) {
	if err := ctx.Err(); err != nil {
		return provider.DeviceList{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return provider.DeviceList{}, err
	}
	return deviceList(s.selected), nil
}

func (s *Simulator) RequestMicrophone(ctx context.Context) (settings.PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return settings.PermissionPrompt, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady(); err != nil {
		return settings.PermissionPrompt, err
	}
	return s.microphone, nil
}

func (s *Simulator) Status() provider.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, c := range s.calls {
		if !c.state.IsTerminal() {
			active++
		}
	}
	return provider.Status{
		Initialized:  s.initialized,
		Registration: s.registration,
		Identity:     s.opts.Identity,
		ActiveCalls:  active,
	}
}

func (s *Simulator) On(h events.Handler) func() {
	return s.bus.Subscribe(h)
}

// Destroy ends every call, leaves the registrar and stops event delivery
// once the queued events are out.
func (s *Simulator) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.hangupAll()
	s.cancelPending(notReady(phone_errors.ErrProviderClosed))
	s.stopInbound()
	if s.registration != call.RegistrationUnregistered {
		s.registration = call.RegistrationUnregistered
		s.emit(events.NewUnregistered(s.now()))
	}
	for _, c := range s.calls {
		c.stopTimer()
	}
	s.calls = make(map[string]*simCall)
	s.destroyed = true
	s.initialized = false
	s.mu.Unlock()

	s.bus.Close()
	select {
	case <-s.bus.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) emit(e events.Event) {
	s.bus.Publish(e)
}
