package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clinic-phone/internal/diagnostics"
	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
	"clinic-phone/internal/events"
	"clinic-phone/internal/provider"
	"clinic-phone/internal/provider/simulator"
	"clinic-phone/internal/store"
	phone_errors "clinic-phone/pkg/errors"
)

func testTiming() simulator.Timing {
	return simulator.Timing{
		DialDelay:      2 * time.Millisecond,
		RingMin:        5 * time.Millisecond,
		RingMax:        5 * time.Millisecond,
		AnswerDelay:    2 * time.Millisecond,
		CallMin:        time.Hour,
		CallMax:        time.Hour,
		InboundTimeout: time.Hour,
		RegisterDelay:  2 * time.Millisecond,
		TransferDelay:  5 * time.Millisecond,
		CleanupGrace:   20 * time.Millisecond,
	}
}

func simulatorFactory(roll float64, timing simulator.Timing) provider.Factory {
	return func() provider.Provider {
		return simulator.New(
			simulator.WithTiming(timing),
			simulator.WithRandomizer(simulator.NewFixedRandomizer(roll)),
		)
	}
}

func initOptions() provider.InitOptions {
	return provider.InitOptions{Identity: "1001", Server: "sim.local", DisplayName: "Front Desk"}
}

func newTestPhone(t *testing.T, roll float64, timing simulator.Timing) *PhoneService {
	t.Helper()
	manager := NewProviderManager(simulatorFactory(roll, timing), initOptions, nil)
	svc := NewPhoneService(manager, store.New(100), diagnostics.New(1000, "test-session", nil), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func callState(svc *PhoneService, id string) call.State {
	c, ok := svc.Store().Call(id)
	if !ok {
		return ""
	}
	return c.State
}

func hasEntry(log *diagnostics.Log, event string) bool {
	for _, e := range log.Entries() {
		if e.Event == event {
			return true
		}
	}
	return false
}

func TestDialAutoRegistersAndProgresses(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())

	var mu sync.Mutex
	seen := map[string][]call.State{}
	svc.Store().OnChange(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range svc.Store().ActiveCalls() {
			states := seen[c.ID]
			if len(states) == 0 || states[len(states)-1] != c.State {
				seen[c.ID] = append(states, c.State)
			}
		}
	})

	if svc.IsRegistered() {
		t.Fatalf("fresh core must start unregistered")
	}
	c, err := svc.Dial(context.Background(), "+15551234567", DialOptions{
		Association: call.Association{PatientID: "patient-7"},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if !svc.IsRegistered() {
		t.Fatalf("dial must auto-register the line")
	}
	eventually(t, "call to connect", func() bool { return callState(svc, c.ID) == call.StateInCall })

	mu.Lock()
	states := seen[c.ID]
	mu.Unlock()
	want := []call.State{call.StateDialing, call.StateRingingOut, call.StateInCall}
	if len(states) != len(want) {
		t.Fatalf("unexpected state sequence %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("unexpected state sequence %v", states)
		}
	}

	active := svc.Store().ActiveCalls()
	if len(active) != 1 || active[0].Association.PatientID != "patient-7" {
		t.Fatalf("expected exactly one tagged call, got %+v", active)
	}
	snap := svc.Snapshot()
	if snap.ActiveCallID != c.ID || snap.LastDialed != "+15551234567" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if active[0].RemoteStreamID == "" {
		t.Fatalf("remote audio stream was not recorded")
	}
}

func TestDialWithoutAutoRegisterFails(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	if _, err := svc.UpdateSettings(context.Background(), []byte(`{"behavior":{"auto_register":false}}`)); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if svc.CanCall() {
		t.Fatalf("cannot call while unregistered without auto-register")
	}
	_, err := svc.Dial(context.Background(), "200", DialOptions{})
	if !errors.Is(err, phone_errors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if !hasEntry(svc.Diagnostics(), "error:dial") {
		t.Fatalf("failed dial must be recorded")
	}
}

func TestDialHangupCyclesCapHistory(t *testing.T) {
	t.Parallel()

	timing := testTiming()
	timing.DialDelay = time.Hour
	svc := newTestPhone(t, 0.5, timing)
	ctx := context.Background()

	if err := svc.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	var last string
	for i := 0; i < 200; i++ {
		c, err := svc.Dial(ctx, "200", DialOptions{})
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		if err := svc.Hangup(ctx, c.ID, ""); err != nil {
			t.Fatalf("hangup %d: %v", i, err)
		}
		last = c.ID
	}

	eventually(t, "all calls ended", func() bool { return len(svc.Store().ActiveCalls()) == 0 })
	history := svc.Store().History()
	if len(history) != 100 {
		t.Fatalf("expected history capped at 100, got %d", len(history))
	}
	if history[0].ID != last {
		t.Fatalf("newest call must be first")
	}
	if history[0].Disposition != call.DispositionCancelled {
		t.Fatalf("hangup while dialing should be cancelled, got %s", history[0].Disposition)
	}
	seen := map[string]bool{}
	for _, c := range history {
		if seen[c.ID] {
			t.Fatalf("duplicate id %s in history", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestInboundLifecycleAndPredicates(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	ctx := context.Background()
	if err := svc.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	id, err := svc.SimulateIncoming(ctx, "+15550001111", "Patient line")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	eventually(t, "incoming call", func() bool { return callState(svc, id) == call.StateRingingIn })
	if svc.Snapshot().PresentedIncomingID != id {
		t.Fatalf("incoming call must be presented")
	}
	if !svc.CanAnswer(id) || svc.CanHold(id) || svc.CanTransfer(id) {
		t.Fatalf("unexpected predicates while ringing: %+v", svc.Capabilities(id))
	}

	if err := svc.Answer(ctx, id); err != nil {
		t.Fatalf("answer: %v", err)
	}
	eventually(t, "answered call", func() bool { return callState(svc, id) == call.StateInCall })
	if !svc.CanHold(id) || !svc.CanTransfer(id) || svc.CanAnswer(id) {
		t.Fatalf("unexpected predicates in call: %+v", svc.Capabilities(id))
	}

	if err := svc.Hold(ctx, id, true); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if svc.CanTransfer(id) {
		t.Fatalf("transfer must not be possible on hold")
	}
	if err := svc.Hold(ctx, id, false); err != nil {
		t.Fatalf("unhold: %v", err)
	}
	eventually(t, "unhold to settle", func() bool {
		c, _ := svc.Store().ActiveCall(id)
		return c.State == call.StateInCall && !c.OnHold
	})

	if err := svc.Transfer(ctx, id, "205", false); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	eventually(t, "transfer to finish", func() bool {
		_, active := svc.Store().ActiveCall(id)
		return !active
	})
	ended, ok := svc.Store().Call(id)
	if !ok || ended.State != call.StateEnded || ended.Disposition != call.DispositionTransferred {
		t.Fatalf("expected transferred call in history, got %+v", ended)
	}
	if ended.TransferTarget != "205" {
		t.Fatalf("transfer target not recorded")
	}
}

func TestConcurrentAnswerOneWins(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	ctx := context.Background()
	if err := svc.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	id, err := svc.SimulateIncoming(ctx, "+15550001111", "")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- svc.Answer(ctx, id) }()
	}
	var failures int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			if !errors.Is(err, phone_errors.ErrInvalidState) {
				t.Fatalf("unexpected error %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one rejected answer, got %d", failures)
	}
	if !hasEntry(svc.Diagnostics(), "error:answer") {
		t.Fatalf("rejected answer must be recorded")
	}
}

func TestSetDevicesUnknownLeavesSelection(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	ctx := context.Background()
	before := svc.Store().Settings().Devices

	err := svc.SetDevices(ctx, settings.DeviceSelection{InputID: "nonexistent-id"})
	if !errors.Is(err, phone_errors.ErrDeviceNotFound) {
		t.Fatalf("expected device not found, got %v", err)
	}
	if svc.Store().Settings().Devices != before {
		t.Fatalf("selection changed after rejected update")
	}
	list, err := svc.GetDevices(ctx)
	if err != nil {
		t.Fatalf("get devices: %v", err)
	}
	if list.Selected.InputID != before.InputID {
		t.Fatalf("backend selection changed after rejected update")
	}

	if err := svc.SetDevices(ctx, settings.DeviceSelection{OutputID: "headset"}); err != nil {
		t.Fatalf("set devices: %v", err)
	}
	if svc.Store().Settings().Devices.OutputID != "headset" {
		t.Fatalf("accepted selection must be stored")
	}
}

func TestUpdateSettingsChecksDevicesBeforeFirstUse(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	ctx := context.Background()
	before := svc.Store().Settings()

	_, err := svc.UpdateSettings(ctx, []byte(`{"devices":{"input_id":"nonexistent-id"}}`))
	if !errors.Is(err, phone_errors.ErrDeviceNotFound) {
		t.Fatalf("expected device not found on a fresh line, got %v", err)
	}
	if svc.Store().Settings() != before {
		t.Fatalf("rejected patch changed settings")
	}

	next, err := svc.UpdateSettings(ctx, []byte(`{"devices":{"input_id":"desk-mic"},"ui":{"theme":"dark"}}`))
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if next.Devices.InputID != "desk-mic" || svc.Store().Settings().UI.Theme != "dark" {
		t.Fatalf("accepted patch not stored: %+v", next)
	}
	list, err := svc.GetDevices(ctx)
	if err != nil {
		t.Fatalf("get devices: %v", err)
	}
	if list.Selected.InputID != "desk-mic" {
		t.Fatalf("backend selection %q disagrees with settings", list.Selected.InputID)
	}
}

// silentSimulator swallows events so the store only sees what actions write.
type silentSimulator struct {
	*simulator.Simulator
}

func (silentSimulator) On(events.Handler) func() { return func() {} }

func TestAnswerBeforeIncomingEventKeepsActiveCall(t *testing.T) {
	t.Parallel()

	factory := func() provider.Provider {
		return silentSimulator{simulator.New(
			simulator.WithTiming(testTiming()),
			simulator.WithRandomizer(simulator.NewFixedRandomizer(0.5)),
		)}
	}
	svc := NewPhoneService(NewProviderManager(factory, initOptions, nil), store.New(10), diagnostics.New(100, "test-session", nil), nil)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	ctx := context.Background()

	if err := svc.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc.Store().Apply(func(tx *store.Tx) {
		tx.AddCall(call.NewOutbound("live-call", "200", time.Now()))
		tx.SetActiveCall("live-call")
	})

	id, err := svc.SimulateIncoming(ctx, "+15550142201", "")
	if err != nil {
		t.Fatalf("simulate incoming: %v", err)
	}
	if err := svc.Answer(ctx, id); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := svc.Snapshot().ActiveCallID; got != "live-call" {
		t.Fatalf("active call pointer moved to %q", got)
	}
}

func TestSetDialBufferIsRecorded(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	svc.SetDialBuffer("555")
	if !hasEntry(svc.Diagnostics(), "action:set_dial_buffer") {
		t.Fatalf("dial buffer change missing from diagnostics")
	}
	if svc.Snapshot().DialBuffer != "555" {
		t.Fatalf("dial buffer not stored")
	}
}

func TestRedialWithoutHistory(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	if _, err := svc.RedialLast(context.Background()); !errors.Is(err, phone_errors.ErrNoLastNumber) {
		t.Fatalf("expected no last number, got %v", err)
	}
}

func TestHangupRejectsUnknownDisposition(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	err := svc.Hangup(context.Background(), "whatever", call.Disposition("shrug"))
	if !errors.Is(err, phone_errors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestMicrophonePermissionIsStored(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	state, err := svc.RequestMicrophonePermission(context.Background())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if state != settings.PermissionGranted || svc.Store().Permissions().Microphone != settings.PermissionGranted {
		t.Fatalf("expected granted permission to be stored")
	}
}

func TestEventsAreMirroredToDiagnostics(t *testing.T) {
	t.Parallel()

	svc := newTestPhone(t, 0.5, testTiming())
	ctx := context.Background()
	c, err := svc.Dial(ctx, "200", DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	eventually(t, "connected", func() bool { return callState(svc, c.ID) == call.StateInCall })

	for _, event := range []string{"action:dial", "action:register", "event:registered", "event:ringing", "event:connected", "event:remote_audio"} {
		if !hasEntry(svc.Diagnostics(), event) {
			t.Fatalf("missing diagnostic entry %s", event)
		}
	}
	for _, e := range svc.Diagnostics().Entries() {
		if e.SessionID != "test-session" {
			t.Fatalf("entry without session id: %+v", e)
		}
	}
}

func TestProviderManagerSharesInit(t *testing.T) {
	t.Parallel()

	var built atomic.Int32
	manager := NewProviderManager(func() provider.Provider {
		built.Add(1)
		return simulator.New(simulator.WithTiming(testTiming()))
	}, initOptions, nil)
	defer manager.Shutdown(context.Background())

	var wg sync.WaitGroup
	results := make([]provider.Provider, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := manager.Get(context.Background())
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	if n := built.Load(); n != 1 {
		t.Fatalf("expected one construction, got %d", n)
	}
	for _, p := range results[1:] {
		if p != results[0] {
			t.Fatalf("callers received different instances")
		}
	}
}

func TestProviderManagerRetriesFailedInit(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	options := func() provider.InitOptions {
		if attempts.Add(1) == 1 {
			return provider.InitOptions{}
		}
		return initOptions()
	}
	var built atomic.Int32
	manager := NewProviderManager(func() provider.Provider {
		built.Add(1)
		return simulator.New(simulator.WithTiming(testTiming()))
	}, options, nil)
	defer manager.Shutdown(context.Background())

	if _, err := manager.Get(context.Background()); !errors.Is(err, phone_errors.ErrInvalidInput) {
		t.Fatalf("expected first init to fail, got %v", err)
	}
	if _, ok := manager.Current(); ok {
		t.Fatalf("failed init must not be cached")
	}
	if _, err := manager.Get(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := built.Load(); n != 2 {
		t.Fatalf("expected a fresh instance on retry, got %d constructions", n)
	}
}

func TestEventMutationMapping(t *testing.T) {
	t.Parallel()

	st := store.New(10)
	now := time.Now()
	apply := func(m store.Mutation) { st.Apply(m) }

	apply(EventMutation(events.NewIncoming(now, "in-1", "+15550001111", "Patient line")))
	if c, ok := st.ActiveCall("in-1"); !ok || c.State != call.StateRingingIn || c.Direction != call.DirectionInbound {
		t.Fatalf("incoming must create a ringing inbound call, got %+v", c)
	}
	apply(EventMutation(events.NewConnected(now.Add(time.Second), "in-1")))
	if c, _ := st.ActiveCall("in-1"); c.State != call.StateInCall || c.AnsweredAt == nil {
		t.Fatalf("connected must mark the call answered, got %+v", c)
	}
	if st.Snapshot().PresentedIncomingID != "" {
		t.Fatalf("connected call must no longer be presented")
	}
	apply(EventMutation(events.NewError(now.Add(5*time.Second), "in-1", "MEDIA_FAILURE", "media negotiation failed")))
	c, ok := st.Call("in-1")
	if !ok || c.State != call.StateError || c.Disposition != call.DispositionFailed || c.ErrorMessage == "" {
		t.Fatalf("error must end the call as failed, got %+v", c)
	}
	if c.DurationSeconds != 4 {
		t.Fatalf("expected 4s duration, got %d", c.DurationSeconds)
	}

	if EventMutation(events.NewDTMFSent(now, "in-1", "5")) != nil {
		t.Fatalf("dtmf events carry no state change")
	}
	rev := st.Snapshot().Revision
	apply(EventMutation(events.NewConnected(now, "missing")))
	if st.Snapshot().Revision != rev {
		t.Fatalf("events for unknown calls must be no-ops")
	}
}

func TestStatsFromHistory(t *testing.T) {
	t.Parallel()

	timing := testTiming()
	timing.DialDelay = time.Hour
	svc := newTestPhone(t, 0.5, timing)
	ctx := context.Background()
	if err := svc.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 3; i++ {
		c, err := svc.Dial(ctx, fmt.Sprintf("20%d", i), DialOptions{})
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if err := svc.Hangup(ctx, c.ID, call.DispositionWrongNumber); err != nil {
			t.Fatalf("hangup: %v", err)
		}
	}
	st := svc.Stats()
	if st.TotalCalls != 3 || st.OutboundCalls != 3 || st.AnsweredCalls != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if svc.Store().History()[0].Disposition != call.DispositionWrongNumber {
		t.Fatalf("explicit disposition must be kept")
	}
}
