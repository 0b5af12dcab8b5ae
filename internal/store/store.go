// Package store is the central state container of the phone core. Every
// mutation is total: unknown ids are ignored and nothing panics or errors.
package store

import (
	"sort"
	"sync"
	"time"

	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
)

const DefaultHistoryCapacity = 100

// Mutation changes state inside a single critical section.
type Mutation func(tx *Tx)

// Snapshot is a detached copy of the whole state.
type Snapshot struct {
	Registration        call.RegistrationState `json:"registration"`
	RegistrationError   string                 `json:"registration_error,omitempty"`
	ActiveCalls         []call.Call            `json:"active_calls"`
	ActiveCallID        string                 `json:"active_call_id,omitempty"`
	History             []call.Call            `json:"history"`
	Settings            settings.Settings      `json:"settings"`
	Permissions         settings.Permissions   `json:"permissions"`
	DialBuffer          string                 `json:"dial_buffer"`
	PresentedIncomingID string                 `json:"presented_incoming_id,omitempty"`
	LastDialed          string                 `json:"last_dialed,omitempty"`
	Revision            uint64                 `json:"revision"`
}

type Store struct {
	mu       sync.RWMutex
	capacity int

	registration      call.RegistrationState
	registrationError string
	active            map[string]*call.Call
	activeCallID      string
	history           []call.Call
	settings          settings.Settings
	permissions       settings.Permissions
	dialBuffer        string
	presentedIncoming string
	lastDialed        string

	revision        uint64
	durableRevision uint64

	listenerMu sync.RWMutex
	listeners  map[uint64]func()
	nextID     uint64
}

func New(historyCapacity int) *Store {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	return &Store{
		capacity:     historyCapacity,
		registration: call.RegistrationUnregistered,
		active:       make(map[string]*call.Call),
		settings:     settings.Default(),
		permissions:  settings.DefaultPermissions(),
		listeners:    make(map[uint64]func()),
	}
}

// Apply runs m under the write lock and notifies change listeners afterwards.
func (s *Store) Apply(m Mutation) {
	if m == nil {
		return
	}
	s.mu.Lock()
	tx := &Tx{s: s}
	m(tx)
	if tx.changed {
		s.revision++
	}
	if tx.durable {
		s.durableRevision++
	}
	s.mu.Unlock()

	if tx.changed {
		s.notify()
	}
}

// OnChange registers fn to run after every effective mutation.
func (s *Store) OnChange(fn func()) (remove func()) {
	s.listenerMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify() {
	s.listenerMu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Store) SetRegistration(state call.RegistrationState, errMsg string) {
	s.Apply(func(tx *Tx) { tx.SetRegistration(state, errMsg) })
}

func (s *Store) AddCall(c call.Call) {
	s.Apply(func(tx *Tx) { tx.AddCall(c) })
}

func (s *Store) UpdateCall(id string, fn func(*call.Call)) {
	s.Apply(func(tx *Tx) { tx.UpdateCall(id, fn) })
}

func (s *Store) EndCall(id string, disposition call.Disposition, at time.Time) {
	s.Apply(func(tx *Tx) { tx.EndCall(id, disposition, at) })
}

func (s *Store) SetActiveCall(id string) {
	s.Apply(func(tx *Tx) { tx.SetActiveCall(id) })
}

func (s *Store) SetDialBuffer(value string) {
	s.Apply(func(tx *Tx) { tx.SetDialBuffer(value) })
}

func (s *Store) PresentIncoming(id string) {
	s.Apply(func(tx *Tx) { tx.PresentIncoming(id) })
}

func (s *Store) SetLastDialed(number string) {
	s.Apply(func(tx *Tx) { tx.SetLastDialed(number) })
}

func (s *Store) UpdateSettings(next settings.Settings) {
	s.Apply(func(tx *Tx) { tx.UpdateSettings(next) })
}

func (s *Store) SetDevices(sel settings.DeviceSelection) {
	s.Apply(func(tx *Tx) { tx.SetDevices(sel) })
}

func (s *Store) SetPermission(state settings.PermissionState, at time.Time) {
	s.Apply(func(tx *Tx) { tx.SetPermission(state, at) })
}

func (s *Store) ClearHistory() {
	s.Apply(func(tx *Tx) { tx.ClearHistory() })
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Registration:        s.registration,
		RegistrationError:   s.registrationError,
		ActiveCalls:         s.activeCallsLocked(),
		ActiveCallID:        s.activeCallID,
		History:             cloneCalls(s.history),
		Settings:            s.settings,
		Permissions:         s.permissions,
		DialBuffer:          s.dialBuffer,
		PresentedIncomingID: s.presentedIncoming,
		LastDialed:          s.lastDialed,
		Revision:            s.revision,
	}
}

// Call looks id up in the active registry first, then in history.
func (s *Store) Call(id string) (call.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.active[id]; ok {
		return c.Clone(), true
	}
	for _, c := range s.history {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return call.Call{}, false
}

// ActiveCall reports whether id is in the active registry.
func (s *Store) ActiveCall(id string) (call.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.active[id]
	if !ok {
		return call.Call{}, false
	}
	return c.Clone(), true
}

// ActiveCalls returns the active registry ordered by start time.
func (s *Store) ActiveCalls() []call.Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeCallsLocked()
}

// History returns the most recent calls first.
func (s *Store) History() []call.Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCalls(s.history)
}

func (s *Store) Registration() (call.RegistrationState, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registration, s.registrationError
}

func (s *Store) Settings() settings.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) Permissions() settings.Permissions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissions
}

func (s *Store) LastDialed() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDialed
}

func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) activeCallsLocked() []call.Call {
	out := make([]call.Call, 0, len(s.active))
	for _, c := range s.active {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func cloneCalls(in []call.Call) []call.Call {
	out := make([]call.Call, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
