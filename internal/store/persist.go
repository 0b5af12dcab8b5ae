package store

import (
	"context"
	"sync"

	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
)

// Durable is the part of the state that survives a restart.
// Registration and active calls are never persisted.
type Durable struct {
	History     []call.Call          `json:"history"`
	Settings    settings.Settings    `json:"settings"`
	Permissions settings.Permissions `json:"permissions"`
}

// Persistence loads and saves the durable state of one profile.
type Persistence interface {
	Load(ctx context.Context) (Durable, bool, error)
	Save(ctx context.Context, d Durable) error
}

// ExportDurable returns the durable state and the revision it corresponds to.
func (s *Store) ExportDurable() (Durable, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Durable{
		History:     cloneCalls(s.history),
		Settings:    s.settings,
		Permissions: s.permissions,
	}, s.durableRevision
}

// RestoreDurable replaces history, settings and permissions. Restored history
// is trimmed to capacity and never shadows an active id.
func (s *Store) RestoreDurable(d Durable) {
	s.Apply(func(tx *Tx) {
		history := make([]call.Call, 0, len(d.History))
		seen := make(map[string]bool, len(d.History))
		for _, c := range d.History {
			if c.ID == "" || seen[c.ID] {
				continue
			}
			if _, active := tx.s.active[c.ID]; active {
				continue
			}
			seen[c.ID] = true
			history = append(history, c.Clone())
			if len(history) == tx.s.capacity {
				break
			}
		}
		tx.s.history = history
		tx.s.settings = d.Settings
		if d.Permissions.Microphone == "" {
			d.Permissions = settings.DefaultPermissions()
		}
		tx.s.permissions = d.Permissions
		tx.touch(true)
	})
}

func (s *Store) DurableRevision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durableRevision
}

// MemoryPersistence keeps the durable state in process.
type MemoryPersistence struct {
	mu    sync.Mutex
	state *Durable
	saves int
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (m *MemoryPersistence) Load(ctx context.Context) (Durable, bool, error) {
	if err := ctx.Err(); err != nil {
		return Durable{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return Durable{}, false, nil
	}
	out := *m.state
	out.History = cloneCalls(m.state.History)
	return out, true, nil
}

func (m *MemoryPersistence) Save(ctx context.Context, d Durable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d.History = cloneCalls(d.History)
	m.state = &d
	m.saves++
	return nil
}

// Saves reports how many times Save succeeded.
func (m *MemoryPersistence) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
