package store

import (
	"time"

	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
)

// Tx exposes the mutation set to code running inside Apply.
type Tx struct {
	s       *Store
	changed bool
	durable bool
}

func (tx *Tx) touch(durable bool) {
	tx.changed = true
	if durable {
		tx.durable = true
	}
}

func (tx *Tx) SetRegistration(state call.RegistrationState, errMsg string) {
	tx.s.registration = state
	tx.s.registrationError = errMsg
	tx.touch(false)
}

// AddCall inserts c into the active registry unless the id is already known.
func (tx *Tx) AddCall(c call.Call) {
	if c.ID == "" || tx.known(c.ID) {
		return
	}
	stored := c.Clone()
	tx.s.active[c.ID] = &stored
	tx.touch(false)
}

func (tx *Tx) known(id string) bool {
	if _, ok := tx.s.active[id]; ok {
		return true
	}
	for _, c := range tx.s.history {
		if c.ID == id {
			return true
		}
	}
	return false
}

// UpdateCall applies fn to the active record id. The id itself cannot change.
func (tx *Tx) UpdateCall(id string, fn func(*call.Call)) {
	c, ok := tx.s.active[id]
	if !ok || fn == nil {
		return
	}
	fn(c)
	c.ID = id
	tx.touch(false)
}

// Call returns a copy of the active record id.
func (tx *Tx) Call(id string) (call.Call, bool) {
	c, ok := tx.s.active[id]
	if !ok {
		return call.Call{}, false
	}
	return c.Clone(), true
}

// EndCall finishes the active record id and moves it to the head of history.
func (tx *Tx) EndCall(id string, disposition call.Disposition, at time.Time) {
	c, ok := tx.s.active[id]
	if !ok {
		return
	}
	c.Finish(disposition, at)
	delete(tx.s.active, id)

	tx.s.history = append([]call.Call{c.Clone()}, tx.s.history...)
	if len(tx.s.history) > tx.s.capacity {
		tx.s.history = tx.s.history[:tx.s.capacity]
	}
	if tx.s.activeCallID == id {
		tx.s.activeCallID = ""
	}
	if tx.s.presentedIncoming == id {
		tx.s.presentedIncoming = ""
	}
	tx.touch(true)
}

// SetActiveCall points at an active record; an unknown id clears the pointer.
func (tx *Tx) SetActiveCall(id string) {
	if _, ok := tx.s.active[id]; !ok {
		id = ""
	}
	tx.s.activeCallID = id
	tx.touch(false)
}

func (tx *Tx) SetDialBuffer(value string) {
	tx.s.dialBuffer = value
	tx.touch(false)
}

func (tx *Tx) PresentIncoming(id string) {
	if _, ok := tx.s.active[id]; !ok {
		id = ""
	}
	tx.s.presentedIncoming = id
	tx.touch(false)
}

// DismissIncoming clears the presented incoming call if it is id.
func (tx *Tx) DismissIncoming(id string) {
	if tx.s.presentedIncoming != id {
		return
	}
	tx.s.presentedIncoming = ""
	tx.touch(false)
}

func (tx *Tx) SetLastDialed(number string) {
	tx.s.lastDialed = number
	tx.touch(false)
}

func (tx *Tx) UpdateSettings(next settings.Settings) {
	tx.s.settings = next
	tx.touch(true)
}

func (tx *Tx) SetDevices(sel settings.DeviceSelection) {
	tx.s.settings.Devices = tx.s.settings.Devices.Merge(sel)
	tx.touch(true)
}

func (tx *Tx) SetPermission(state settings.PermissionState, at time.Time) {
	tx.s.permissions = settings.Permissions{Microphone: state, UpdatedAt: &at}
	tx.touch(true)
}

func (tx *Tx) ClearHistory() {
	tx.s.history = nil
	tx.touch(true)
}
