package services

import (
	"encoding/json"

	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/events"
	"clinic-phone/internal/store"
)

// EventMutation maps a backend event to the store mutation it implies.
// It has no side effects; events without a state effect map to nil.
func EventMutation(e events.Event) store.Mutation {
	switch ev := e.(type) {
	case *events.RegisteredEvent:
		return func(tx *store.Tx) { tx.SetRegistration(call.RegistrationRegistered, "") }

	case *events.UnregisteredEvent:
		return func(tx *store.Tx) { tx.SetRegistration(call.RegistrationUnregistered, "") }

	case *events.RegistrationErrorEvent:
		return func(tx *store.Tx) { tx.SetRegistration(call.RegistrationFailed, ev.Message) }

	case *events.IncomingEvent:
		return func(tx *store.Tx) {
			tx.AddCall(call.NewInbound(ev.CallID, ev.Peer, ev.DisplayName, ev.Timestamp))
			tx.PresentIncoming(ev.CallID)
		}

	case *events.RingingEvent:
		return updateLive(ev.CallID, func(c *call.Call) {
			if c.State == call.StateDialing {
				c.State = call.StateRingingOut
			}
		})

	case *events.ConnectedEvent:
		return func(tx *store.Tx) {
			tx.UpdateCall(ev.CallID, func(c *call.Call) {
				if c.State.IsTerminal() {
					return
				}
				c.State = call.StateInCall
				c.OnHold = false
				c.MarkAnswered(ev.Timestamp)
			})
			if _, ok := tx.Call(ev.CallID); ok {
				tx.SetActiveCall(ev.CallID)
			}
			tx.DismissIncoming(ev.CallID)
		}

	case *events.EndedEvent:
		return func(tx *store.Tx) { tx.EndCall(ev.CallID, ev.Disposition, ev.Timestamp) }

	case *events.ErrorEvent:
		return func(tx *store.Tx) {
			tx.UpdateCall(ev.CallID, func(c *call.Call) {
				c.State = call.StateError
				c.ErrorMessage = ev.Message
			})
			tx.EndCall(ev.CallID, call.DispositionFailed, ev.Timestamp)
		}

	case *events.RemoteAudioEvent:
		return updateLive(ev.CallID, func(c *call.Call) { c.RemoteStreamID = ev.Stream.ID })

	case *events.HeldEvent:
		return updateLive(ev.CallID, func(c *call.Call) {
			if !call.CanHold(c.State) {
				return
			}
			c.OnHold = ev.OnHold
			if ev.OnHold {
				c.State = call.StateOnHold
			} else {
				c.State = call.StateInCall
			}
		})

	case *events.TransferInitiatedEvent:
		return updateLive(ev.CallID, func(c *call.Call) {
			c.State = call.StateTransferring
			c.OnHold = false
			c.TransferTarget = ev.Target
		})

	case *events.TransferCompletedEvent:
		return updateLive(ev.CallID, func(c *call.Call) { c.TransferTarget = ev.Target })
	}
	return nil
}

// updateLive applies fn only while the call is not in a terminal state.
func updateLive(id string, fn func(*call.Call)) store.Mutation {
	return func(tx *store.Tx) {
		tx.UpdateCall(id, func(c *call.Call) {
			if !c.State.IsTerminal() {
				fn(c)
			}
		})
	}
}

// eventPayload flattens an event for the diagnostic log.
func eventPayload(e events.Event) map[string]any {
	out := map[string]any{}
	data, err := json.Marshal(e)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	delete(out, "type")
	delete(out, "timestamp")
	return out
}
