package websocket

import (
	"encoding/json"

	"clinic-phone/internal/events"
	"clinic-phone/internal/store"
)

// RemoteAudioElementID is the playback element clients attach remote media to.
const RemoteAudioElementID = "remoteAudio"

// Outbound message types.
const (
	MessageSnapshot = "snapshot"
	MessageEvent    = "event"
	MessageAck      = "ack"
	MessageError    = "error"
)

// Message is what the server pushes to clients.
type Message struct {
	Type      string           `json:"type"`
	Event     events.EventType `json:"event,omitempty"`
	Channel   string           `json:"channel,omitempty"`
	CallID    string           `json:"call_id,omitempty"`
	ElementID string           `json:"element_id,omitempty"`
	Revision  uint64           `json:"revision,omitempty"`
	Data      any              `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// ClientMessage is what clients may send.
type ClientMessage struct {
	Action  string `json:"action"` // subscribe, unsubscribe, snapshot, ping
	Channel string `json:"channel,omitempty"`
}

func encodeSnapshot(snap store.Snapshot) ([]byte, error) {
	return json.Marshal(Message{
		Type:     MessageSnapshot,
		Revision: snap.Revision,
		Data:     snap,
	})
}

func encodeEvent(e events.Event, channel string) ([]byte, error) {
	msg := Message{
		Type:    MessageEvent,
		Event:   e.Type(),
		Channel: channel,
		CallID:  events.CallIDOf(e),
		Data:    e,
	}
	if e.Type() == events.EventRemoteAudio {
		msg.ElementID = RemoteAudioElementID
	}
	return json.Marshal(msg)
}

func encodeReply(kind, channel, errMsg string) []byte {
	data, _ := json.Marshal(Message{Type: kind, Channel: channel, Error: errMsg})
	return data
}
