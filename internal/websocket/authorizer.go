package websocket

import (
	"strings"

	"clinic-phone/internal/events"
)

// ChannelAuthorizer decides which channels a push client may join.
type ChannelAuthorizer struct {
	maxPerClient int
}

func NewChannelAuthorizer(maxPerClient int) *ChannelAuthorizer {
	if maxPerClient <= 0 {
		maxPerClient = 16
	}
	return &ChannelAuthorizer{maxPerClient: maxPerClient}
}

// CanSubscribe allows the shared phone channel and per call channels.
// The line has a single operator, so any call channel is visible to it.
func (a *ChannelAuthorizer) CanSubscribe(client *Client, channel string) bool {
	if len(client.GetChannels()) >= a.maxPerClient && !client.IsSubscribed(channel) {
		return false
	}
	if channel == events.PhoneEventsChannel {
		return true
	}
	if strings.HasPrefix(channel, events.CallChannelPrefix) {
		return strings.TrimPrefix(channel, events.CallChannelPrefix) != ""
	}
	return false
}
