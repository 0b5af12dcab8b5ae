package events

import (
	"fmt"
)

const (
	PhoneEventsChannel = "channel:phone:events"
	CallChannelPrefix  = "channel:phone:call:"
)

// ChannelResolver determines which Redis channels to publish to
type ChannelResolver interface {
	ResolveChannels(event Event) []string
}

// PhoneChannelResolver sends every event to the shared phone channel and
// call scoped events to the per call channel as well.
type PhoneChannelResolver struct{}

func NewPhoneChannelResolver() *PhoneChannelResolver {
	return &PhoneChannelResolver{}
}

func (r *PhoneChannelResolver) ResolveChannels(event Event) []string {
	channels := []string{PhoneEventsChannel}
	if id := CallIDOf(event); id != "" {
		channels = append(channels, CallChannel(id))
	}
	return channels
}

func CallChannel(callID string) string {
	return fmt.Sprintf("%s%s", CallChannelPrefix, callID)
}
