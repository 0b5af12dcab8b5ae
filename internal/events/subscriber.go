package events

// Handler receives events in emission order.
type Handler func(Event)

// Subscriber is anything events can be consumed from: the in-process
// broadcaster or the Redis bus.
type Subscriber interface {
	Subscribe(h Handler) (unsubscribe func())
}
