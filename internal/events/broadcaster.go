package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type subscription struct {
	id      uint64
	handler Handler
}

type queued struct {
	event   Event
	barrier chan struct{}
}

// Broadcaster delivers events to subscribers on a single goroutine so every
// subscriber observes the publish order. Publish never blocks.
type Broadcaster struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   []subscription
	nextID uint64
	queue  []queued
	closed bool

	wake chan struct{}
	done chan struct{}
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broadcaster{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe registers h. The returned func removes exactly this registration.
func (b *Broadcaster) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish enqueues e. Events published after Close are dropped.
func (b *Broadcaster) Publish(e Event) {
	b.enqueue(queued{event: e})
}

// Flush blocks until every event published before the call has been delivered.
func (b *Broadcaster) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !b.enqueue(queued{barrier: barrier}) {
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops dispatching once the queue drains.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

// Done is closed after the dispatch goroutine exits.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

func (b *Broadcaster) enqueue(item queued) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, item)
	b.mu.Unlock()
	b.signal()
	return true
}

func (b *Broadcaster) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for range b.wake {
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				closed := b.closed
				b.mu.Unlock()
				if closed {
					return
				}
				break
			}
			item := b.queue[0]
			b.queue[0] = queued{}
			b.queue = b.queue[1:]
			subs := append([]subscription(nil), b.subs...)
			b.mu.Unlock()

			if item.barrier != nil {
				close(item.barrier)
				continue
			}
			for _, s := range subs {
				b.deliver(s.handler, item.event)
			}
		}
	}
}

func (b *Broadcaster) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", string(e.Type())),
				zap.Any("panic", r),
			)
		}
	}()
	h(e)
}
