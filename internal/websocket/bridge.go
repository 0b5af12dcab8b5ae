package websocket

import (
	"context"

	"clinic-phone/internal/events"
	"clinic-phone/internal/store"

	"go.uber.org/zap"
)

// SnapshotSource is the read-only view the bridge pushes after each change.
type SnapshotSource interface {
	Snapshot() store.Snapshot
	OnChange(fn func()) (remove func())
}

// Bridge forwards phone events and state snapshots to the hub.
type Bridge struct {
	subscriber events.Subscriber
	resolver   events.ChannelResolver
	snapshots  SnapshotSource
	hub        *Hub
	logger     *Logger
	dirty      chan struct{}
}

func NewBridge(subscriber events.Subscriber, resolver events.ChannelResolver, snapshots SnapshotSource, hub *Hub, logger *zap.Logger) *Bridge {
	return &Bridge{
		subscriber: subscriber,
		resolver:   resolver,
		snapshots:  snapshots,
		hub:        hub,
		logger:     NewLogger(logger),
		dirty:      make(chan struct{}, 1),
	}
}

// Start subscribes right away and pushes until ctx ends. Bursts of store
// changes coalesce into one snapshot carrying the latest revision.
func (b *Bridge) Start(ctx context.Context) {
	unsubscribe := b.subscriber.Subscribe(b.forward)
	removeListener := b.snapshots.OnChange(b.markDirty)
	go func() {
		defer unsubscribe()
		defer removeListener()
		b.loop(ctx)
	}()
}

func (b *Bridge) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.dirty:
			payload, err := b.SnapshotPayload()
			if err != nil {
				b.logger.Error("encode_snapshot", nil, err)
				continue
			}
			b.hub.Broadcast(events.PhoneEventsChannel, payload)
		}
	}
}

// SnapshotPayload encodes the current state for a push client.
func (b *Bridge) SnapshotPayload() ([]byte, error) {
	return encodeSnapshot(b.snapshots.Snapshot())
}

func (b *Bridge) markDirty() {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

func (b *Bridge) forward(e events.Event) {
	for _, channel := range b.resolver.ResolveChannels(e) {
		payload, err := encodeEvent(e, channel)
		if err != nil {
			b.logger.Error("encode_event", nil, err, zap.String("type", string(e.Type())))
			return
		}
		b.hub.Broadcast(channel, payload)
	}
}
