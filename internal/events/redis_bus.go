package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisEventBus mirrors phone events onto Redis Pub/Sub so other processes
// can follow the line, and fans received envelopes out to local handlers.
type RedisEventBus struct {
	client    *redis.Client
	resolver  ChannelResolver
	sessionID string
	logger    *zap.Logger
	local     *Broadcaster
	pubsub    *redis.PubSub
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
}

func NewRedisEventBus(client *redis.Client, resolver ChannelResolver, sessionID string, logger *zap.Logger) *RedisEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client:    client,
		resolver:  resolver,
		sessionID: sessionID,
		logger:    logger,
		local:     NewBroadcaster(logger),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (b *RedisEventBus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	b.pubsub = b.client.Subscribe(b.ctx, PhoneEventsChannel)
	if _, err := b.pubsub.Receive(b.ctx); err != nil {
		_ = b.pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", PhoneEventsChannel, err)
	}
	b.running = true
	go b.listen(b.pubsub.Channel())
	return nil
}

func (b *RedisEventBus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel()
	b.running = false
	b.local.Close()
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

func (b *RedisEventBus) Publish(ctx context.Context, event Event) error {
	env, err := NewEnvelope(event, b.sessionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	for _, channel := range b.resolver.ResolveChannels(event) {
		if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", channel, err)
		}
	}
	return nil
}

// Forward returns a handler that publishes every event it receives.
// Publish failures are logged and swallowed.
func (b *RedisEventBus) Forward() Handler {
	return func(e Event) {
		if err := b.Publish(b.ctx, e); err != nil {
			b.logger.Warn("redis event publish failed",
				zap.String("event_type", string(e.Type())),
				zap.Error(err),
			)
		}
	}
}

// Subscribe receives events read back from Redis, in channel order.
func (b *RedisEventBus) Subscribe(h Handler) func() {
	return b.local.Subscribe(h)
}

func (b *RedisEventBus) listen(ch <-chan *redis.Message) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed envelope", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			event, err := env.Decode()
			if err != nil {
				b.logger.Warn("dropping undecodable envelope", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			b.local.Publish(event)
		}
	}
}
