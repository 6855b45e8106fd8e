package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// DefaultEventChannel is the Redis channel events are forwarded to.
const DefaultEventChannel = "learnsphere:events"

// RemoteEnvelope is the message published on the Redis channel.
type RemoteEnvelope struct {
	InstanceID string `json:"instance_id"`
	shared.EventEnvelope
}

// RedisForwarder republishes every committed event on a Redis Pub/Sub
// channel for consumers outside this process. It never feeds remote
// messages back into the local bus, so side effects such as emails run
// exactly once, on the instance that made the write.
type RedisForwarder struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// RedisForwarderConfig configures a RedisForwarder.
type RedisForwarderConfig struct {
	Channel    string
	InstanceID string
	Logger     *logger.Logger
}

// NewRedisForwarder creates a forwarder. Attach it with Attach.
func NewRedisForwarder(client *redis.Client, cfg RedisForwarderConfig) (*RedisForwarder, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultEventChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &RedisForwarder{
		client:     client,
		channel:    cfg.Channel,
		instanceID: cfg.InstanceID,
		logger:     cfg.Logger.With(logger.Component("redis_forwarder")),
	}, nil
}

// Attach subscribes the forwarder to every event of the bus.
func (f *RedisForwarder) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(func(event shared.Event) error {
		return f.Forward(context.Background(), event)
	})
}

// Forward publishes one event.
func (f *RedisForwarder) Forward(ctx context.Context, event shared.Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrEventBusClosed
	}

	env, err := shared.NewEventEnvelope(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data, err := json.Marshal(RemoteEnvelope{InstanceID: f.instanceID, EventEnvelope: env})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close stops forwarding. The client is owned by the caller.
func (f *RedisForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Listen consumes the channel until ctx is done, calling fn for each
// envelope. Malformed messages are logged and skipped.
func Listen(ctx context.Context, client *redis.Client, channel string, log *logger.Logger, fn func(RemoteEnvelope)) error {
	if channel == "" {
		channel = DefaultEventChannel
	}
	if log == nil {
		log = logger.Nop()
	}

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env RemoteEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn("skipping malformed event", logger.Err(err))
				continue
			}
			fn(env)
		}
	}
}
