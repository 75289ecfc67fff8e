package alerting

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "memepulse:events"

// NewRedisClient connects to redis and verifies it answers.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// RedisPublisher publishes encoded events on a redis channel so every instance can relay them.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher constructs a publisher on channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends the event to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Name, err)
	}
	return nil
}

// Broadcaster accepts already encoded frames.
type Broadcaster interface {
	Broadcast(payload []byte) int
}

// RedisRelay forwards frames received on a redis channel to a local broadcaster.
type RedisRelay struct {
	client  *redis.Client
	channel string
	target  Broadcaster
	logger  zerolog.Logger
}

// NewRedisRelay constructs a relay from channel to target.
func NewRedisRelay(client *redis.Client, channel string, target Broadcaster, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		target:  target,
		logger:  logger.With().Str("component", "redis_relay").Str("channel", channel).Logger(),
	}
}

// Run blocks relaying messages until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n := r.target.Broadcast([]byte(msg.Payload))
			r.logger.Debug().Int("delivered", n).Msg("relayed frame")
		}
	}
}

var _ Publisher = (*RedisPublisher)(nil)
