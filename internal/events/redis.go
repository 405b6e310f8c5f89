package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// DefaultChannel is the pub/sub channel used between worker and API.
const DefaultChannel = "dubber:events"

// RedisClient is the part of *redis.Client used for publishing.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher forwards events to a Redis channel.
type RedisPublisher struct {
	client  RedisClient
	channel string
}

// NewRedisPublisher constructs a publisher on channel.
func NewRedisPublisher(client RedisClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("events: redis publish: %w", err)
	}
	return nil
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Relay subscribes to channel and appends every event to bus until ctx is
// done. Worker-assigned sequence numbers are replaced by the bus's own.
func Relay(ctx context.Context, client *redis.Client, channel string, bus *Bus, logger *zerolog.Logger) error {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", channel, err)
	}
	l.Info().Str("channel", channel).Msg("events: relay subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				l.Warn().Err(err).Msg("events: dropping malformed event")
				continue
			}
			bus.Append(event)
		}
	}
}

func decodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, fmt.Errorf("events: decode: %w", err)
	}
	if event.JobID == "" || event.Type == "" {
		return Event{}, fmt.Errorf("events: incomplete event %q", payload)
	}
	event.Seq = 0
	return event, nil
}
