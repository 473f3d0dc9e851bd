package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultTopic = "chatsync:events"

// NewRedisClient parses url and pings the server.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// RedisBroadcaster publishes events to a pub/sub topic. Every node runs a
// Relay that feeds the topic back into its local hub.
type RedisBroadcaster struct {
	client *redis.Client
	topic  string
}

var _ Broadcaster = (*RedisBroadcaster)(nil)

func NewRedisBroadcaster(client *redis.Client, topic string) *RedisBroadcaster {
	if topic == "" {
		topic = DefaultTopic
	}
	return &RedisBroadcaster{client: client, topic: topic}
}

func (r *RedisBroadcaster) Broadcast(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.topic, b).Err()
}

// Relay forwards events published on topic into local. It blocks until ctx
// is cancelled.
func Relay(ctx context.Context, client *redis.Client, topic string, local Broadcaster, log *slog.Logger) error {
	if topic == "" {
		topic = DefaultTopic
	}
	sub := client.Subscribe(ctx, topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", topic, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn("relay: bad payload", "err", err)
				continue
			}
			if err := local.Broadcast(ctx, ev); err != nil {
				return err
			}
		}
	}
}
