package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/pkg/types"
)

// NewRedisClient parses a redis:// URL and pings the server with a short timeout.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisBus publishes each event as a JSON envelope on channel "<prefix>.<kind>".
// Pub/sub is fire-and-forget: subscribers that are not connected miss events.
type RedisBus struct {
	Client *redis.Client
	Prefix string
	Log    logger.Logger
}

func (b *RedisBus) channel(kind types.EventKind) string {
	return b.Prefix + "." + string(kind)
}

func (b *RedisBus) kindOf(channel string) types.EventKind {
	return types.EventKind(strings.TrimPrefix(channel, b.Prefix+"."))
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Client.Publish(ctx, b.channel(ev.Kind), body).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, kinds []types.EventKind, handle Handler) error {
	log := b.Log
	if log == nil {
		log = logger.NewNop()
	}

	var sub *redis.PubSub
	if len(kinds) == 0 {
		sub = b.Client.PSubscribe(ctx, b.Prefix+".*")
	} else {
		channels := make([]string, 0, len(kinds))
		for _, k := range kinds {
			channels = append(channels, b.channel(k))
		}
		sub = b.Client.Subscribe(ctx, channels...)
	}
	defer func() { _ = sub.Close() }()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			ev, err := b.decode(msg.Channel, msg.Payload)
			if err != nil {
				log.Warn("drop malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			if err := handle(ctx, ev); err != nil {
				log.Warn("event handler failed", "kind", ev.Kind, "id", ev.ID, "error", err)
			}
		}
	}
}

func (b *RedisBus) decode(channel, payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	if ev.Kind == "" {
		ev.Kind = b.kindOf(channel)
	}
	return ev, nil
}
