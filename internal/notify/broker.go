// Package notify propagates job-availability changes: a Redis-backed broker
// fans events out across server instances, a hub delivers them to connected
// technician sessions, and a watcher feeds the broker from store notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/repairgrid/dispatch/pkg/models"
)

const eventChannel = "dispatch:job_events"

// Broker is a publish/subscribe transport for job events. Delivery is
// at-least-once with no cross-job ordering; subscribers must treat events as
// idempotent set-membership updates.
type Broker interface {
	Publish(ctx context.Context, event models.JobEvent) error
	// Subscribe returns a channel of events and a stop function. The channel
	// closes after stop is called or the context ends.
	Subscribe(ctx context.Context) (<-chan models.JobEvent, func(), error)
}

// RedisBroker implements Broker over Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker creates a RedisBroker from a Redis URL.
func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{client: redis.NewClient(opts)}, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func (b *RedisBroker) Publish(ctx context.Context, event models.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := b.client.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan models.JobEvent, func(), error) {
	sub := b.client.Subscribe(ctx, eventChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribe to job events: %w", err)
	}

	out := make(chan models.JobEvent)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev models.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("discarding malformed job event", "payload", msg.Payload, "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() { sub.Close() }
	return out, stop, nil
}
