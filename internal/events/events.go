// Package events broadcasts job lifecycle events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/docsift/internal/cache"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// JobStatusTTL is how long the mirrored job status stays in the cache.
const JobStatusTTL = 30 * time.Minute

// Notifier publishes events after the matching transition has been persisted.
type Notifier interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Subscriber streams published events.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan models.Event, func(), error)
}

// RedisNotifier publishes JSON events on a Redis channel and mirrors the job status
// into the cache for cheap polling.
type RedisNotifier struct {
	cache  cache.Cache
	logger *slog.Logger
}

func NewRedisNotifier(c cache.Cache, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{cache: c, logger: logger.With("component", "events")}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev models.Event) error {
	if err := n.cache.SetJobStatus(ctx, ev.JobID, string(ev.Status), JobStatusTTL); err != nil {
		n.logger.Warn("mirror job status failed", "job_id", ev.JobID, "error", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.cache.Publish(ctx, cache.EventsChannel, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded events and a function that ends the subscription.
// The channel closes when ctx ends or stop is called. Undecodable payloads are dropped.
func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan models.Event, func(), error) {
	sub, err := n.cache.Subscribe(ctx, cache.EventsChannel)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe events: %w", err)
	}

	out := make(chan models.Event, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub.Messages():
				if !ok {
					return
				}
				var ev models.Event
				if err := json.Unmarshal(raw, &ev); err != nil {
					n.logger.Debug("dropping malformed event", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, models.Event) error { return nil }
