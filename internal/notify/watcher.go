package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/repairgrid/dispatch/internal/cache"
	"github.com/repairgrid/dispatch/internal/store"
	"github.com/repairgrid/dispatch/pkg/models"
)

const (
	// How long a claimed job stays on the dispatcher skip list. Long enough
	// to outlive any in-flight push fan-out.
	claimedMarkTTL = 24 * time.Hour
	// One instance wins the lease and runs the push fan-out for a job.
	dispatchLeaseTTL = 5 * time.Minute

	reconnectBackoff = 2 * time.Second
)

// Dispatcher sends push notifications for a newly claimable job.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// Watcher LISTENs on the job-change channel the store trigger feeds, so every
// mutation is observed regardless of which process performed it. Events are
// republished to the broker for connected sessions and, for new claimable
// jobs, handed to the push dispatcher under a Redis lease so the fan-out runs
// once across all instances.
type Watcher struct {
	pool       *pgxpool.Pool
	broker     Broker
	cache      cache.Cache
	store      store.Store
	dispatcher Dispatcher
}

// NewWatcher creates a Watcher.
func NewWatcher(pool *pgxpool.Pool, broker Broker, ca cache.Cache, st store.Store, d Dispatcher) *Watcher {
	return &Watcher{pool: pool, broker: broker, cache: ca, store: st, dispatcher: d}
}

// Run listens until ctx ends, reconnecting with backoff on connection loss.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("job event listener disconnected, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (w *Watcher) listen(ctx context.Context) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN job_events"); err != nil {
		return fmt.Errorf("listen job_events: %w", err)
	}
	slog.Info("watching job events")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		w.handle(ctx, notification.Payload)
	}
}

func (w *Watcher) handle(ctx context.Context, payload string) {
	var ev models.JobEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Warn("discarding malformed job notification", "payload", payload, "error", err)
		return
	}

	switch ev.Type {
	case models.EventJobRemoved:
		// Skip-list first so a racing push fan-out sees it as early as possible.
		if err := w.cache.MarkJobClaimed(ctx, ev.JobID, claimedMarkTTL); err != nil {
			slog.Warn("mark job claimed failed", "job_id", ev.JobID, "error", err)
		}
		if err := w.broker.Publish(ctx, ev); err != nil {
			slog.Error("republish removal failed", "job_id", ev.JobID, "error", err)
		}

	case models.EventJobAdded:
		if err := w.broker.Publish(ctx, ev); err != nil {
			slog.Error("republish addition failed", "job_id", ev.JobID, "error", err)
		}
		w.dispatchOnce(ctx, ev)

	default:
		slog.Warn("unknown job event type", "type", ev.Type, "job_id", ev.JobID)
	}
}

func (w *Watcher) dispatchOnce(ctx context.Context, ev models.JobEvent) {
	ok, err := w.cache.AcquireDispatchLease(ctx, ev.JobID, dispatchLeaseTTL)
	if err != nil {
		slog.Warn("acquire dispatch lease failed", "job_id", ev.JobID, "error", err)
		return
	}
	if !ok {
		return
	}

	job, err := w.store.GetJob(ctx, ev.JobID)
	if err != nil {
		slog.Error("load job for push dispatch failed", "job_id", ev.JobID, "error", err)
		return
	}
	if err := w.dispatcher.Dispatch(ctx, job); err != nil {
		slog.Error("push dispatch failed", "job_id", ev.JobID, "error", err)
	}
}
