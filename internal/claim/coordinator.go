// Package claim decides who gets a job. The coordinator is the only component
// allowed to write a job's assignment, and it only ever does so through the
// store's conditional-update transaction.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/repairgrid/dispatch/internal/store"
	"github.com/repairgrid/dispatch/pkg/models"
)

// Publisher emits job events for the change notifier.
type Publisher interface {
	Publish(ctx context.Context, event models.JobEvent) error
}

// Coordinator resolves concurrent claim attempts to a single winner.
type Coordinator struct {
	store         store.Store
	publisher     Publisher
	maxActive     int
	retryAttempts int
	retryBackoff  time.Duration
}

// NewCoordinator creates a Coordinator. maxActive caps a technician's
// concurrently held jobs; transient storage failures are retried up to
// retryAttempts times with linear backoff. Races are never retried.
func NewCoordinator(st store.Store, pub Publisher, maxActive, retryAttempts int, retryBackoff time.Duration) *Coordinator {
	return &Coordinator{
		store:         st,
		publisher:     pub,
		maxActive:     maxActive,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
	}
}

// Claim attempts to assign the job to the technician.
//
// Outcomes map onto sentinel errors the caller can branch on: nil (won, or
// already held by this technician), store.ErrAlreadyClaimed (lost the race),
// store.ErrNotEligible (zone or capacity), store.ErrNotFound (no such job or
// technician), store.ErrUnavailable (storage broke after retries). A client
// whose earlier call timed out retries the same pair and lands on the
// idempotent path.
func (c *Coordinator) Claim(ctx context.Context, jobID, technicianID uuid.UUID) (*models.Job, error) {
	var (
		job     *models.Job
		claimed bool
		err     error
	)
	for attempt := 0; ; attempt++ {
		job, claimed, err = c.store.ClaimJob(ctx, jobID, technicianID, c.maxActive)
		if err == nil || !errors.Is(err, store.ErrUnavailable) || attempt >= c.retryAttempts {
			break
		}
		slog.Warn("claim retry after transient store error",
			"job_id", jobID, "technician_id", technicianID, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("claim cancelled: %w", ctx.Err())
		case <-time.After(c.retryBackoff * time.Duration(attempt+1)):
		}
	}

	c.recordAttempt(jobID, technicianID, claimed, err)

	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", jobID, err)
	}

	if claimed {
		slog.Info("job claimed", "job_id", jobID, "technician_id", technicianID)
		if pubErr := c.publisher.Publish(ctx, models.JobEvent{
			Type:  models.EventJobRemoved,
			JobID: job.ID,
			Zone:  job.ServiceZone,
		}); pubErr != nil {
			// Connected sessions still converge via the store trigger path.
			slog.Error("publish claim event failed", "job_id", jobID, "error", pubErr)
		}
	}

	return job, nil
}

// recordAttempt appends to the audit log. Best effort: the log informs race
// debugging and metrics but carries no authority over job state.
func (c *Coordinator) recordAttempt(jobID, technicianID uuid.UUID, claimed bool, claimErr error) {
	outcome := models.ClaimOutcomeWon
	switch {
	case claimErr == nil && !claimed:
		outcome = models.ClaimOutcomeDuplicate
	case errors.Is(claimErr, store.ErrAlreadyClaimed):
		outcome = models.ClaimOutcomeLost
	case errors.Is(claimErr, store.ErrNotEligible):
		outcome = models.ClaimOutcomeNotEligible
	case claimErr != nil:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.RecordClaimAttempt(ctx, &models.ClaimAttempt{
		ID:           uuid.New(),
		JobID:        jobID,
		TechnicianID: technicianID,
		Outcome:      outcome,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		slog.Warn("record claim attempt failed", "job_id", jobID, "error", err)
	}
}
