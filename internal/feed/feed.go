// Package feed produces the ranked list of claimable jobs for one technician.
// It is a pure read-plus-compute layer: no call in this package mutates
// anything, so clients may refresh as often as they like.
package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/repairgrid/dispatch/internal/store"
	"github.com/repairgrid/dispatch/pkg/models"
)

// Service generates technician feeds.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a feed Service.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Feed returns the technician's claimable jobs ordered best-first: score
// descending, then earliest confirmation (fairness), then id for a total
// order. Jobs outside the technician's zones are filtered at the store, so a
// job the technician cannot claim never appears.
func (s *Service) Feed(ctx context.Context, technicianID uuid.UUID) ([]models.FeedEntry, error) {
	tech, err := s.store.GetTechnician(ctx, technicianID)
	if err != nil {
		return nil, fmt.Errorf("resolve technician: %w", err)
	}

	jobs, err := s.store.ListClaimableJobs(ctx, tech.Zones)
	if err != nil {
		return nil, fmt.Errorf("list claimable jobs: %w", err)
	}

	now := s.now().UTC()
	entries := make([]models.FeedEntry, 0, len(jobs))
	for _, job := range jobs {
		score := Score(job, tech, now)
		entries = append(entries, models.FeedEntry{
			Job:   *job,
			Score: score,
			Label: Label(score),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		ci, cj := entries[i].Job.ConfirmedAt, entries[j].Job.ConfirmedAt
		if ci != nil && cj != nil && !ci.Equal(*cj) {
			return ci.Before(*cj)
		}
		return entries[i].Job.ID.String() < entries[j].Job.ID.String()
	})

	return entries, nil
}
