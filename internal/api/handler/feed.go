package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/repairgrid/dispatch/internal/api/middleware"
	"github.com/repairgrid/dispatch/internal/api/response"
	"github.com/repairgrid/dispatch/internal/store"
	"github.com/repairgrid/dispatch/pkg/models"
)

// Feeder defines the interface the feed handler depends on.
type Feeder interface {
	Feed(ctx context.Context, technicianID uuid.UUID) ([]models.FeedEntry, error)
}

// NewFeedHandler returns an http.HandlerFunc for GET /api/v1/feed.
//
// The feed returned is the caller's own unless the token carries the agent
// scope and names another technician via ?technician_id.
func NewFeedHandler(svc Feeder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		technicianID, ok := resolveTechnician(w, r)
		if !ok {
			return
		}

		entries, err := svc.Feed(r.Context(), technicianID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		items := make([]feedItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, feedItem{
				JobID: e.Job.ID,
				Score: e.Score,
				Label: e.Label,
				Job:   e.Job,
			})
		}
		response.JSON(w, items)
	}
}

type feedItem struct {
	JobID uuid.UUID  `json:"job_id"`
	Score float64    `json:"score"`
	Label string     `json:"label,omitempty"`
	Job   models.Job `json:"job"`
}

// resolveTechnician picks the acting technician: the authenticated one, or an
// explicit technician_id for agent-scoped tokens.
func resolveTechnician(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	authID, ok := mw.GetTechnicianID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing technician identity", nil)
		return uuid.Nil, false
	}

	raw := r.URL.Query().Get("technician_id")
	if raw == "" {
		return authID, true
	}

	requested, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "technician_id must be a UUID", nil)
		return uuid.Nil, false
	}
	if requested != authID && !mw.HasScope(r, mw.ScopeAgent) {
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "Cannot act for another technician", nil)
		return uuid.Nil, false
	}
	return requested, true
}

// writeDomainError maps core errors onto the wire taxonomy. Only TRANSIENT is
// worth an automatic client retry; the rest are terminal outcomes the
// technician needs to see undiluted.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND",
			"This job or technician is no longer available", nil)
	case errors.Is(err, store.ErrAlreadyClaimed):
		response.Error(w, http.StatusConflict, "ALREADY_CLAIMED",
			"Someone else got this job", nil)
	case errors.Is(err, store.ErrNotEligible):
		response.Error(w, http.StatusUnprocessableEntity, "NOT_ELIGIBLE",
			"Job is outside your zones or you are at capacity", nil)
	case errors.Is(err, store.ErrUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "TRANSIENT",
			"Temporary storage problem, try again", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
