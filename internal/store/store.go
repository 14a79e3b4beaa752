package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/repairgrid/dispatch/pkg/models"
)

// Sentinel errors for claim and lookup outcomes. Callers distinguish "someone
// else got it" from "something broke" with errors.Is, so these must never be
// collapsed into a generic failure.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyClaimed = errors.New("job already claimed")
	ErrNotEligible    = errors.New("technician not eligible")
	ErrUnavailable    = errors.New("storage unavailable")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ListClaimableJobs returns confirmed, unassigned jobs in any of the given
	// zones, ordered by confirmed_at ascending.
	ListClaimableJobs(ctx context.Context, zones []string) ([]*models.Job, error)
	// ClaimJob atomically assigns the job to the technician. The status
	// transition and the technician's active_jobs increment happen in one
	// transaction; the winner is decided by a conditional update, never by a
	// read-then-write. Re-claiming a job already held by the same technician
	// succeeds without side effects, reporting claimed=false.
	ClaimJob(ctx context.Context, jobID, technicianID uuid.UUID, maxActive int) (job *models.Job, claimed bool, err error)

	GetTechnician(ctx context.Context, id uuid.UUID) (*models.Technician, error)
	SetTechnicianStatus(ctx context.Context, id uuid.UUID, status string) error
	ListOfflineTechniciansInZone(ctx context.Context, zone string) ([]*models.Technician, error)

	GetAccessTokensByPrefix(ctx context.Context, prefix string) ([]*models.AccessToken, error)
	UpdateTokenLastUsed(ctx context.Context, id uuid.UUID) error

	CreatePushEndpoint(ctx context.Context, ep *models.PushEndpoint) error
	ListPushEndpoints(ctx context.Context, technicianID uuid.UUID) ([]*models.PushEndpoint, error)
	DeletePushEndpoint(ctx context.Context, id, technicianID uuid.UUID) error

	RecordClaimAttempt(ctx context.Context, attempt *models.ClaimAttempt) error
}
