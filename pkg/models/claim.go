package models

import (
	"time"

	"github.com/google/uuid"
)

// Claim attempt outcomes recorded in the audit log.
const (
	ClaimOutcomeWon         = "won"
	ClaimOutcomeDuplicate   = "duplicate"
	ClaimOutcomeLost        = "lost"
	ClaimOutcomeNotEligible = "not_eligible"
)

// ClaimAttempt is an append-only audit record of one claim call. It carries no
// authority over job state; only the conditional update on the job row does.
type ClaimAttempt struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	JobID        uuid.UUID `db:"job_id"        json:"job_id"`
	TechnicianID uuid.UUID `db:"technician_id" json:"technician_id"`
	Outcome      string    `db:"outcome"       json:"outcome"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}
