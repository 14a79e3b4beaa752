package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusConfirmed  = "confirmed"
	JobStatusAssigned   = "assigned"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// Pricing tiers, ordered cheapest to most expensive.
const (
	TierEconomy  = "economy"
	TierStandard = "standard"
	TierPremium  = "premium"
)

// Job is one schedulable unit of repair work. A job is claimable while its
// status is "confirmed" and no technician is assigned; the assignment field is
// written exactly once, by the claim coordinator's conditional update.
type Job struct {
	ID            uuid.UUID  `db:"id"             json:"id"`
	ReferenceCode string     `db:"reference_code" json:"reference_code"`
	Device        string     `db:"device"         json:"device"`
	Service       string     `db:"service"        json:"service"`
	ScheduledAt   time.Time  `db:"scheduled_at"   json:"scheduled_at"`
	WindowMinutes int        `db:"window_minutes" json:"window_minutes"`
	Address       string     `db:"address"        json:"address"`
	Latitude      float64    `db:"latitude"       json:"latitude"`
	Longitude     float64    `db:"longitude"      json:"longitude"`
	ServiceZone   string     `db:"service_zone"   json:"service_zone"`
	PriceCents    int64      `db:"price_cents"    json:"price_cents"`
	PricingTier   string     `db:"pricing_tier"   json:"pricing_tier"`
	Status        string     `db:"status"         json:"status"`
	TechnicianID  *uuid.UUID `db:"assigned_technician_id" json:"assigned_technician_id,omitempty"`
	ConfirmedAt   *time.Time `db:"confirmed_at"   json:"confirmed_at,omitempty"`
	AssignedAt    *time.Time `db:"assigned_at"    json:"assigned_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updated_at"`
}

// Claimable reports whether the job is currently open to claims.
func (j *Job) Claimable() bool {
	return j.Status == JobStatusConfirmed && j.TechnicianID == nil
}
