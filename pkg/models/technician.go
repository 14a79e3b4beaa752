package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TechnicianOnline  = "online"
	TechnicianOffline = "offline"
)

// Technician is a field worker. Zones lists the service zones the technician
// covers, most-preferred first. ActiveJobs counts jobs in assigned or
// in_progress status and is maintained by the claim transaction.
type Technician struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	Name       string    `db:"name"        json:"name"`
	Status     string    `db:"status"      json:"status"`
	Zones      []string  `db:"zones"       json:"zones"`
	Skills     []string  `db:"skills"      json:"skills"`
	Rating     float64   `db:"rating"      json:"rating"`
	ActiveJobs int       `db:"active_jobs" json:"active_jobs"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}

// CoversZone reports whether zone is in the technician's covered zones.
func (t *Technician) CoversZone(zone string) bool {
	for _, z := range t.Zones {
		if z == zone {
			return true
		}
	}
	return false
}

// AccessToken authenticates a technician device or an agent acting on their
// behalf. Raw tokens are issued by the onboarding flow and shown once; only
// the bcrypt hash is stored here.
type AccessToken struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	TechnicianID uuid.UUID  `db:"technician_id" json:"technician_id"`
	TokenHash    string     `db:"token_hash"    json:"-"`
	TokenPrefix  string     `db:"token_prefix"  json:"token_prefix"`
	Scopes       []string   `db:"scopes"        json:"scopes"`
	LastUsedAt   *time.Time `db:"last_used_at"  json:"last_used_at,omitempty"`
	DeletedAt    *time.Time `db:"deleted_at"    json:"-"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
}
