// Package models contains shared data models used across the dispatch codebase.
package models

import "github.com/google/uuid"

// Job event types carried over the realtime channel.
const (
	EventJobAdded   = "added"
	EventJobRemoved = "removed"
)

// JobEvent announces a change in a job's claimability. Delivery is
// at-least-once and unordered across jobs; receivers must apply events as
// idempotent set-membership updates, never positional edits.
type JobEvent struct {
	Type  string    `json:"type"`
	JobID uuid.UUID `json:"job_id"`
	Zone  string    `json:"zone"`
}
