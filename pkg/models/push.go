package models

import (
	"time"

	"github.com/google/uuid"
)

// PushEndpoint is a registered push destination for one technician device.
type PushEndpoint struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	TechnicianID uuid.UUID `db:"technician_id" json:"technician_id"`
	Platform     string    `db:"platform"      json:"platform"`
	Endpoint     string    `db:"endpoint"      json:"endpoint"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}

// PushMessage is the payload delivered through the push gateway.
type PushMessage struct {
	Endpoint string `json:"endpoint"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	DeepLink string `json:"deep_link"`
}
