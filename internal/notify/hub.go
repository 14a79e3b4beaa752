package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/repairgrid/dispatch/internal/store"
	"github.com/repairgrid/dispatch/pkg/models"
)

// sessionBuffer bounds how far a slow consumer may fall behind before the hub
// drops it. A dropped client reconnects and re-pulls the full feed, which is
// the documented recovery path; events are not queued per subscriber.
const sessionBuffer = 32

// Session is one connected technician client. Events are consumed from
// Events(); the channel closes when the hub drops the session. Sends and the
// close both happen under the hub's mutex, never concurrently.
type Session struct {
	TechnicianID uuid.UUID
	Zones        []string

	events chan models.JobEvent
	once   sync.Once
}

// Events returns the session's event stream.
func (s *Session) Events() <-chan models.JobEvent {
	return s.events
}

func (s *Session) close() {
	s.once.Do(func() { close(s.events) })
}

// Hub tracks connected sessions and fans broker events out to them. Additions
// go only to sessions covering the job's zone; removals go to every session,
// since a client may have the job cached from an earlier zone list.
type Hub struct {
	store store.Store

	mu       sync.Mutex
	sessions map[*Session]struct{}
	perTech  map[uuid.UUID]int
}

// NewHub creates a Hub.
func NewHub(st store.Store) *Hub {
	return &Hub{
		store:    st,
		sessions: make(map[*Session]struct{}),
		perTech:  make(map[uuid.UUID]int),
	}
}

// Register adds a session for the technician and marks them online on their
// first concurrent session.
func (h *Hub) Register(ctx context.Context, technicianID uuid.UUID, zones []string) *Session {
	s := &Session{
		TechnicianID: technicianID,
		Zones:        zones,
		events:       make(chan models.JobEvent, sessionBuffer),
	}

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.perTech[technicianID]++
	first := h.perTech[technicianID] == 1
	h.mu.Unlock()

	if first {
		if err := h.store.SetTechnicianStatus(ctx, technicianID, models.TechnicianOnline); err != nil {
			slog.Warn("mark technician online failed", "technician_id", technicianID, "error", err)
		}
	}
	return s
}

// Unregister removes a session and marks the technician offline when no
// sessions remain.
func (h *Hub) Unregister(ctx context.Context, s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	h.perTech[s.TechnicianID]--
	last := h.perTech[s.TechnicianID] == 0
	if last {
		delete(h.perTech, s.TechnicianID)
	}
	// Closed inside the critical section so Broadcast, which sends while
	// holding the same lock, can never hit a closed channel.
	s.close()
	h.mu.Unlock()

	if last {
		if err := h.store.SetTechnicianStatus(ctx, s.TechnicianID, models.TechnicianOffline); err != nil {
			slog.Warn("mark technician offline failed", "technician_id", s.TechnicianID, "error", err)
		}
	}
}

// Run consumes broker events until ctx ends.
func (h *Hub) Run(ctx context.Context, broker Broker) error {
	events, stop, err := broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.Broadcast(ctx, ev)
		}
	}
}

// Broadcast delivers one event to the matching sessions. The non-blocking
// sends run under the lock; a session whose buffer is full is dropped after.
func (h *Hub) Broadcast(ctx context.Context, ev models.JobEvent) {
	h.mu.Lock()
	var slow []*Session
	for s := range h.sessions {
		if ev.Type != models.EventJobRemoved && !coversZone(s.Zones, ev.Zone) {
			continue
		}
		select {
		case s.events <- ev:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		slog.Warn("dropping slow session", "technician_id", s.TechnicianID)
		h.Unregister(ctx, s)
	}
}

func coversZone(zones []string, zone string) bool {
	for _, z := range zones {
		if z == zone {
			return true
		}
	}
	return false
}
