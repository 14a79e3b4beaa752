package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	mw "github.com/repairgrid/dispatch/internal/api/middleware"
	"github.com/repairgrid/dispatch/internal/api/response"
	"github.com/repairgrid/dispatch/internal/notify"
	"github.com/repairgrid/dispatch/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewStreamHandler returns an http.HandlerFunc for GET /api/v1/stream. It
// upgrades to a websocket and relays the hub's add/remove events until the
// client goes away. A client that reconnects after a gap must re-pull the feed
// first; nothing is replayed.
func NewStreamHandler(hub *notify.Hub, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		technicianID, ok := mw.GetTechnicianID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing technician identity", nil)
			return
		}

		tech, err := st.GetTechnician(r.Context(), technicianID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			slog.Warn("websocket upgrade failed", "technician_id", technicianID, "error", err)
			return
		}

		session := hub.Register(r.Context(), technicianID, tech.Zones)
		// The request context dies with the handler; disconnect bookkeeping
		// must still run.
		defer hub.Unregister(context.Background(), session)
		defer conn.Close()

		done := make(chan struct{})
		go readLoop(conn, done)
		writeLoop(conn, session, done)
	}
}

// readLoop discards client frames; its job is pong handling and noticing the
// peer is gone.
func readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeLoop(conn *websocket.Conn, session *notify.Session, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-session.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub dropped us (slow consumer); tell the client to
				// reconnect and resync.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync required"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
