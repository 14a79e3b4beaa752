package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/repairgrid/dispatch/internal/api/middleware"
	"github.com/repairgrid/dispatch/internal/api/response"
	"github.com/repairgrid/dispatch/internal/store"
	"github.com/repairgrid/dispatch/pkg/models"
)

// NewRegisterDeviceHandler returns an http.HandlerFunc for POST /api/v1/devices.
// The endpoint registry is what the push dispatcher fans out to.
func NewRegisterDeviceHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		technicianID, ok := mw.GetTechnicianID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing technician identity", nil)
			return
		}

		var req struct {
			Platform string `json:"platform"`
			Endpoint string `json:"endpoint"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Endpoint == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "endpoint is required", nil)
			return
		}
		if !strings.HasPrefix(req.Endpoint, "http://") && !strings.HasPrefix(req.Endpoint, "https://") {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "endpoint must be an HTTP(S) URL", nil)
			return
		}
		if req.Platform == "" {
			req.Platform = "unknown"
		}

		ep := &models.PushEndpoint{
			ID:           uuid.New(),
			TechnicianID: technicianID,
			Platform:     req.Platform,
			Endpoint:     req.Endpoint,
			CreatedAt:    time.Now().UTC(),
		}
		if err := st.CreatePushEndpoint(r.Context(), ep); err != nil {
			writeDomainError(w, err)
			return
		}

		response.Created(w, ep)
	}
}

// NewRemoveDeviceHandler returns an http.HandlerFunc for DELETE /api/v1/devices/{deviceID}.
func NewRemoveDeviceHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		technicianID, ok := mw.GetTechnicianID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing technician identity", nil)
			return
		}

		deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "deviceID must be a UUID", nil)
			return
		}

		if err := st.DeletePushEndpoint(r.Context(), deviceID, technicianID); err != nil {
			writeDomainError(w, err)
			return
		}

		response.JSON(w, map[string]any{"deleted": deviceID})
	}
}
