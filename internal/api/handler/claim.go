package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/repairgrid/dispatch/internal/api/middleware"
	"github.com/repairgrid/dispatch/internal/api/response"
	"github.com/repairgrid/dispatch/pkg/models"
)

// Claimer defines the interface the claim handler depends on.
type Claimer interface {
	Claim(ctx context.Context, jobID, technicianID uuid.UUID) (*models.Job, error)
}

// NewClaimHandler returns an http.HandlerFunc for POST /api/v1/claims.
func NewClaimHandler(svc Claimer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		technicianID, ok := mw.GetTechnicianID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing technician identity", nil)
			return
		}

		var req struct {
			JobID        string `json:"job_id"`
			TechnicianID string `json:"technician_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.JobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id is required", nil)
			return
		}
		jobID, err := uuid.Parse(req.JobID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id must be a UUID", nil)
			return
		}

		// Agents may claim on another technician's behalf.
		actingID := technicianID
		if req.TechnicianID != "" {
			requested, err := uuid.Parse(req.TechnicianID)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "technician_id must be a UUID", nil)
				return
			}
			if requested != technicianID && !mw.HasScope(r, mw.ScopeAgent) {
				response.Error(w, http.StatusForbidden, "FORBIDDEN", "Cannot act for another technician", nil)
				return
			}
			actingID = requested
		}

		job, err := svc.Claim(r.Context(), jobID, actingID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		response.JSON(w, claimResponse{Success: true, Job: *job})
	}
}

type claimResponse struct {
	Success bool       `json:"success"`
	Job     models.Job `json:"job"`
}
