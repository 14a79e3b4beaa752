package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/repairgrid/dispatch/internal/api/response"
)

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				attrs := []any{
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				}
				// Auth runs before this fires on protected routes, so the
				// acting technician is usually known.
				if technicianID, ok := GetTechnicianID(r); ok {
					attrs = append(attrs, "technician_id", technicianID)
				}
				slog.Error("panic recovered", attrs...)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
