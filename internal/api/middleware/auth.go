package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/repairgrid/dispatch/internal/api/response"
	"github.com/repairgrid/dispatch/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const tokenPrefixLen = 8

// ScopeAgent lets a token act on behalf of technicians other than its own,
// e.g. a support operator claiming for someone on the phone.
const ScopeAgent = "agent"

// Auth validates technician access tokens. Token issuance lives in the
// onboarding flow; this middleware only verifies.
type Auth struct {
	store store.Store
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token against the stored bcrypt hashes and
// sets technician_id, token_prefix, and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken := extractBearerToken(r)
		if rawToken == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawToken) < tokenPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid access token format", nil)
			return
		}

		prefix := rawToken[:tokenPrefixLen]

		tokens, err := a.store.GetAccessTokensByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate access token", nil)
			return
		}

		var matched bool
		for _, tok := range tokens {
			if bcrypt.CompareHashAndPassword([]byte(tok.TokenHash), []byte(rawToken)) == nil {
				ctx := r.Context()
				ctx = SetTechnicianID(ctx, tok.TechnicianID)
				ctx = setTokenPrefix(ctx, prefix)
				ctx = SetScopes(ctx, tok.Scopes)
				r = r.WithContext(ctx)
				matched = true

				// Update last_used_at async
				go a.store.UpdateTokenLastUsed(context.Background(), tok.ID)
				break
			}
		}

		if !matched {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid access token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireScope returns middleware that checks whether the authenticated token
// has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r, scope) {
				response.Error(w, http.StatusForbidden,
					"FORBIDDEN", "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
