package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	technicianIDKey contextKey = "technician_id"
	tokenPrefixKey  contextKey = "token_prefix"
	tokenScopesKey  contextKey = "token_scopes"
)

func SetTechnicianID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, technicianIDKey, id)
}

func GetTechnicianID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(technicianIDKey).(uuid.UUID)
	return id, ok
}

func setTokenPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, tokenPrefixKey, prefix)
}

func getTokenPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(tokenPrefixKey).(string)
	return prefix, ok
}

// SetScopes attaches the token's scopes to the context.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, tokenScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(tokenScopesKey).([]string)
	return scopes
}

// HasScope reports whether the authenticated token carries the scope.
func HasScope(r *http.Request, scope string) bool {
	for _, s := range getScopes(r) {
		if s == scope {
			return true
		}
	}
	return false
}

// ExportedTokenPrefixKey returns the context key for token_prefix (for testing).
func ExportedTokenPrefixKey() contextKey {
	return tokenPrefixKey
}
