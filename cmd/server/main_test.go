package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/repairgrid/dispatch/internal/cache"
	"github.com/repairgrid/dispatch/internal/store"
	"github.com/repairgrid/dispatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error { return s.pingErr }
func (s *testStore) GetJob(_ context.Context, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) ListClaimableJobs(_ context.Context, _ []string) ([]*models.Job, error) {
	return nil, nil
}
func (s *testStore) ClaimJob(_ context.Context, _, _ uuid.UUID, _ int) (*models.Job, bool, error) {
	return nil, false, store.ErrNotFound
}
func (s *testStore) GetTechnician(_ context.Context, _ uuid.UUID) (*models.Technician, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) SetTechnicianStatus(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (s *testStore) ListOfflineTechniciansInZone(_ context.Context, _ string) ([]*models.Technician, error) {
	return nil, nil
}
func (s *testStore) GetAccessTokensByPrefix(_ context.Context, _ string) ([]*models.AccessToken, error) {
	return nil, nil
}
func (s *testStore) UpdateTokenLastUsed(_ context.Context, _ uuid.UUID) error           { return nil }
func (s *testStore) CreatePushEndpoint(_ context.Context, _ *models.PushEndpoint) error { return nil }
func (s *testStore) ListPushEndpoints(_ context.Context, _ uuid.UUID) ([]*models.PushEndpoint, error) {
	return nil, nil
}
func (s *testStore) DeletePushEndpoint(_ context.Context, _, _ uuid.UUID) error         { return nil }
func (s *testStore) RecordClaimAttempt(_ context.Context, _ *models.ClaimAttempt) error { return nil }

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *testCache) Ping(_ context.Context) error                                     { return c.pingErr }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}
func (c *testCache) MarkJobClaimed(_ context.Context, _ uuid.UUID, _ time.Duration) error {
	return nil
}
func (c *testCache) IsJobClaimed(_ context.Context, _ uuid.UUID) (bool, error) { return false, nil }
func (c *testCache) AcquireDispatchLease(_ context.Context, _ uuid.UUID, _ time.Duration) (bool, error) {
	return true, nil
}

var _ cache.Cache = (*testCache)(nil)

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	h := healthHandler(&testStore{pingErr: errors.New("connection refused")}, &testCache{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	h := healthHandler(&testStore{}, &testCache{pingErr: errors.New("redis down")})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_BothDegraded(t *testing.T) {
	h := healthHandler(
		&testStore{pingErr: errors.New("db down")},
		&testCache{pingErr: errors.New("redis down")},
	)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	// Clear all env vars that config.Load() requires
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "PUSH_GATEWAY_URL",
	} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("PUSH_GATEWAY_URL", "http://localhost:9400")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}

// ─── helper: clear env ──────────────────────────────────────────────────────

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "PUSH_GATEWAY_URL", "PUSH_GATEWAY_TOKEN",
	} {
		os.Unsetenv(key)
	}
}
