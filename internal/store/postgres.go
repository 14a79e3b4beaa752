package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/repairgrid/dispatch/pkg/models"
)

const jobColumns = `id, reference_code, device, service, scheduled_at, window_minutes,
	address, latitude, longitude, service_zone, price_cents, pricing_tier,
	status, assigned_technician_id, confirmed_at, assigned_at, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get job", err)
	}
	return job, nil
}

func (s *PostgresStore) ListClaimableJobs(ctx context.Context, zones []string) ([]*models.Job, error) {
	if len(zones) == 0 {
		return []*models.Job{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'confirmed' AND assigned_technician_id IS NULL
		   AND service_zone = ANY($1)
		 ORDER BY confirmed_at ASC`, zones)
	if err != nil {
		return nil, unavailable("list claimable jobs", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, unavailable("scan claimable job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list claimable jobs", err)
	}
	return jobs, nil
}

// ClaimJob performs the claim transition. The conditional UPDATE on the job
// row is the only authority over who wins; the preceding reads exist to
// produce precise error outcomes. Checked-then-changed gaps are closed by the
// UPDATE's own predicate, which Postgres re-evaluates under the row lock.
func (s *PostgresStore) ClaimJob(ctx context.Context, jobID, technicianID uuid.UUID, maxActive int) (*models.Job, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, unavailable("begin claim", err)
	}
	defer tx.Rollback(ctx)

	var zones []string
	var activeJobs int
	err = tx.QueryRow(ctx,
		`SELECT zones, active_jobs FROM technicians WHERE id = $1`, technicianID,
	).Scan(&zones, &activeJobs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, unavailable("get technician for claim", err)
	}

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, unavailable("get job for claim", err)
	}

	// Idempotent re-claim: a technician who already holds the job succeeds
	// trivially, with no second counter increment.
	if job.TechnicianID != nil && *job.TechnicianID == technicianID {
		return job, false, nil
	}

	switch {
	case job.Status == models.JobStatusPending, job.Status == models.JobStatusCancelled:
		// Never became, or no longer is, available to anyone.
		return nil, false, ErrNotFound
	case job.TechnicianID != nil || job.Status != models.JobStatusConfirmed:
		return nil, false, ErrAlreadyClaimed
	}

	if !containsZone(zones, job.ServiceZone) || activeJobs >= maxActive {
		return nil, false, ErrNotEligible
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs
		 SET status = 'assigned', assigned_technician_id = $2, assigned_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'confirmed' AND assigned_technician_id IS NULL`,
		jobID, technicianID)
	if err != nil {
		return nil, false, unavailable("claim job", err)
	}
	if tag.RowsAffected() == 0 {
		// The row changed under us between the read and the write. Re-read
		// post-winner-commit: a concurrent double-tap from the same technician
		// is still a no-op success, anyone else lost the race.
		job, err = scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
		if err != nil {
			return nil, false, unavailable("reload contested job", err)
		}
		if job.TechnicianID != nil && *job.TechnicianID == technicianID {
			return job, false, nil
		}
		return nil, false, ErrAlreadyClaimed
	}

	tag, err = tx.Exec(ctx,
		`UPDATE technicians SET active_jobs = active_jobs + 1, updated_at = NOW()
		 WHERE id = $1 AND active_jobs < $2`, technicianID, maxActive)
	if err != nil {
		return nil, false, unavailable("increment active jobs", err)
	}
	if tag.RowsAffected() == 0 {
		// At capacity; roll the assignment back with the transaction.
		return nil, false, ErrNotEligible
	}

	job, err = scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		return nil, false, unavailable("reload claimed job", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, unavailable("commit claim", err)
	}
	return job, true, nil
}

// --- Technicians ---

func (s *PostgresStore) GetTechnician(ctx context.Context, id uuid.UUID) (*models.Technician, error) {
	var t models.Technician
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, zones, skills, rating, active_jobs, created_at, updated_at
		 FROM technicians WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Status, &t.Zones, &t.Skills, &t.Rating, &t.ActiveJobs,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get technician", err)
	}
	return &t, nil
}

func (s *PostgresStore) SetTechnicianStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE technicians SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return unavailable("set technician status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListOfflineTechniciansInZone(ctx context.Context, zone string) ([]*models.Technician, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, zones, skills, rating, active_jobs, created_at, updated_at
		 FROM technicians WHERE status = 'offline' AND $1 = ANY(zones)`, zone)
	if err != nil {
		return nil, unavailable("list offline technicians", err)
	}
	defer rows.Close()

	var techs []*models.Technician
	for rows.Next() {
		var t models.Technician
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.Zones, &t.Skills, &t.Rating,
			&t.ActiveJobs, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, unavailable("scan technician", err)
		}
		techs = append(techs, &t)
	}
	return techs, rows.Err()
}

// --- Access tokens ---

func (s *PostgresStore) GetAccessTokensByPrefix(ctx context.Context, prefix string) ([]*models.AccessToken, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, technician_id, token_hash, token_prefix, scopes, last_used_at, deleted_at, created_at
		 FROM technician_tokens WHERE token_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, unavailable("get tokens by prefix", err)
	}
	defer rows.Close()

	var tokens []*models.AccessToken
	for rows.Next() {
		var tk models.AccessToken
		if err := rows.Scan(&tk.ID, &tk.TechnicianID, &tk.TokenHash, &tk.TokenPrefix,
			&tk.Scopes, &tk.LastUsedAt, &tk.DeletedAt, &tk.CreatedAt); err != nil {
			return nil, unavailable("scan token", err)
		}
		tokens = append(tokens, &tk)
	}
	return tokens, rows.Err()
}

func (s *PostgresStore) UpdateTokenLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE technician_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return unavailable("update token last used", err)
	}
	return nil
}

// --- Push endpoints ---

func (s *PostgresStore) CreatePushEndpoint(ctx context.Context, ep *models.PushEndpoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO push_endpoints (id, technician_id, platform, endpoint, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (technician_id, endpoint) DO NOTHING`,
		ep.ID, ep.TechnicianID, ep.Platform, ep.Endpoint, ep.CreatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return unavailable("create push endpoint", err)
	}
	return nil
}

func (s *PostgresStore) ListPushEndpoints(ctx context.Context, technicianID uuid.UUID) ([]*models.PushEndpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, technician_id, platform, endpoint, created_at
		 FROM push_endpoints WHERE technician_id = $1 ORDER BY created_at`, technicianID)
	if err != nil {
		return nil, unavailable("list push endpoints", err)
	}
	defer rows.Close()

	var eps []*models.PushEndpoint
	for rows.Next() {
		var ep models.PushEndpoint
		if err := rows.Scan(&ep.ID, &ep.TechnicianID, &ep.Platform, &ep.Endpoint, &ep.CreatedAt); err != nil {
			return nil, unavailable("scan push endpoint", err)
		}
		eps = append(eps, &ep)
	}
	return eps, rows.Err()
}

func (s *PostgresStore) DeletePushEndpoint(ctx context.Context, id, technicianID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM push_endpoints WHERE id = $1 AND technician_id = $2`, id, technicianID)
	if err != nil {
		return unavailable("delete push endpoint", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Claim attempts ---

func (s *PostgresStore) RecordClaimAttempt(ctx context.Context, attempt *models.ClaimAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claim_attempts (id, job_id, technician_id, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		attempt.ID, attempt.JobID, attempt.TechnicianID, attempt.Outcome, attempt.CreatedAt)
	if err != nil {
		return unavailable("record claim attempt", err)
	}
	return nil
}

// --- helpers ---

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ReferenceCode, &j.Device, &j.Service, &j.ScheduledAt,
		&j.WindowMinutes, &j.Address, &j.Latitude, &j.Longitude, &j.ServiceZone,
		&j.PriceCents, &j.PricingTier, &j.Status, &j.TechnicianID, &j.ConfirmedAt,
		&j.AssignedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func containsZone(zones []string, zone string) bool {
	for _, z := range zones {
		if z == zone {
			return true
		}
	}
	return false
}

// unavailable tags a storage-level failure as transient so callers can apply
// bounded retries without masking claim outcomes.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrUnavailable, err))
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
