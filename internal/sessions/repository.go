package sessions

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planpoker/backend/internal/models"
)

// ErrVersionConflict is returned when an average-estimate write carries a
// stale expected version: another client already published for this round.
var ErrVersionConflict = errors.New("session version conflict")

// Repository handles session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new session with the given id and estimate options.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO session (id, estimate_options)
		VALUES ($1, $2)
		RETURNING average_estimate, version, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.ID, s.EstimateOptions).
		Scan(&s.AverageEstimate, &s.Version, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session by id. Returns pgx.ErrNoRows when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	const q = `SELECT id, estimate_options, average_estimate, version, created_at, updated_at
		FROM session WHERE id = $1`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&s.ID, &s.EstimateOptions, &s.AverageEstimate, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Exists reports whether a session id is known.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT 1 FROM session WHERE id = $1`
	var one int
	err := r.pool.QueryRow(ctx, q, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateEstimateOptions replaces the session's option list and returns the
// updated row.
func (r *Repository) UpdateEstimateOptions(ctx context.Context, id, options string) (*models.Session, error) {
	const q = `UPDATE session SET estimate_options = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, estimate_options, average_estimate, version, created_at, updated_at`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, id, options).
		Scan(&s.ID, &s.EstimateOptions, &s.AverageEstimate, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateAverageEstimate writes the average conditioned on the current row
// version matching expectedVersion, incrementing the version by one. A stale
// expected version yields ErrVersionConflict and leaves the row untouched.
func (r *Repository) UpdateAverageEstimate(ctx context.Context, id string, average *float64, expectedVersion int64) (*models.Session, error) {
	const q = `UPDATE session
		SET average_estimate = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
		RETURNING id, estimate_options, average_estimate, version, created_at, updated_at`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, id, average, expectedVersion).
		Scan(&s.ID, &s.EstimateOptions, &s.AverageEstimate, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// No row matched: either the session is gone or the version was stale.
	exists, existsErr := r.Exists(ctx, id)
	if existsErr != nil {
		return nil, existsErr
	}
	if exists {
		return nil, ErrVersionConflict
	}
	return nil, pgx.ErrNoRows
}
