package results

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planpoker/backend/internal/models"
)

// Repository handles session result persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session result repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a result snapshot for a revealed round.
func (r *Repository) Create(ctx context.Context, res *models.SessionResult) error {
	const q = `INSERT INTO session_result (id, session_id, average_estimate, generated_by, description)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, res.SessionID, res.AverageEstimate, res.GeneratedBy, res.Description).
		Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
}

// ListBySession returns a session's result history, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.SessionResult, error) {
	const q = `SELECT id, session_id, average_estimate, generated_by, description, created_at, updated_at
		FROM session_result WHERE session_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.SessionResult
	for rows.Next() {
		var res models.SessionResult
		if err := rows.Scan(&res.ID, &res.SessionID, &res.AverageEstimate, &res.GeneratedBy, &res.Description, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

// UpdateDescription edits a result's description, the only mutable field.
func (r *Repository) UpdateDescription(ctx context.Context, id uuid.UUID, description string) (*models.SessionResult, error) {
	const q = `UPDATE session_result SET description = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, session_id, average_estimate, generated_by, description, created_at, updated_at`
	var res models.SessionResult
	err := r.pool.QueryRow(ctx, q, id, description).
		Scan(&res.ID, &res.SessionID, &res.AverageEstimate, &res.GeneratedBy, &res.Description, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Delete removes a result from the history.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM session_result WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}
