package participants

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planpoker/backend/internal/models"
)

// Repository handles participant persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participant repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new participant into a session.
func (r *Repository) Create(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO participant (id, session_id, name)
		VALUES (gen_random_uuid(), $1, $2)
		RETURNING id, is_observer, estimate, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, p.SessionID, p.Name).
		Scan(&p.ID, &p.IsObserver, &p.Estimate, &p.CreatedAt, &p.UpdatedAt)
}

// GetByID returns a participant by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	const q = `SELECT id, session_id, name, is_observer, estimate, created_at, updated_at
		FROM participant WHERE id = $1`
	var p models.Participant
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&p.ID, &p.SessionID, &p.Name, &p.IsObserver, &p.Estimate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListBySession returns the full roster of a session, ordered by join time.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.Participant, error) {
	const q = `SELECT id, session_id, name, is_observer, estimate, created_at, updated_at
		FROM participant WHERE session_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.IsObserver, &p.Estimate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Update writes estimate and/or observer mode. Observer mode always clears
// the estimate in the same statement so no intermediate state is ever
// visible. Returns the updated row.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, estimate *float64, isObserver *bool) (*models.Participant, error) {
	const q = `UPDATE participant
		SET is_observer = COALESCE($2, is_observer),
		    estimate = CASE WHEN COALESCE($2, is_observer) THEN NULL ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, session_id, name, is_observer, estimate, created_at, updated_at`
	var p models.Participant
	err := r.pool.QueryRow(ctx, q, id, isObserver, estimate).
		Scan(&p.ID, &p.SessionID, &p.Name, &p.IsObserver, &p.Estimate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ClearEstimates sets every participant's estimate in a session to NULL.
// Used by the restart fan-out after the average is reset.
func (r *Repository) ClearEstimates(ctx context.Context, sessionID string) (int64, error) {
	const q = `UPDATE participant SET estimate = NULL, updated_at = NOW()
		WHERE session_id = $1 AND estimate IS NOT NULL`
	tag, err := r.pool.Exec(ctx, q, sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
