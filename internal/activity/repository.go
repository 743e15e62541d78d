package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planpoker/backend/internal/models"
)

// Repository handles the session attendance log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an activity repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin records a participant connecting to a session channel.
func (r *Repository) LogJoin(ctx context.Context, sessionID string, participantID uuid.UUID, joinedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_activity (session_id, participant_id, joined_at) VALUES ($1, $2, $3)`,
		sessionID, participantID, joinedAt)
	return err
}

// LogLeave closes the most recent open interval for this participant in
// this session.
func (r *Repository) LogLeave(ctx context.Context, sessionID string, participantID uuid.UUID, leftAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_activity a SET left_at = $3
		 FROM (SELECT id FROM session_activity WHERE session_id = $1 AND participant_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE a.id = sub.id`,
		sessionID, participantID, leftAt)
	return err
}

// ListBySession returns a session's attendance intervals, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.SessionActivity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, participant_id, joined_at, left_at
		 FROM session_activity WHERE session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.SessionActivity
	for rows.Next() {
		var a models.SessionActivity
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ParticipantID, &a.JoinedAt, &a.LeftAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
