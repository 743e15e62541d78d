package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionActivity is one attendance interval: when a participant's realtime
// connection joined and left a session. Written asynchronously by the worker.
type SessionActivity struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     string     `json:"session_id"`
	ParticipantID uuid.UUID  `json:"participant_id"`
	JoinedAt      time.Time  `json:"joined_at"`
	LeftAt        *time.Time `json:"left_at,omitempty"`
}
