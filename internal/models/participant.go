package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// ParticipantNameMin and ParticipantNameMax bound the join-form name.
	ParticipantNameMin = 3
	ParticipantNameMax = 15
)

// Participant is one member of a session. An observer never carries an
// estimate; flipping to observer clears it in the same write.
type Participant struct {
	ID         uuid.UUID `json:"id"`
	SessionID  string    `json:"session_id"`
	Name       string    `json:"name"`
	IsObserver bool      `json:"is_observer"`
	Estimate   *float64  `json:"estimate"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
