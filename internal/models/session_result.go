package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultResultDescription is the placeholder set when a result snapshot is
// recorded; participants can edit it afterwards.
const DefaultResultDescription = "No description"

// SessionResult is a historical snapshot recorded each time a round's
// average estimate is revealed. Only the description is mutable.
type SessionResult struct {
	ID              uuid.UUID `json:"id"`
	SessionID       string    `json:"session_id"`
	AverageEstimate float64   `json:"average_estimate"`
	GeneratedBy     string    `json:"generated_by"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
