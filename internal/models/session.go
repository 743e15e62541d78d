package models

import (
	"time"
)

// Session represents one planning poker session. The id doubles as the
// shareable link token.
type Session struct {
	ID              string    `json:"id"`
	EstimateOptions string    `json:"estimate_options"`
	AverageEstimate *float64  `json:"average_estimate"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Options parses EstimateOptions into its ordered numeric form.
// Invalid entries are skipped; the editor validates before writing.
func (s *Session) Options() []float64 {
	return ParseEstimateOptions(s.EstimateOptions)
}
