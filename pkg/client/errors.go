package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recoverable conditions callers dispatch on.
var (
	// ErrSessionNotFound: the session id does not name an existing session;
	// callers redirect to the landing page.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound: an operation needing a current participant ran
	// before one was resolved or created.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrChannelNotReady: the realtime channel was used before being
	// established. A sequencing bug, surfaced loudly rather than no-opped.
	ErrChannelNotReady = errors.New("session channel not established")
	// ErrEstimateConflict: another client published an average for this
	// round first. Expected race; the losing client refreshes from the
	// change event instead of retrying.
	ErrEstimateConflict = errors.New("average estimate already updated")
	// ErrNoEstimates: ComputeAverage was invoked with no estimates. Callers
	// must guard before revealing.
	ErrNoEstimates = errors.New("no estimates to average")
)

// BackendError wraps a failed backend operation with its HTTP status and
// the server's error code when one was returned.
type BackendError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
}
