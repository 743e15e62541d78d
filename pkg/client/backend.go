package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/realtime"
)

// Backend is the row-oriented storage contract the store persists through.
// Update payloads carry domain-cased field names ("estimateOptions"); the
// transport converts them to the wire's underscore form.
type Backend interface {
	CreateSession(ctx context.Context, estimateOptions string) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, id string, fields map[string]any) (*models.Session, error)
	// UpdateAverageEstimate is the version-guarded write. A stale
	// expectedVersion yields ErrEstimateConflict and no mutation.
	UpdateAverageEstimate(ctx context.Context, id string, average *float64, expectedVersion int64) (*models.Session, error)

	ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error)
	CreateParticipant(ctx context.Context, sessionID, name string) (*models.Participant, error)
	UpdateParticipant(ctx context.Context, id uuid.UUID, fields map[string]any) (*models.Participant, error)
	ClearEstimates(ctx context.Context, sessionID string) error

	CreateResult(ctx context.Context, result *models.SessionResult) error
	ListResults(ctx context.Context, sessionID string) ([]models.SessionResult, error)
	UpdateResultDescription(ctx context.Context, id uuid.UUID, description string) (*models.SessionResult, error)
	DeleteResult(ctx context.Context, id uuid.UUID) error
}

// ChannelStatus is the realtime subscription state.
type ChannelStatus string

const (
	StatusConnecting   ChannelStatus = "connecting"
	StatusSubscribed   ChannelStatus = "subscribed"
	StatusDisconnected ChannelStatus = "disconnected"
	StatusError        ChannelStatus = "error"
)

// EventKind discriminates channel events.
type EventKind int

const (
	// EventStatus reports a subscription state transition.
	EventStatus EventKind = iota
	// EventChange carries a row-change notification.
	EventChange
	// EventPresence carries the full presence directory.
	EventPresence
)

// Event is one message from a session channel.
type Event struct {
	Kind     EventKind
	Status   ChannelStatus
	Change   *realtime.ChangeEvent
	Presence map[string]realtime.PresenceEntry
}

// Channel is a realtime session channel: push events plus the presence
// protocol. One channel serves one session visit.
type Channel interface {
	// Subscribe establishes the channel. Status transitions, row changes,
	// and presence syncs are delivered on Events.
	Subscribe(ctx context.Context) error
	Events() <-chan Event
	// Track announces this connection's participant on the channel.
	Track(ctx context.Context, entry realtime.PresenceEntry) error
	Untrack(ctx context.Context) error
	Close() error
}

// ChannelFactory opens a channel for one session. The store calls it once
// per session visit.
type ChannelFactory func(sessionID string) Channel
