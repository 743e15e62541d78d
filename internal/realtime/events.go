package realtime

import (
	"encoding/json"
	"time"
)

// Wire event names pushed to session channels.
const (
	EventSessionChanged      = "session_changed"
	EventParticipantInserted = "participant_inserted"
	EventParticipantChanged  = "participant_changed"
	EventPresenceSync        = "presence_sync"
)

// Inbound client message events.
const (
	EventTrack   = "track"
	EventUntrack = "untrack"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChangeEvent is a row-change notification carrying old/new row snapshots,
// scoped to one session's channel.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  string          `json:"type"` // INSERT or UPDATE
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// PresenceEntry is the payload a participant tracks on the channel. One
// entry exists per live connection; the same participant may appear under
// several connection keys (multiple tabs).
type PresenceEntry struct {
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"name"`
	OnlineAt      time.Time `json:"online_at"`
}

// PresenceSync is the full presence directory broadcast after every change,
// keyed by connection id.
type PresenceSync struct {
	Entries map[string]PresenceEntry `json:"entries"`
}
