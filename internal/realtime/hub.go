package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait (seconds) drive the connection heartbeat.
	PingInterval = 15
	PongWait     = 60
)

// RedisPublisher publishes session events for cross-instance broadcast.
type RedisPublisher interface {
	PublishSessionEvent(sessionID, event string, payload []byte) error
}

// RedisSubscriber subscribes to session channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// ActivityFunc records a participant join or leave for the attendance log.
type ActivityFunc func(sessionID string, participantID uuid.UUID, joinedAt, leftAt time.Time)

// Hub maintains session_id -> set of connections and fans session events out
// to them. Row changes and presence syncs go through Redis so every instance
// (including the origin) broadcasts exactly once.
type Hub struct {
	// sessionID -> map[connID]*Client
	sessions map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per session
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
	presence *PresenceStore
	onJoin   ActivityFunc
	onLeave  ActivityFunc
}

// NewHub creates a session hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber, presence *PresenceStore) *Hub {
	return &Hub{
		sessions: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
		presence: presence,
	}
}

// SetActivityRecorder sets callbacks invoked when a tracked participant
// joins or leaves a session channel.
func (h *Hub) SetActivityRecorder(onJoin, onLeave ActivityFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onJoin = onJoin
	h.onLeave = onLeave
}

// Register adds a client to a session room. Starts the Redis subscription
// for this session when the first local client arrives.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeSession(c.SessionID, func(event string, payload []byte) {
				h.BroadcastToSession(c.SessionID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.SessionID] = cancel
			} else {
				h.logger.Warn("session subscription failed", zap.String("session_id", c.SessionID), zap.Error(err))
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// Unregister removes a client from a session room, untracks its presence if
// it had tracked, and cancels the Redis subscription when the last local
// client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()

	if c.tracked {
		h.UntrackPresence(context.Background(), c)
	}
	h.logger.Debug("client left session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// BroadcastToSession sends a message to all local clients in a session.
func (h *Hub) BroadcastToSession(sessionID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.sessions[sessionID]
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishToSession publishes an event through Redis only; the per-session
// subscriber callback performs the local broadcast once for all instances,
// avoiding duplicate delivery. Falls back to a local broadcast when no
// Redis bridge is configured.
func (h *Hub) PublishToSession(sessionID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishSessionEvent(sessionID, event, data); err == nil {
			return
		}
	}
	h.BroadcastToSession(sessionID, event, json.RawMessage(data))
}

// PublishChange publishes a row-change notification on the session channel.
// The event name is derived from the table and change type so listeners can
// subscribe to the streams they care about.
func (h *Hub) PublishChange(sessionID, table, changeType string, oldRow, newRow interface{}) {
	ev := ChangeEvent{Table: table, Type: changeType}
	if oldRow != nil {
		ev.Old, _ = json.Marshal(oldRow)
	}
	if newRow != nil {
		ev.New, _ = json.Marshal(newRow)
	}

	event := EventSessionChanged
	if table == "participant" {
		if changeType == "INSERT" {
			event = EventParticipantInserted
		} else {
			event = EventParticipantChanged
		}
	}
	h.PublishToSession(sessionID, event, ev)
}

// TrackPresence announces a participant on the session channel and
// broadcasts the refreshed directory.
func (h *Hub) TrackPresence(ctx context.Context, c *Client, entry PresenceEntry) error {
	if err := h.presence.Track(ctx, c.SessionID, c.ID, entry); err != nil {
		return err
	}
	c.tracked = true
	c.entry = entry
	c.trackedAt = time.Now()
	h.PublishPresenceSync(ctx, c.SessionID)

	h.mu.RLock()
	onJoin := h.onJoin
	h.mu.RUnlock()
	if onJoin != nil {
		if pid, err := uuid.Parse(entry.ParticipantID); err == nil {
			onJoin(c.SessionID, pid, c.trackedAt, time.Time{})
		}
	}
	return nil
}

// UntrackPresence removes a connection's presence entry and broadcasts the
// refreshed directory.
func (h *Hub) UntrackPresence(ctx context.Context, c *Client) {
	if err := h.presence.Untrack(ctx, c.SessionID, c.ID); err != nil {
		h.logger.Warn("untrack presence", zap.String("client_id", c.ID), zap.Error(err))
	}
	c.tracked = false
	h.PublishPresenceSync(ctx, c.SessionID)

	h.mu.RLock()
	onLeave := h.onLeave
	h.mu.RUnlock()
	if onLeave != nil {
		if pid, err := uuid.Parse(c.entry.ParticipantID); err == nil {
			onLeave(c.SessionID, pid, c.trackedAt, time.Now())
		}
	}
}

// RefreshPresence stamps a tracked connection's heartbeat. Called from the
// pong handler; failures are non-critical and only logged.
func (h *Hub) RefreshPresence(ctx context.Context, c *Client) {
	if !c.tracked {
		return
	}
	if err := h.presence.Refresh(ctx, c.SessionID, c.ID); err != nil {
		h.logger.Warn("refresh presence", zap.String("client_id", c.ID), zap.Error(err))
	}
}

// PublishPresenceSync reads the session's presence directory and publishes
// it as a sync event.
func (h *Hub) PublishPresenceSync(ctx context.Context, sessionID string) {
	entries, err := h.presence.Directory(ctx, sessionID)
	if err != nil {
		h.logger.Warn("presence directory", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	h.PublishToSession(sessionID, EventPresenceSync, PresenceSync{Entries: entries})
}

// ConnectionCount returns the number of local connections in a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
