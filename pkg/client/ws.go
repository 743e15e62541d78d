package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/planpoker/backend/internal/realtime"
)

// WSChannel is a session channel over the service's WebSocket endpoint.
// It decodes the wire envelope into events and forwards the presence
// protocol. A broken connection is reported and left broken: recovery is
// the reconnection supervisor's job, which rebuilds the whole session.
type WSChannel struct {
	wsURL     string
	sessionID string
	logger    *zap.Logger

	events chan Event

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSChannel creates a channel for one session. wsURL is the endpoint
// base ("ws://host:port/ws").
func NewWSChannel(wsURL, sessionID string, logger *zap.Logger) *WSChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSChannel{
		wsURL:     wsURL,
		sessionID: sessionID,
		logger:    logger,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
}

// NewWSChannelFactory returns a ChannelFactory dialing the given endpoint.
func NewWSChannelFactory(wsURL string, logger *zap.Logger) ChannelFactory {
	return func(sessionID string) Channel {
		return NewWSChannel(wsURL, sessionID, logger)
	}
}

// Subscribe dials the endpoint and starts the read loop. The subscribed
// status is emitted once the connection is up; a later read failure emits
// disconnected and ends the stream.
func (w *WSChannel) Subscribe(ctx context.Context) error {
	w.emit(Event{Kind: EventStatus, Status: StatusConnecting})

	u, err := url.Parse(w.wsURL)
	if err != nil {
		w.emit(Event{Kind: EventStatus, Status: StatusError})
		return fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", w.sessionID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		w.emit(Event{Kind: EventStatus, Status: StatusError})
		return fmt.Errorf("dial session channel: %w", err)
	}

	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()

	go w.readLoop(conn)
	w.emit(Event{Kind: EventStatus, Status: StatusSubscribed})
	return nil
}

func (w *WSChannel) readLoop(conn *websocket.Conn) {
	defer func() {
		select {
		case <-w.done:
			// deliberate close, no status to report
		default:
			w.emit(Event{Kind: EventStatus, Status: StatusDisconnected})
		}
	}()

	for {
		var msg realtime.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case realtime.EventSessionChanged, realtime.EventParticipantInserted, realtime.EventParticipantChanged:
			var change realtime.ChangeEvent
			if err := json.Unmarshal(msg.Data, &change); err != nil {
				w.logger.Warn("malformed change event", zap.String("event", msg.Event), zap.Error(err))
				continue
			}
			w.emit(Event{Kind: EventChange, Change: &change})
		case realtime.EventPresenceSync:
			var ps realtime.PresenceSync
			if err := json.Unmarshal(msg.Data, &ps); err != nil {
				w.logger.Warn("malformed presence sync", zap.Error(err))
				continue
			}
			w.emit(Event{Kind: EventPresence, Presence: ps.Entries})
		default:
			w.logger.Debug("unknown channel event", zap.String("event", msg.Event))
		}
	}
}

// Events returns the event stream. The channel is buffered; a consumer
// that stalls for long drops the connection rather than blocking the hub.
func (w *WSChannel) Events() <-chan Event {
	return w.events
}

func (w *WSChannel) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("event buffer full, dropping", zap.Int("kind", int(ev.Kind)))
	}
}

// Track announces a participant on the channel.
func (w *WSChannel) Track(ctx context.Context, entry realtime.PresenceEntry) error {
	if entry.OnlineAt.IsZero() {
		entry.OnlineAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode presence entry: %w", err)
	}
	return w.write(realtime.WSMessage{Event: realtime.EventTrack, Data: data})
}

// Untrack withdraws this connection's presence.
func (w *WSChannel) Untrack(ctx context.Context) error {
	return w.write(realtime.WSMessage{Event: realtime.EventUntrack})
}

func (w *WSChannel) write(msg realtime.WSMessage) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return ErrChannelNotReady
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(msg)
}

// Close tears the connection down. Presence withdrawal is implicit: the
// server untracks a connection when it unregisters.
func (w *WSChannel) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.writeMu.Lock()
		conn := w.conn
		w.conn = nil
		w.writeMu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = conn.Close()
		}
	})
	return err
}

var _ Channel = (*WSChannel)(nil)
