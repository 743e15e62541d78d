package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // sessions are access-by-link; no origin restriction
	},
}

// SessionChecker reports whether a session id exists, so connections to
// unknown sessions are rejected before the upgrade.
type SessionChecker func(ctx context.Context, sessionID string) (bool, error)

// Client represents a single WebSocket connection in a session room.
type Client struct {
	ID        string
	SessionID string
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger

	// presence state for this connection, set by a track message
	tracked   bool
	entry     PresenceEntry
	trackedAt time.Time
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, sessionExists SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
			return
		}
		if sessionExists != nil {
			ok, err := sessionExists(c.Request.Context(), sessionID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
				return
			}
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.hub.RefreshPresence(context.Background(), c)
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case EventTrack:
			var entry PresenceEntry
			if err := json.Unmarshal(msg.Data, &entry); err != nil || entry.ParticipantID == "" {
				continue
			}
			if entry.OnlineAt.IsZero() {
				entry.OnlineAt = time.Now()
			}
			if err := c.hub.TrackPresence(context.Background(), c, entry); err != nil {
				c.logger.Warn("track presence failed",
					zap.String("client_id", c.ID),
					zap.String("session_id", c.SessionID),
					zap.Error(err),
				)
			}
		case EventUntrack:
			if c.tracked {
				c.hub.UntrackPresence(context.Background(), c)
			}
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
