package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKeyPrefix   = "poker:presence:"
	presenceIndexPrefix = "poker:presence:ts:"
	presenceKeyTTL      = 24 * time.Hour
)

// PresenceStore keeps the per-session presence directory in Redis so every
// instance sees the same set of tracked connections. Each entry is indexed
// by its last-heartbeat timestamp for stale sweeping.
type PresenceStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewPresenceStore creates a presence store. Entries older than ttl are
// treated as stale and excluded from the directory.
func NewPresenceStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *PresenceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceStore{client: client, ttl: ttl, logger: logger}
}

func presenceKey(sessionID string) string      { return presenceKeyPrefix + sessionID }
func presenceIndexKey(sessionID string) string { return presenceIndexPrefix + sessionID }

// Track stores a connection's presence entry and stamps its heartbeat.
func (p *PresenceStore) Track(ctx context.Context, sessionID, connID string, entry PresenceEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, presenceKey(sessionID), connID, raw)
	pipe.ZAdd(ctx, presenceIndexKey(sessionID), redis.Z{Score: float64(time.Now().Unix()), Member: connID})
	pipe.Expire(ctx, presenceKey(sessionID), presenceKeyTTL)
	pipe.Expire(ctx, presenceIndexKey(sessionID), presenceKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}
	return nil
}

// Untrack removes a connection from the directory.
func (p *PresenceStore) Untrack(ctx context.Context, sessionID, connID string) error {
	pipe := p.client.TxPipeline()
	pipe.HDel(ctx, presenceKey(sessionID), connID)
	pipe.ZRem(ctx, presenceIndexKey(sessionID), connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("untrack presence: %w", err)
	}
	return nil
}

// Refresh updates a tracked connection's heartbeat timestamp. A connection
// that never tracked is left alone.
func (p *PresenceStore) Refresh(ctx context.Context, sessionID, connID string) error {
	return p.client.ZAddXX(ctx, presenceIndexKey(sessionID), redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: connID,
	}).Err()
}

// Directory returns the non-stale presence entries for a session, keyed by
// connection id.
func (p *PresenceStore) Directory(ctx context.Context, sessionID string) (map[string]PresenceEntry, error) {
	cutoff := time.Now().Add(-p.ttl).Unix()
	live, err := p.client.ZRangeByScore(ctx, presenceIndexKey(sessionID), &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence index: %w", err)
	}
	if len(live) == 0 {
		return map[string]PresenceEntry{}, nil
	}

	raw, err := p.client.HGetAll(ctx, presenceKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence directory: %w", err)
	}

	entries := make(map[string]PresenceEntry, len(live))
	for _, connID := range live {
		body, ok := raw[connID]
		if !ok {
			continue
		}
		var entry PresenceEntry
		if err := json.Unmarshal([]byte(body), &entry); err != nil {
			p.logger.Warn("invalid presence entry", zap.String("conn_id", connID), zap.Error(err))
			continue
		}
		entries[connID] = entry
	}
	return entries, nil
}

// SweepStale removes entries whose heartbeat is older than the TTL and
// returns how many were removed. Covers connections that vanished without a
// close frame (crashed instance, dead socket).
func (p *PresenceStore) SweepStale(ctx context.Context, sessionID string) (int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-p.ttl).Unix(), 10)
	stale, err := p.client.ZRangeByScore(ctx, presenceIndexKey(sessionID), &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("presence sweep scan: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(stale))
	fields := make([]string, len(stale))
	for i, connID := range stale {
		members[i] = connID
		fields[i] = connID
	}
	pipe := p.client.TxPipeline()
	pipe.HDel(ctx, presenceKey(sessionID), fields...)
	pipe.ZRem(ctx, presenceIndexKey(sessionID), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("presence sweep remove: %w", err)
	}
	return len(stale), nil
}

// SessionKeys returns every session id with a presence index, for the
// worker's sweep loop.
func (p *PresenceStore) SessionKeys(ctx context.Context) ([]string, error) {
	var (
		sessions []string
		cursor   uint64
	)
	for {
		keys, next, err := p.client.Scan(ctx, cursor, presenceIndexPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("presence key scan: %w", err)
		}
		for _, k := range keys {
			sessions = append(sessions, k[len(presenceIndexPrefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}
