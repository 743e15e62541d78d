package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/planpoker/backend/pkg/utils"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func cleanupSession(t *testing.T, client *redis.Client, sessionID string) {
	t.Helper()
	t.Cleanup(func() {
		client.Del(context.Background(), presenceKey(sessionID), presenceIndexKey(sessionID))
	})
}

func TestPresenceDirectory(t *testing.T) {
	client := testRedis(t)
	store := NewPresenceStore(client, 90*time.Second, nil)
	sessionID := utils.GenerateID(utils.SessionIDLength)
	cleanupSession(t, client, sessionID)
	ctx := context.Background()

	// the same participant from two tabs, plus a second participant
	entries := map[string]PresenceEntry{
		"conn-1": {ParticipantID: "p1", Name: "Dana", OnlineAt: time.Now()},
		"conn-2": {ParticipantID: "p1", Name: "Dana", OnlineAt: time.Now()},
		"conn-3": {ParticipantID: "p2", Name: "Robin", OnlineAt: time.Now()},
	}
	for connID, entry := range entries {
		if err := store.Track(ctx, sessionID, connID, entry); err != nil {
			t.Fatalf("Track(%s): %v", connID, err)
		}
	}

	dir, err := store.Directory(ctx, sessionID)
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if len(dir) != 3 {
		t.Fatalf("directory size = %d, want 3 (one per connection)", len(dir))
	}
	if dir["conn-1"].ParticipantID != "p1" || dir["conn-3"].Name != "Robin" {
		t.Errorf("directory = %+v", dir)
	}

	if err := store.Untrack(ctx, sessionID, "conn-2"); err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	dir, err = store.Directory(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(dir) != 2 {
		t.Errorf("directory size after untrack = %d, want 2", len(dir))
	}
	if _, ok := dir["conn-2"]; ok {
		t.Error("untracked connection still in directory")
	}
}

func TestPresenceSweepStale(t *testing.T) {
	client := testRedis(t)
	// tiny ttl so tracked entries go stale immediately
	store := NewPresenceStore(client, time.Millisecond, nil)
	sessionID := utils.GenerateID(utils.SessionIDLength)
	cleanupSession(t, client, sessionID)
	ctx := context.Background()

	if err := store.Track(ctx, sessionID, "conn-1", PresenceEntry{ParticipantID: "p1", Name: "Dana"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	// heartbeat scores are whole seconds; step past the cutoff
	time.Sleep(1100 * time.Millisecond)

	dir, err := store.Directory(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(dir) != 0 {
		t.Errorf("stale entry still in directory: %+v", dir)
	}

	removed, err := store.SweepStale(ctx, sessionID)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	n, err := client.HLen(ctx, presenceKey(sessionID)).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("presence hash still has %d entries after sweep", n)
	}
}

func TestPresenceRefreshKeepsEntryLive(t *testing.T) {
	client := testRedis(t)
	store := NewPresenceStore(client, 2*time.Second, nil)
	sessionID := utils.GenerateID(utils.SessionIDLength)
	cleanupSession(t, client, sessionID)
	ctx := context.Background()

	if err := store.Track(ctx, sessionID, "conn-1", PresenceEntry{ParticipantID: "p1", Name: "Dana"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if err := store.Refresh(ctx, sessionID, "conn-1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	// without the refresh the entry would be past the 2s ttl by now
	dir, err := store.Directory(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(dir) != 1 {
		t.Errorf("refreshed entry missing from directory: %+v", dir)
	}

	// refreshing an unknown connection must not create one
	if err := store.Refresh(ctx, sessionID, "ghost-conn"); err != nil {
		t.Fatalf("Refresh(ghost): %v", err)
	}
	if n, _ := client.ZCard(ctx, presenceIndexKey(sessionID)).Result(); n != 1 {
		t.Errorf("index size = %d after ghost refresh, want 1", n)
	}
}
