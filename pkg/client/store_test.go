package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/realtime"
)

func TestInitializeResolvesSavedParticipant(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")

	ch := newFakeChannel()
	store := newTestStore(backend, ch)
	defer store.Teardown()

	if err := store.Initialize(context.Background(), "abc1234567", p.ID.String()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	cur, err := store.CurrentParticipant()
	if err != nil {
		t.Fatalf("CurrentParticipant: %v", err)
	}
	if cur.Name != "Dana" {
		t.Errorf("current participant = %q, want Dana", cur.Name)
	}
	if store.NeedsParticipant() {
		t.Error("NeedsParticipant = true with a resolved participant")
	}
}

func TestInitializeStaleParticipantID(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")

	store := newTestStore(backend, newFakeChannel())
	defer store.Teardown()

	// id saved from another (or recreated) session
	if err := store.Initialize(context.Background(), "abc1234567", "5dd0bd2a-1111-2222-3333-444455556666"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := store.CurrentParticipant(); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("CurrentParticipant err = %v, want ErrParticipantNotFound", err)
	}
	if !store.NeedsParticipant() {
		t.Error("NeedsParticipant = false, want true for a stale saved id")
	}
}

func TestInitializeUnknownSession(t *testing.T) {
	store := newTestStore(newFakeBackend(), newFakeChannel())
	err := store.Initialize(context.Background(), "nosuchsess", "")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Initialize err = %v, want ErrSessionNotFound", err)
	}
}

func TestJoinTracksPresence(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")

	ch := newFakeChannel()
	store := newTestStore(backend, ch)
	defer store.Teardown()

	if err := store.Initialize(context.Background(), "abc1234567", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	p, err := store.Join(context.Background(), "Robin")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if p.Name != "Robin" {
		t.Errorf("joined name = %q", p.Name)
	}

	waitFor(t, func() bool { return ch.trackCount() >= 1 }, "presence never tracked after join")

	ch.mu.Lock()
	entry := ch.tracked[len(ch.tracked)-1]
	ch.mu.Unlock()
	if entry.ParticipantID != p.ID.String() {
		t.Errorf("tracked participant id = %s, want %s", entry.ParticipantID, p.ID)
	}
}

func TestSelectEstimateToggles(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")

	store := newTestStore(backend, newFakeChannel())
	defer store.Teardown()
	ctx := context.Background()
	initSynced(t, store, backend, "abc1234567", p.ID.String())

	if err := store.SelectEstimate(ctx, 3); err != nil {
		t.Fatalf("SelectEstimate: %v", err)
	}
	cur, _ := store.CurrentParticipant()
	if cur.Estimate == nil || *cur.Estimate != 3 {
		t.Fatalf("estimate after select = %v, want 3", cur.Estimate)
	}

	// selecting the same option again clears it
	if err := store.SelectEstimate(ctx, 3); err != nil {
		t.Fatalf("SelectEstimate toggle: %v", err)
	}
	cur, _ = store.CurrentParticipant()
	if cur.Estimate != nil {
		t.Fatalf("estimate after toggle = %v, want nil", *cur.Estimate)
	}
}

func TestToggleObserverClearsEstimate(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")

	store := newTestStore(backend, newFakeChannel())
	defer store.Teardown()
	ctx := context.Background()
	initSynced(t, store, backend, "abc1234567", p.ID.String())
	if err := store.SelectEstimate(ctx, 2); err != nil {
		t.Fatalf("SelectEstimate: %v", err)
	}

	if err := store.ToggleObserver(ctx); err != nil {
		t.Fatalf("ToggleObserver: %v", err)
	}
	cur, _ := store.CurrentParticipant()
	if !cur.IsObserver {
		t.Error("IsObserver = false after toggle")
	}
	if cur.Estimate != nil {
		t.Errorf("estimate = %v after becoming observer, want nil", *cur.Estimate)
	}
	if err := store.SelectEstimate(ctx, 1); err == nil {
		t.Error("SelectEstimate as observer succeeded, want error")
	}

	if err := store.ToggleObserver(ctx); err != nil {
		t.Fatalf("ToggleObserver back: %v", err)
	}
	cur, _ = store.CurrentParticipant()
	if cur.IsObserver {
		t.Error("IsObserver = true after toggling back")
	}
	if cur.Estimate != nil {
		t.Error("estimate restored after observer round-trip, want still nil")
	}
}

func TestPresenceDedupesByParticipant(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")
	q := backend.addParticipant("abc1234567", "Robin")

	ch := newFakeChannel()
	store := newTestStore(backend, ch)
	defer store.Teardown()
	if err := store.Initialize(context.Background(), "abc1234567", p.ID.String()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Dana is connected from two tabs; Robin from one.
	ch.events <- Event{Kind: EventPresence, Presence: map[string]realtime.PresenceEntry{
		"conn-1": {ParticipantID: p.ID.String(), Name: "Dana"},
		"conn-2": {ParticipantID: p.ID.String(), Name: "Dana"},
		"conn-3": {ParticipantID: q.ID.String(), Name: "Robin"},
	}}

	waitFor(t, func() bool { return len(store.PresentParticipants()) == 2 },
		"present set never reached 2 distinct participants")
}

func TestSessionChangeRestartClearsLocalEstimate(t *testing.T) {
	backend := newFakeBackend()
	sess := backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")

	ch := newFakeChannel()
	store := newTestStore(backend, ch)
	defer store.Teardown()
	ctx := context.Background()
	initSynced(t, store, backend, "abc1234567", p.ID.String())
	if err := store.SelectEstimate(ctx, 2); err != nil {
		t.Fatalf("SelectEstimate: %v", err)
	}

	// another client reveals, then restarts
	avg := 2.0
	revealed := *sess
	revealed.AverageEstimate = &avg
	revealed.Version = 2
	pushSessionChange(t, ch, revealed)
	waitFor(t, func() bool {
		s, err := store.Session()
		return err == nil && s.AverageEstimate != nil
	}, "reveal never applied")

	restarted := revealed
	restarted.AverageEstimate = nil
	restarted.Version = 3
	pushSessionChange(t, ch, restarted)

	waitFor(t, func() bool {
		cur, err := store.CurrentParticipant()
		return err == nil && cur.Estimate == nil
	}, "restart did not clear the local estimate")
}

func pushSessionChange(t *testing.T, ch *fakeChannel, sess models.Session) {
	t.Helper()
	raw, err := json.Marshal(sess)
	if err != nil {
		t.Fatal(err)
	}
	ch.events <- Event{Kind: EventChange, Change: &realtime.ChangeEvent{
		Table: "session", Type: "UPDATE", New: raw,
	}}
}

func TestUpdateEstimateOptionsValidates(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")

	store := newTestStore(backend, newFakeChannel())
	defer store.Teardown()
	ctx := context.Background()
	initSynced(t, store, backend, "abc1234567", "")

	if err := store.UpdateEstimateOptions(ctx, "5"); err == nil {
		t.Error("single option accepted, want validation error")
	}
	if err := store.UpdateEstimateOptions(ctx, "0.5, 1, 2, 5"); err != nil {
		t.Errorf("valid options rejected: %v", err)
	}
	s, _ := store.Session()
	if s.EstimateOptions != "0.5, 1, 2, 5" {
		t.Errorf("options = %q after update", s.EstimateOptions)
	}
}

func TestTeardownClosesChannel(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	ch := newFakeChannel()
	store := newTestStore(backend, ch)
	if err := store.Initialize(context.Background(), "abc1234567", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	store.Teardown()

	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if !closed {
		t.Error("channel not closed on teardown")
	}
	if _, err := store.Session(); !errors.Is(err, ErrSessionNotFound) {
		t.Error("session still readable after teardown")
	}
	// second teardown is a no-op
	store.Teardown()
}
