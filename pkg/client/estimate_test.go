package client

import (
	"context"
	"errors"
	"testing"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/realtime"
)

func fp(v float64) *float64 { return &v }

func TestComputeAverage(t *testing.T) {
	voter := func(e *float64) models.Participant {
		return models.Participant{Estimate: e}
	}
	observer := func(e *float64) models.Participant {
		return models.Participant{IsObserver: true, Estimate: e}
	}

	tests := []struct {
		name    string
		present []models.Participant
		want    float64
		wantErr error
	}{
		{
			name:    "whole result",
			present: []models.Participant{voter(fp(1)), voter(fp(2)), voter(fp(3))},
			want:    2.0,
		},
		{
			name:    "half kept",
			present: []models.Participant{voter(fp(1)), voter(fp(2))},
			want:    1.5,
		},
		{
			name:    "truncates toward zero not rounds",
			present: []models.Participant{voter(fp(1)), voter(fp(1)), voter(fp(1)), voter(fp(2))},
			want:    1.2, // 1.25 floors to 1.2
		},
		{
			name:    "repeating decimal truncates",
			present: []models.Participant{voter(fp(1)), voter(fp(1)), voter(fp(3))},
			want:    1.6, // 1.666... floors to 1.6
		},
		{
			name:    "observers excluded",
			present: []models.Participant{voter(fp(2)), observer(nil), voter(fp(4))},
			want:    3.0,
		},
		{
			name:    "undecided voters excluded",
			present: []models.Participant{voter(fp(5)), voter(nil)},
			want:    5.0,
		},
		{
			name:    "single estimate",
			present: []models.Participant{voter(fp(0.5))},
			want:    0.5,
		},
		{
			name:    "no one present",
			present: nil,
			wantErr: ErrNoEstimates,
		},
		{
			name:    "only observers and undecided",
			present: []models.Participant{observer(nil), voter(nil)},
			wantErr: ErrNoEstimates,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeAverage(tt.present)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("average = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRevealAverageRecordsResult(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")

	ch := newFakeChannel()
	store := newTestStore(backend, ch)
	defer store.Teardown()
	ctx := context.Background()
	initSynced(t, store, backend, "abc1234567", p.ID.String())

	ch.events <- Event{Kind: EventPresence, Presence: map[string]realtime.PresenceEntry{
		"conn-1": {ParticipantID: p.ID.String(), Name: "Dana"},
	}}
	waitFor(t, func() bool { return len(store.PresentParticipants()) == 1 }, "presence never applied")

	if err := store.SelectEstimate(ctx, 3); err != nil {
		t.Fatalf("SelectEstimate: %v", err)
	}
	if err := store.RevealAverage(ctx, "login screen"); err != nil {
		t.Fatalf("RevealAverage: %v", err)
	}

	s, _ := store.Session()
	if s.AverageEstimate == nil || *s.AverageEstimate != 3.0 {
		t.Fatalf("average = %v, want 3.0", s.AverageEstimate)
	}

	results, err := backend.ListResults(ctx, "abc1234567")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].AverageEstimate != 3.0 || results[0].Description != "login screen" || results[0].GeneratedBy != "Dana" {
		t.Errorf("recorded result = %+v", results[0])
	}
}

func TestRevealAverageNothingToReveal(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")

	store := newTestStore(backend, newFakeChannel())
	defer store.Teardown()
	initSynced(t, store, backend, "abc1234567", p.ID.String())

	// nobody is present, so no estimates count
	if err := store.RevealAverage(context.Background(), ""); !errors.Is(err, ErrNoEstimates) {
		t.Fatalf("RevealAverage err = %v, want ErrNoEstimates", err)
	}
}

func TestRevealAverageConflictLeavesMirrorUntouched(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")

	ch := newFakeChannel()
	store := newTestStore(backend, ch)
	defer store.Teardown()
	ctx := context.Background()
	initSynced(t, store, backend, "abc1234567", p.ID.String())

	ch.events <- Event{Kind: EventPresence, Presence: map[string]realtime.PresenceEntry{
		"conn-1": {ParticipantID: p.ID.String(), Name: "Dana"},
	}}
	waitFor(t, func() bool { return len(store.PresentParticipants()) == 1 }, "presence never applied")
	if err := store.SelectEstimate(ctx, 2); err != nil {
		t.Fatalf("SelectEstimate: %v", err)
	}

	backend.mu.Lock()
	backend.forceConflict = true
	backend.mu.Unlock()

	if err := store.RevealAverage(ctx, ""); !errors.Is(err, ErrEstimateConflict) {
		t.Fatalf("RevealAverage err = %v, want ErrEstimateConflict", err)
	}

	// the loser's mirror stays as-is until the winner's change event lands
	s, _ := store.Session()
	if s.AverageEstimate != nil {
		t.Errorf("mirror average = %v after lost race, want nil", *s.AverageEstimate)
	}
	if got, _ := backend.ListResults(ctx, "abc1234567"); len(got) != 0 {
		t.Errorf("loser recorded %d results, want 0", len(got))
	}
}

func TestRestartEstimationClears(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")
	p := backend.addParticipant("abc1234567", "Dana")

	ch := newFakeChannel()
	store := newTestStore(backend, ch)
	defer store.Teardown()
	ctx := context.Background()
	initSynced(t, store, backend, "abc1234567", p.ID.String())

	ch.events <- Event{Kind: EventPresence, Presence: map[string]realtime.PresenceEntry{
		"conn-1": {ParticipantID: p.ID.String(), Name: "Dana"},
	}}
	waitFor(t, func() bool { return len(store.PresentParticipants()) == 1 }, "presence never applied")

	if err := store.SelectEstimate(ctx, 2); err != nil {
		t.Fatalf("SelectEstimate: %v", err)
	}
	if err := store.RevealAverage(ctx, ""); err != nil {
		t.Fatalf("RevealAverage: %v", err)
	}
	if err := store.RestartEstimation(ctx); err != nil {
		t.Fatalf("RestartEstimation: %v", err)
	}

	s, _ := store.Session()
	if s.AverageEstimate != nil {
		t.Errorf("average = %v after restart, want nil", *s.AverageEstimate)
	}
	cur, _ := store.CurrentParticipant()
	if cur.Estimate != nil {
		t.Errorf("local estimate = %v after restart, want nil", *cur.Estimate)
	}
	roster, _ := backend.ListParticipants(ctx, "abc1234567")
	for _, rp := range roster {
		if rp.Estimate != nil {
			t.Errorf("participant %s still has estimate %v after restart", rp.Name, *rp.Estimate)
		}
	}
}

func TestResultHistoryEditing(t *testing.T) {
	backend := newFakeBackend()
	backend.addSession("abc1234567", "1, 2, 3")

	store := newTestStore(backend, newFakeChannel())
	defer store.Teardown()
	ctx := context.Background()
	initSynced(t, store, backend, "abc1234567", "")

	res := &models.SessionResult{SessionID: "abc1234567", AverageEstimate: 2.5, Description: "checkout flow"}
	if err := backend.CreateResult(ctx, res); err != nil {
		t.Fatal(err)
	}
	if err := store.RefreshResults(ctx); err != nil {
		t.Fatalf("RefreshResults: %v", err)
	}
	if got := store.Results(); len(got) != 1 || got[0].Description != "checkout flow" {
		t.Fatalf("results = %+v", got)
	}

	if err := store.UpdateResultDescription(ctx, res.ID, "checkout flow v2"); err != nil {
		t.Fatalf("UpdateResultDescription: %v", err)
	}
	if got := store.Results(); got[0].Description != "checkout flow v2" {
		t.Errorf("description = %q after edit", got[0].Description)
	}

	if err := store.DeleteResult(ctx, res.ID); err != nil {
		t.Fatalf("DeleteResult: %v", err)
	}
	if got := store.Results(); len(got) != 0 {
		t.Errorf("results = %d after delete, want 0", len(got))
	}
}
