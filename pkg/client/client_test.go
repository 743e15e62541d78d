package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/realtime"
)

// fakeBackend is an in-memory Backend with call counters for asserting how
// often the store re-fetches.
type fakeBackend struct {
	mu           sync.Mutex
	sessions     map[string]*models.Session
	participants map[string][]models.Participant
	results      map[string][]models.SessionResult

	listParticipantCalls int
	getSessionCalls      int
	forceConflict        bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions:     map[string]*models.Session{},
		participants: map[string][]models.Participant{},
		results:      map[string][]models.SessionResult{},
	}
}

func (f *fakeBackend) addSession(id, options string) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &models.Session{ID: id, EstimateOptions: options, Version: 1}
	f.sessions[id] = s
	return s
}

func (f *fakeBackend) addParticipant(sessionID, name string) models.Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := models.Participant{ID: uuid.New(), SessionID: sessionID, Name: name}
	f.participants[sessionID] = append(f.participants[sessionID], p)
	return p
}

func (f *fakeBackend) CreateSession(_ context.Context, options string) (*models.Session, error) {
	return f.addSession(uuid.NewString()[:10], options), nil
}

func (f *fakeBackend) GetSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getSessionCalls++
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copy := *s
	return &copy, nil
}

func (f *fakeBackend) UpdateSession(_ context.Context, id string, fields map[string]any) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if v, ok := fields["estimateOptions"]; ok {
		s.EstimateOptions = v.(string)
	}
	copy := *s
	return &copy, nil
}

func (f *fakeBackend) UpdateAverageEstimate(_ context.Context, id string, average *float64, expectedVersion int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if f.forceConflict || s.Version != expectedVersion {
		return nil, ErrEstimateConflict
	}
	s.AverageEstimate = average
	s.Version++
	copy := *s
	return &copy, nil
}

func (f *fakeBackend) ListParticipants(_ context.Context, sessionID string) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listParticipantCalls++
	out := make([]models.Participant, len(f.participants[sessionID]))
	copy(out, f.participants[sessionID])
	return out, nil
}

func (f *fakeBackend) CreateParticipant(_ context.Context, sessionID, name string) (*models.Participant, error) {
	p := f.addParticipant(sessionID, name)
	return &p, nil
}

func (f *fakeBackend) UpdateParticipant(_ context.Context, id uuid.UUID, fields map[string]any) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid := range f.participants {
		for i := range f.participants[sid] {
			p := &f.participants[sid][i]
			if p.ID != id {
				continue
			}
			if v, ok := fields["isObserver"]; ok {
				p.IsObserver = v.(bool)
			}
			if v, ok := fields["estimate"]; ok {
				p.Estimate, _ = v.(*float64)
			}
			if p.IsObserver {
				p.Estimate = nil
			}
			copy := *p
			return &copy, nil
		}
	}
	return nil, ErrParticipantNotFound
}

func (f *fakeBackend) ClearEstimates(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.participants[sessionID] {
		f.participants[sessionID][i].Estimate = nil
	}
	return nil
}

func (f *fakeBackend) CreateResult(_ context.Context, result *models.SessionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	result.ID = uuid.New()
	result.CreatedAt = time.Now()
	f.results[result.SessionID] = append(f.results[result.SessionID], *result)
	return nil
}

func (f *fakeBackend) ListResults(_ context.Context, sessionID string) ([]models.SessionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SessionResult, len(f.results[sessionID]))
	copy(out, f.results[sessionID])
	return out, nil
}

func (f *fakeBackend) UpdateResultDescription(_ context.Context, id uuid.UUID, description string) (*models.SessionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid := range f.results {
		for i := range f.results[sid] {
			if f.results[sid][i].ID == id {
				f.results[sid][i].Description = description
				copy := f.results[sid][i]
				return &copy, nil
			}
		}
	}
	return nil, ErrSessionNotFound
}

func (f *fakeBackend) DeleteResult(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid := range f.results {
		for i := range f.results[sid] {
			if f.results[sid][i].ID == id {
				f.results[sid] = append(f.results[sid][:i], f.results[sid][i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// fakeChannel delivers test-scripted events and records presence calls.
type fakeChannel struct {
	mu      sync.Mutex
	events  chan Event
	tracked []realtime.PresenceEntry
	closed  bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan Event, 64)}
}

func (f *fakeChannel) Subscribe(context.Context) error {
	f.events <- Event{Kind: EventStatus, Status: StatusSubscribed}
	return nil
}

func (f *fakeChannel) Events() <-chan Event { return f.events }

func (f *fakeChannel) Track(_ context.Context, entry realtime.PresenceEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, entry)
	return nil
}

func (f *fakeChannel) Untrack(context.Context) error { return nil }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracked)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func (f *fakeBackend) rosterFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listParticipantCalls
}

func newTestStore(backend Backend, ch Channel) *Store {
	return NewStore(backend, func(string) Channel { return ch }, nil, nil)
}

// initSynced initializes the store and waits for the listener's first
// roster refresh, so later optimistic writes cannot race with it.
func initSynced(t *testing.T, store *Store, backend *fakeBackend, sessionID, participantID string) {
	t.Helper()
	before := backend.rosterFetches()
	if err := store.Initialize(context.Background(), sessionID, participantID); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitFor(t, func() bool { return backend.rosterFetches() >= before+2 },
		"initial roster refresh never ran")
}
