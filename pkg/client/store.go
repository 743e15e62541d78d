package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/realtime"
)

// Store owns the local mirror of one session visit: session row, roster,
// current participant, present-participant set, and the realtime channel.
// The backend owns durable truth; the mirror is rebuilt from it on every
// (re)connection and patched incrementally by change events in between.
// Local writes are optimistic and provisional; change events are
// authoritative.
type Store struct {
	backend  Backend
	channels ChannelFactory
	notifier Notifier
	logger   *zap.Logger

	mu                 sync.RWMutex
	session            *models.Session
	participants       []models.Participant
	current            *models.Participant
	presentIDs         map[string]struct{}
	results            []models.SessionResult
	initialized        bool
	sessionID          string
	savedParticipantID string

	channel  Channel
	listener *listener
	cancel   context.CancelFunc

	watchMu  sync.Mutex
	watchers []chan struct{}
}

// NewStore creates a session store. notifier and logger may be nil.
func NewStore(backend Backend, channels ChannelFactory, notifier Notifier, logger *zap.Logger) *Store {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:    backend,
		channels:   channels,
		notifier:   notifier,
		logger:     logger,
		presentIDs: map[string]struct{}{},
	}
}

// Initialize enters a session: fetches the session row and roster, resolves
// the current participant by membership in the fetched roster (a stale saved
// id resolves to none), then opens the realtime channel. The visible state
// transition is all-or-nothing: nothing is exposed until both fetches
// succeeded. Returns ErrSessionNotFound when the id names no session; the
// caller redirects away.
func (s *Store) Initialize(ctx context.Context, sessionID, savedParticipantID string) error {
	s.Teardown()

	if sessionID == "" {
		return ErrSessionNotFound
	}

	sess, err := s.backend.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	roster, err := s.backend.ListParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch roster: %w", err)
	}

	ch := s.channels(sessionID)
	lst := newListener(s, ch, s.notifier, s.logger)
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.sessionID = sessionID
	s.savedParticipantID = savedParticipantID
	s.session = sess
	s.participants = roster
	s.resolveCurrentLocked()
	s.presentIDs = map[string]struct{}{}
	s.initialized = true
	s.channel = ch
	s.cancel = cancel
	s.listener = lst
	s.mu.Unlock()

	go lst.run(runCtx)

	if err := ch.Subscribe(ctx); err != nil {
		s.Teardown()
		return fmt.Errorf("subscribe session channel: %w", err)
	}

	s.notifyWatchers()
	return nil
}

// Reinitialize re-enters the current session with the already-known ids.
// Used by the reconnection supervisor after a network recovery, because
// realtime subscriptions do not reliably self-heal across a partition.
func (s *Store) Reinitialize(ctx context.Context) error {
	s.mu.RLock()
	sessionID := s.sessionID
	savedID := s.savedParticipantID
	s.mu.RUnlock()
	if sessionID == "" {
		return ErrSessionNotFound
	}
	return s.Initialize(ctx, sessionID, savedID)
}

// Teardown leaves the session: unsubscribes the channel, cancels any
// pending debounced refresh, and clears the mirror. Safe to call twice.
func (s *Store) Teardown() {
	s.mu.Lock()
	ch := s.channel
	cancel := s.cancel
	lst := s.listener
	s.channel = nil
	s.cancel = nil
	s.listener = nil
	s.session = nil
	s.participants = nil
	s.current = nil
	s.results = nil
	s.presentIDs = map[string]struct{}{}
	s.initialized = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if lst != nil {
		lst.stopDebounce()
	}
	if ch != nil {
		_ = ch.Close()
	}
	s.notifyWatchers()
}

// Updates returns a channel that receives a coalesced signal whenever the
// mirror changes. Consumers read snapshots through the accessors.
func (s *Store) Updates() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()
	return ch
}

func (s *Store) notifyWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Session returns the mirrored session row.
func (s *Store) Session() (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrSessionNotFound
	}
	copy := *s.session
	return &copy, nil
}

// CurrentParticipant returns the resolved current participant.
func (s *Store) CurrentParticipant() (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrParticipantNotFound
	}
	copy := *s.current
	return &copy, nil
}

// NeedsParticipant reports that initialization finished without resolving a
// current participant: the caller should prompt for the join form.
func (s *Store) NeedsParticipant() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized && s.current == nil
}

// Participants returns a copy of the roster.
func (s *Store) Participants() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// PresentParticipants returns the roster members whose id is in the
// presence set. Display ordering is left to the consumer.
func (s *Store) PresentParticipants() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Participant
	for _, p := range s.participants {
		if _, ok := s.presentIDs[p.ID.String()]; ok {
			out = append(out, p)
		}
	}
	return out
}

// CreateSession creates a new session and returns it. The caller navigates
// to the session link afterwards.
func (s *Store) CreateSession(ctx context.Context, estimateOptions string) (*models.Session, error) {
	if err := models.ValidateEstimateOptions(estimateOptions); err != nil {
		return nil, err
	}
	return s.backend.CreateSession(ctx, estimateOptions)
}

// Join creates a participant in the current session, pins it as the
// current user for this visit, and announces presence.
func (s *Store) Join(ctx context.Context, name string) (*models.Participant, error) {
	s.mu.RLock()
	sessionID := s.sessionID
	ch := s.channel
	s.mu.RUnlock()
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	p, err := s.backend.CreateParticipant(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.participants = append(s.participants, *p)
	cur := *p
	s.current = &cur
	s.savedParticipantID = p.ID.String()
	s.mu.Unlock()
	s.notifyWatchers()

	if ch == nil {
		return nil, ErrChannelNotReady
	}
	if err := ch.Track(ctx, realtime.PresenceEntry{
		ParticipantID: p.ID.String(),
		Name:          p.Name,
		OnlineAt:      time.Now(),
	}); err != nil {
		// best-effort; presence is re-announced on the next subscribe
		s.logger.Warn("presence track failed", zap.Error(err))
	}
	return p, nil
}

// SelectEstimate toggles the current participant's estimate: selecting the
// already-selected option clears it. The local mirror updates optimistically
// before the write-through; the echoed change event reconfirms it.
func (s *Store) SelectEstimate(ctx context.Context, option float64) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrParticipantNotFound
	}
	if s.current.IsObserver {
		s.mu.Unlock()
		return fmt.Errorf("observers cannot estimate")
	}
	var estimate *float64
	if s.current.Estimate == nil || *s.current.Estimate != option {
		v := option
		estimate = &v
	}
	id := s.current.ID
	s.applyParticipantLocked(id, estimate, s.current.IsObserver)
	s.mu.Unlock()
	s.notifyWatchers()

	_, err := s.backend.UpdateParticipant(ctx, id, map[string]any{"estimate": estimate})
	if err != nil {
		return fmt.Errorf("persist estimate: %w", err)
	}
	return nil
}

// ToggleObserver flips the current participant between voter and observer.
// Becoming an observer clears the estimate; both fields travel in one write
// so no intermediate state is observable.
func (s *Store) ToggleObserver(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrParticipantNotFound
	}
	isObserver := !s.current.IsObserver
	id := s.current.ID
	s.applyParticipantLocked(id, nil, isObserver)
	s.mu.Unlock()
	s.notifyWatchers()

	_, err := s.backend.UpdateParticipant(ctx, id, map[string]any{
		"estimate":   (*float64)(nil),
		"isObserver": isObserver,
	})
	if err != nil {
		return fmt.Errorf("persist observer mode: %w", err)
	}
	return nil
}

// UpdateEstimateOptions replaces the session's option list.
func (s *Store) UpdateEstimateOptions(ctx context.Context, estimateOptions string) error {
	if err := models.ValidateEstimateOptions(estimateOptions); err != nil {
		return err
	}
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()
	if sessionID == "" {
		return ErrSessionNotFound
	}

	updated, err := s.backend.UpdateSession(ctx, sessionID, map[string]any{"estimateOptions": estimateOptions})
	if err != nil {
		return fmt.Errorf("persist estimate options: %w", err)
	}
	s.applySessionChange(*updated)
	return nil
}

// applyParticipantLocked updates the current participant and its roster row.
// Applying an already-applied value is a no-op by construction.
func (s *Store) applyParticipantLocked(id uuid.UUID, estimate *float64, isObserver bool) {
	if isObserver {
		estimate = nil
	}
	if s.current != nil && s.current.ID == id {
		s.current.Estimate = estimate
		s.current.IsObserver = isObserver
	}
	for i := range s.participants {
		if s.participants[i].ID == id {
			s.participants[i].Estimate = estimate
			s.participants[i].IsObserver = isObserver
			break
		}
	}
}

// applySessionChange applies a session row from a change event or a write
// response. A transition of the average to null is the restart signal: the
// current participant's local estimate clears with it.
func (s *Store) applySessionChange(sess models.Session) {
	s.mu.Lock()
	if s.session == nil || s.session.ID != sess.ID {
		s.mu.Unlock()
		return
	}
	restarted := s.session.AverageEstimate != nil && sess.AverageEstimate == nil
	s.session = &sess
	if restarted && s.current != nil {
		s.applyParticipantLocked(s.current.ID, nil, s.current.IsObserver)
	}
	s.mu.Unlock()
	s.notifyWatchers()
}

// applyPresence replaces the present-participant set.
func (s *Store) applyPresence(ids map[string]struct{}) {
	s.mu.Lock()
	s.presentIDs = ids
	s.mu.Unlock()
	s.notifyWatchers()
}

// refreshRoster re-fetches the full roster and re-resolves the current
// participant. Called by the listener after (debounced) participant events
// and on first subscribe.
func (s *Store) refreshRoster(ctx context.Context) error {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()
	if sessionID == "" {
		return ErrSessionNotFound
	}

	roster, err := s.backend.ListParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("refresh roster: %w", err)
	}

	s.mu.Lock()
	s.participants = roster
	s.resolveCurrentLocked()
	s.mu.Unlock()
	s.notifyWatchers()
	return nil
}

// fullResync re-fetches session and roster from scratch. Used when the
// channel returns to subscribed after an outage: events during the outage
// are not guaranteed delivered, so nothing buffered is trusted.
func (s *Store) fullResync(ctx context.Context) error {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()
	if sessionID == "" {
		return ErrSessionNotFound
	}

	sess, err := s.backend.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	roster, err := s.backend.ListParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resync roster: %w", err)
	}

	s.mu.Lock()
	s.session = sess
	s.participants = roster
	s.resolveCurrentLocked()
	s.mu.Unlock()
	s.notifyWatchers()
	return nil
}

// resolveCurrentLocked selects the current participant by matching the
// saved id against the roster. A stale id from another or recreated session
// resolves to no current user.
func (s *Store) resolveCurrentLocked() {
	s.current = nil
	if s.savedParticipantID == "" {
		return
	}
	for i := range s.participants {
		if s.participants[i].ID.String() == s.savedParticipantID {
			cur := s.participants[i]
			s.current = &cur
			return
		}
	}
}

// trackPresence re-announces the current participant on the channel.
// Best-effort: failures are logged, not surfaced.
func (s *Store) trackPresence(ctx context.Context) {
	s.mu.RLock()
	ch := s.channel
	cur := s.current
	s.mu.RUnlock()
	if ch == nil || cur == nil {
		return
	}
	if err := ch.Track(ctx, realtime.PresenceEntry{
		ParticipantID: cur.ID.String(),
		Name:          cur.Name,
		OnlineAt:      time.Now(),
	}); err != nil {
		s.logger.Warn("presence re-announce failed", zap.Error(err))
	}
}
