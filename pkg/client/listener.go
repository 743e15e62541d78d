package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/realtime"
)

// RosterRefreshDebounce coalesces bursts of participant events (restarts
// and mass estimate clears touch every row) into a single roster re-fetch.
const RosterRefreshDebounce = 150 * time.Millisecond

// listener drains one channel's event stream and patches the store.
// Status transitions drive the sync protocol: the first subscribed state
// completes initialization (roster refresh + presence announce); a
// subscribed state entered after an interruption triggers a full resync
// because events during the outage may have been dropped.
type listener struct {
	store    *Store
	channel  Channel
	notifier Notifier
	logger   *zap.Logger

	everSubscribed bool
	interrupted    bool

	debounceMu sync.Mutex
	debounce   *time.Timer
}

func newListener(store *Store, channel Channel, notifier Notifier, logger *zap.Logger) *listener {
	return &listener{
		store:    store,
		channel:  channel,
		notifier: notifier,
		logger:   logger,
	}
}

func (l *listener) run(ctx context.Context) {
	defer l.stopDebounce()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.channel.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case EventStatus:
				l.handleStatus(ctx, ev.Status)
			case EventChange:
				l.handleChange(ctx, ev.Change)
			case EventPresence:
				l.handlePresence(ev.Presence)
			}
		}
	}
}

func (l *listener) handleStatus(ctx context.Context, status ChannelStatus) {
	switch status {
	case StatusSubscribed:
		if !l.everSubscribed {
			l.everSubscribed = true
			if err := l.store.refreshRoster(ctx); err != nil {
				l.logger.Warn("initial roster refresh failed", zap.Error(err))
			}
		} else if l.interrupted {
			l.interrupted = false
			if err := l.store.fullResync(ctx); err != nil {
				l.logger.Warn("post-outage resync failed", zap.Error(err))
			}
		}
		l.store.trackPresence(ctx)
	case StatusDisconnected, StatusError:
		l.interrupted = true
		l.logger.Warn("session channel interrupted", zap.String("status", string(status)))
	}
}

func (l *listener) handleChange(ctx context.Context, change *realtime.ChangeEvent) {
	if change == nil {
		return
	}
	switch change.Table {
	case "session":
		var sess models.Session
		if len(change.New) == 0 {
			return
		}
		if err := json.Unmarshal(change.New, &sess); err != nil {
			l.logger.Warn("malformed session change", zap.Error(err))
			return
		}
		l.store.applySessionChange(sess)
	case "participant":
		// Payload contents are not trusted for the mirror; any participant
		// event schedules a debounced authoritative re-fetch.
		l.scheduleRosterRefresh(ctx)
	}
}

func (l *listener) handlePresence(entries map[string]realtime.PresenceEntry) {
	// Entries are keyed by connection; the same participant in several
	// tabs collapses to one id here.
	ids := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ParticipantID != "" {
			ids[e.ParticipantID] = struct{}{}
		}
	}
	l.store.applyPresence(ids)
}

func (l *listener) scheduleRosterRefresh(ctx context.Context) {
	l.debounceMu.Lock()
	defer l.debounceMu.Unlock()
	if l.debounce != nil {
		l.debounce.Stop()
	}
	l.debounce = time.AfterFunc(RosterRefreshDebounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := l.store.refreshRoster(ctx); err != nil {
			l.logger.Warn("roster refresh failed", zap.Error(err))
		}
	})
}

// stopDebounce cancels any pending roster refresh so a teardown cannot be
// followed by a stray fetch.
func (l *listener) stopDebounce() {
	l.debounceMu.Lock()
	defer l.debounceMu.Unlock()
	if l.debounce != nil {
		l.debounce.Stop()
		l.debounce = nil
	}
}
