package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReconnectNoticeDuration is how long the reconnected banner stays up.
const ReconnectNoticeDuration = 3 * time.Second

// Supervisor reacts to network availability. Realtime channels do not
// reliably recover from a partition on their own, so the supervisor tears
// the session down when the network drops and rebuilds it from scratch when
// the network returns. Participant identity survives the rebuild: the
// saved id re-resolves against the fresh roster, so an estimate persisted
// before the outage reappears after it.
type Supervisor struct {
	store    *Store
	notifier Notifier
	logger   *zap.Logger

	mu     sync.Mutex
	online bool
	hide   *time.Timer
}

// NewSupervisor wires a supervisor to a store. The supervisor assumes the
// network starts online.
func NewSupervisor(store *Store, notifier Notifier, logger *zap.Logger) *Supervisor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		store:    store,
		notifier: notifier,
		logger:   logger,
		online:   true,
	}
}

// SetOnline feeds the current network state. Repeated reports of the same
// state are ignored. Going offline shows a persistent disconnect notice;
// coming back online reinitializes the session and swaps the notice for a
// short-lived reconnected one.
func (sv *Supervisor) SetOnline(ctx context.Context, online bool) error {
	sv.mu.Lock()
	if online == sv.online {
		sv.mu.Unlock()
		return nil
	}
	sv.online = online
	if sv.hide != nil {
		sv.hide.Stop()
		sv.hide = nil
	}
	sv.mu.Unlock()

	if !online {
		sv.logger.Warn("network offline")
		sv.notifier.Show(MessageDisconnected)
		return nil
	}

	sv.logger.Info("network restored, reinitializing session")
	if err := sv.store.Reinitialize(ctx); err != nil {
		sv.notifier.Show(MessageDisconnected)
		return err
	}

	sv.notifier.Show(MessageReconnected)
	sv.mu.Lock()
	sv.hide = time.AfterFunc(ReconnectNoticeDuration, sv.notifier.Hide)
	sv.mu.Unlock()
	return nil
}

// Online reports the last known network state.
func (sv *Supervisor) Online() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.online
}
