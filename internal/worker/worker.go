package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/planpoker/backend/internal/activity"
	"github.com/planpoker/backend/internal/realtime"
	"github.com/planpoker/backend/pkg/queue"
)

// ActivityProcessor drains session activity jobs into the attendance log.
type ActivityProcessor struct {
	repo   *activity.Repository
	queue  *queue.Queue
	logger *zap.Logger
}

// NewActivityProcessor creates an activity log processor.
func NewActivityProcessor(repo *activity.Repository, q *queue.Queue, logger *zap.Logger) *ActivityProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityProcessor{repo: repo, queue: q, logger: logger}
}

// Process executes one activity job.
func (p *ActivityProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.ActivityPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	switch job.Type {
	case queue.JobTypeActivityJoin:
		return p.repo.LogJoin(ctx, payload.SessionID, payload.ParticipantID, payload.JoinedAt)
	case queue.JobTypeActivityLeave:
		return p.repo.LogLeave(ctx, payload.SessionID, payload.ParticipantID, payload.LeftAt)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ActivityProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("activity worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}

// PresenceSweeper periodically removes presence entries whose heartbeat went
// stale (dead socket, crashed instance) and re-publishes the directory for
// affected sessions.
type PresenceSweeper struct {
	presence *realtime.PresenceStore
	hub      *realtime.Hub
	interval time.Duration
	logger   *zap.Logger
}

// NewPresenceSweeper creates a presence sweeper.
func NewPresenceSweeper(presence *realtime.PresenceStore, hub *realtime.Hub, interval time.Duration, logger *zap.Logger) *PresenceSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceSweeper{presence: presence, hub: hub, interval: interval, logger: logger}
}

// Run sweeps on a ticker until ctx is done.
func (s *PresenceSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("presence sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *PresenceSweeper) sweep(ctx context.Context) {
	sessionIDs, err := s.presence.SessionKeys(ctx)
	if err != nil {
		s.logger.Warn("presence sweep scan", zap.Error(err))
		return
	}
	for _, sessionID := range sessionIDs {
		removed, err := s.presence.SweepStale(ctx, sessionID)
		if err != nil {
			s.logger.Warn("presence sweep", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		if removed > 0 {
			s.logger.Info("swept stale presence entries",
				zap.String("session_id", sessionID),
				zap.Int("removed", removed),
			)
			s.hub.PublishPresenceSync(ctx, sessionID)
		}
	}
}
