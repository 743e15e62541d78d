package client

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planpoker/backend/internal/models"
)

// ComputeAverage averages the estimates of present, non-observer
// participants and truncates toward zero to one decimal place, so a
// computed 2.25 stores as 2.2 and displayed values never round up.
// Returns ErrNoEstimates when no present voter has selected anything.
func ComputeAverage(present []models.Participant) (float64, error) {
	var sum float64
	var n int
	for _, p := range present {
		if p.IsObserver || p.Estimate == nil {
			continue
		}
		sum += *p.Estimate
		n++
	}
	if n == 0 {
		return 0, ErrNoEstimates
	}
	return math.Floor(sum/float64(n)*10) / 10, nil
}

// RevealAverage computes the round's average from the currently present
// voters and writes it with a compare-and-swap on the session version. The
// first revealer wins; a concurrent reveal surfaces ErrEstimateConflict and
// leaves the mirror untouched, to be overwritten by the winner's change
// event. The winner also records the round as a session result.
func (s *Store) RevealAverage(ctx context.Context, description string) error {
	s.mu.RLock()
	sess := s.session
	cur := s.current
	s.mu.RUnlock()
	if sess == nil {
		return ErrSessionNotFound
	}

	avg, err := ComputeAverage(s.PresentParticipants())
	if err != nil {
		return err
	}

	updated, err := s.backend.UpdateAverageEstimate(ctx, sess.ID, &avg, sess.Version)
	if err != nil {
		if errors.Is(err, ErrEstimateConflict) {
			s.notifier.Show(MessageConflict)
			return ErrEstimateConflict
		}
		return fmt.Errorf("reveal average: %w", err)
	}
	s.applySessionChange(*updated)

	if description == "" {
		description = models.DefaultResultDescription
	}
	result := &models.SessionResult{
		SessionID:       sess.ID,
		AverageEstimate: avg,
		Description:     description,
	}
	if cur != nil {
		result.GeneratedBy = cur.Name
	}
	if err := s.backend.CreateResult(ctx, result); err != nil {
		// the reveal already succeeded; the history entry is best-effort
		s.logger.Warn("record session result failed", zap.Error(err))
	}
	return nil
}

// RestartEstimation clears the revealed average and every participant's
// estimate, starting a fresh round. The average write carries the same
// compare-and-swap guard as a reveal, so a restart racing a reveal resolves
// deterministically.
func (s *Store) RestartEstimation(ctx context.Context) error {
	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()
	if sess == nil {
		return ErrSessionNotFound
	}

	updated, err := s.backend.UpdateAverageEstimate(ctx, sess.ID, nil, sess.Version)
	if err != nil {
		if errors.Is(err, ErrEstimateConflict) {
			s.notifier.Show(MessageConflict)
			return ErrEstimateConflict
		}
		return fmt.Errorf("restart estimation: %w", err)
	}
	s.applySessionChange(*updated)

	if err := s.backend.ClearEstimates(ctx, sess.ID); err != nil {
		return fmt.Errorf("clear estimates: %w", err)
	}
	return nil
}

// Results returns the mirrored result history, most recent first.
func (s *Store) Results() []models.SessionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SessionResult, len(s.results))
	copy(out, s.results)
	return out
}

// RefreshResults re-fetches the result history.
func (s *Store) RefreshResults(ctx context.Context) error {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()
	if sessionID == "" {
		return ErrSessionNotFound
	}
	results, err := s.backend.ListResults(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch results: %w", err)
	}
	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
	s.notifyWatchers()
	return nil
}

// UpdateResultDescription edits a recorded round's description, the only
// mutable field of a result.
func (s *Store) UpdateResultDescription(ctx context.Context, resultID uuid.UUID, description string) error {
	updated, err := s.backend.UpdateResultDescription(ctx, resultID, description)
	if err != nil {
		return fmt.Errorf("update result description: %w", err)
	}
	s.mu.Lock()
	for i := range s.results {
		if s.results[i].ID == updated.ID {
			s.results[i] = *updated
			break
		}
	}
	s.mu.Unlock()
	s.notifyWatchers()
	return nil
}

// DeleteResult removes a recorded round from the history.
func (s *Store) DeleteResult(ctx context.Context, resultID uuid.UUID) error {
	if err := s.backend.DeleteResult(ctx, resultID); err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	s.mu.Lock()
	for i := range s.results {
		if s.results[i].ID == resultID {
			s.results = append(s.results[:i], s.results[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notifyWatchers()
	return nil
}
