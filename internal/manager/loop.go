package manager

import (
	"context"
	"errors"

	"github.com/shohag/hookrunner/internal/delivery"
	"github.com/shohag/hookrunner/internal/models"
)

// dispatch hands the next attempt of tr to the pool. tr.mu must be held.
func (m *Manager) dispatch(tr *tracker) {
	id := tr.state.Webhook.ID
	tr.state.AttemptsMade++
	tr.state.NextAttemptAt = nil
	tr.state.UpdatedAt = m.now().UTC()
	tr.inFlight = true
	n := tr.state.AttemptsMade

	err := m.pool.Submit(func(ctx context.Context) {
		m.runAttempt(ctx, id, n)
	})
	if err != nil {
		tr.inFlight = false
		m.settle(tr, models.DeliveryAbandoned, models.ReasonShutdown, "")
		return
	}
	m.log.Debug().Str("webhook_id", id.String()).Int("attempt", n).Msg("attempt dispatched")
}

// runAttempt executes on a pool worker.
func (m *Manager) runAttempt(ctx context.Context, id models.WebhookID, n int) {
	wh, err := m.registry.Lookup(id)
	if err != nil {
		m.withdrawn(id)
		return
	}

	attempt := m.executor.Attempt(ctx, wh, n)
	m.metrics.ObserveAttempt(attempt)
	if err := m.journal.RecordAttempt(ctx, attempt); err != nil {
		m.log.Error().Err(err).Str("webhook_id", id.String()).Msg("failed to journal attempt")
	}
	m.handleOutcome(id, attempt)
}

// handleOutcome is the single writer of a webhook's state after an attempt.
func (m *Manager) handleOutcome(id models.WebhookID, attempt models.Attempt) {
	tr := m.tracker(id)
	if tr == nil {
		m.log.Error().Str("webhook_id", id.String()).Int("attempt", attempt.AttemptNumber).
			Msg("no delivery state for attempted webhook")
		return
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.inFlight = false
	if tr.state.Status != models.DeliveryPending {
		m.log.Debug().Str("webhook_id", id.String()).Int("attempt", attempt.AttemptNumber).
			Str("status", string(tr.state.Status)).Msg("discarding attempt result")
		return
	}
	a := attempt
	tr.state.LastAttempt = &a
	if attempt.AttemptNumber != tr.state.AttemptsMade {
		m.log.Error().Str("webhook_id", id.String()).Int("attempt", attempt.AttemptNumber).
			Int("attempts_made", tr.state.AttemptsMade).Msg("attempt number out of step with delivery state")
		m.settle(tr, models.DeliveryAbandoned, models.ReasonInternal, "attempt number out of step")
		return
	}

	switch attempt.Outcome {
	case models.OutcomeSuccess:
		m.settle(tr, models.DeliverySucceeded, "", "")
	case models.OutcomeTerminal:
		m.settle(tr, models.DeliveryAbandoned, models.ReasonTerminal, attempt.Detail)
	case models.OutcomeRetryable:
		policy := tr.state.Webhook.Request.Policy
		if !delivery.ShouldRetry(policy, tr.state.AttemptsMade, attempt.Outcome) {
			m.settle(tr, models.DeliveryAbandoned, models.ReasonExhausted, attempt.Detail)
			return
		}
		m.scheduleRetry(tr, policy)
	default:
		m.log.Error().Str("webhook_id", id.String()).Int("outcome", int(attempt.Outcome)).Msg("unclassified attempt outcome")
		m.settle(tr, models.DeliveryAbandoned, models.ReasonInternal, "unclassified outcome")
	}
}

// scheduleRetry arms the timer for the next attempt. tr.mu must be held.
func (m *Manager) scheduleRetry(tr *tracker, policy models.DeliveryPolicy) {
	id := tr.state.Webhook.ID
	delay := delivery.JitteredBackoff(policy, tr.state.AttemptsMade, m.rnd)

	token, err := m.timer.Schedule(delay, func() { m.retryDue(id) })
	if err != nil {
		m.settle(tr, models.DeliveryAbandoned, models.ReasonShutdown, "")
		return
	}
	next := m.now().Add(delay).UTC()
	tr.retry = token
	tr.state.NextAttemptAt = &next
	tr.state.UpdatedAt = m.now().UTC()

	m.log.Info().
		Str("webhook_id", id.String()).
		Int("attempt", tr.state.AttemptsMade).
		Dur("backoff", delay).
		Time("next_attempt_at", next).
		Msg("delivery scheduled for retry")
}

// retryDue runs on the timer goroutine and must not block.
func (m *Manager) retryDue(id models.WebhookID) {
	tr := m.tracker(id)
	if tr == nil {
		m.log.Error().Str("webhook_id", id.String()).Msg("retry fired for unknown webhook")
		return
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.retry = 0
	if tr.state.Status != models.DeliveryPending {
		return
	}
	if tr.inFlight {
		m.log.Error().Str("webhook_id", id.String()).Msg("retry fired while an attempt is in flight")
		m.settle(tr, models.DeliveryAbandoned, models.ReasonInternal, "overlapping attempts")
		return
	}
	if _, err := m.registry.Lookup(id); err != nil {
		m.settle(tr, models.DeliveryAbandoned, models.ReasonWithdrawn, "")
		return
	}
	m.dispatch(tr)
}

// withdrawn settles a webhook whose definition vanished from the registry.
func (m *Manager) withdrawn(id models.WebhookID) {
	tr := m.tracker(id)
	if tr == nil {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.inFlight = false
	if tr.state.Status == models.DeliveryPending {
		m.settle(tr, models.DeliveryAbandoned, models.ReasonWithdrawn, "")
	}
}

// settle moves tr to a final status. tr.mu must be held.
func (m *Manager) settle(tr *tracker, status models.DeliveryStatus, reason, detail string) {
	id := tr.state.Webhook.ID
	if tr.retry != 0 {
		m.timer.Cancel(tr.retry)
		tr.retry = 0
	}

	tr.state.Status = status
	tr.state.NextAttemptAt = nil
	tr.state.UpdatedAt = m.now().UTC()
	tr.state.Reason = reason
	tr.state.Detail = detail
	m.metrics.WebhookSettled(status, reason)

	ev := m.log.Info()
	if status == models.DeliveryAbandoned {
		ev = m.log.Warn()
	}
	ev.Str("webhook_id", id.String()).
		Str("status", string(status)).
		Str("reason", reason).
		Str("detail", detail).
		Int("attempts", tr.state.AttemptsMade).
		Msg("webhook settled")

	if m.retention > 0 {
		if _, err := m.timer.Schedule(m.retention, func() { m.schedulePurge(id) }); err != nil && !errors.Is(err, delivery.ErrTimerStopped) {
			m.log.Error().Err(err).Str("webhook_id", id.String()).Msg("failed to schedule purge")
		}
	}
}

// schedulePurge runs on the timer goroutine; journal deletes may block, so
// the purge itself goes through the pool.
func (m *Manager) schedulePurge(id models.WebhookID) {
	if err := m.pool.Submit(func(ctx context.Context) { m.purge(ctx, id) }); err != nil {
		m.log.Debug().Err(err).Str("webhook_id", id.String()).Msg("purge skipped")
	}
}

func (m *Manager) purge(ctx context.Context, id models.WebhookID) {
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()

	m.registry.Remove(id)
	if err := m.journal.DeleteAttempts(ctx, id); err != nil {
		m.log.Error().Err(err).Str("webhook_id", id.String()).Msg("failed to purge attempts")
	}
	m.log.Debug().Str("webhook_id", id.String()).Msg("webhook purged")
}
