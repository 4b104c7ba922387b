// Package manager drives registered webhooks from their first delivery
// attempt to a final status. It is the only entry point the resource layer
// uses.
package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shohag/hookrunner/internal/delivery"
	"github.com/shohag/hookrunner/internal/metrics"
	"github.com/shohag/hookrunner/internal/models"
	"github.com/shohag/hookrunner/internal/registry"
	"github.com/shohag/hookrunner/internal/storage"
)

var (
	ErrNotFound = errors.New("webhook not found")
	ErrClosed   = errors.New("manager closed")
)

// Executor performs one delivery attempt.
type Executor interface {
	Attempt(ctx context.Context, wh models.Webhook, attempt int) models.Attempt
}

type Config struct {
	Workers       int
	DefaultPolicy models.DeliveryPolicy

	// Retention is how long a settled webhook stays queryable. Zero keeps it
	// until the manager is closed.
	Retention time.Duration
}

type Option func(*Manager)

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

func WithStorage(s storage.Storage) Option {
	return func(m *Manager) { m.journal = s }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(m *Manager) { m.rnd = fn }
}

// tracker is the mutable delivery state of one webhook. Its mutex
// serializes every transition for that id.
type tracker struct {
	mu       sync.Mutex
	state    models.DeliveryState
	retry    delivery.Token
	inFlight bool
}

type Manager struct {
	registry *registry.Registry
	executor Executor
	timer    *delivery.Timer
	pool     *delivery.Pool
	journal  storage.Storage
	metrics  *metrics.Metrics
	log      zerolog.Logger
	rnd      func() float64
	now      func() time.Time

	defaults  models.DeliveryPolicy
	retention time.Duration

	mu     sync.RWMutex
	states map[models.WebhookID]*tracker
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
}

func New(cfg Config, executor Executor, opts ...Option) *Manager {
	m := &Manager{
		executor:  executor,
		journal:   storage.Nop{},
		log:       zerolog.Nop(),
		rnd:       rand.Float64,
		now:       time.Now,
		defaults:  cfg.DefaultPolicy,
		retention: cfg.Retention,
		states:    make(map[models.WebhookID]*tracker),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = registry.New()
	}
	m.timer = delivery.NewTimer(m.log.With().Str("component", "timer").Logger())
	m.pool = delivery.NewPool(cfg.Workers, m.log.With().Str("component", "pool").Logger(),
		delivery.WithQueueDepthHook(m.metrics.SetQueueDepth))
	return m
}

// Start launches the timer loop and the worker pool. Attempts submitted
// before Start wait in the pool queue. Cancelling ctx closes the manager;
// attempts already in flight still run to completion.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.timer.Start()
		m.pool.Start(context.WithoutCancel(ctx))
		context.AfterFunc(ctx, func() {
			m.log.Info().Msg("context done, closing delivery manager")
			m.Close()
		})
	})
}

// Close abandons every pending webhook, stops the timer and waits for
// in-flight attempts to finish. Their results are discarded.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		trackers := make([]*tracker, 0, len(m.states))
		for _, tr := range m.states {
			trackers = append(trackers, tr)
		}
		m.mu.Unlock()

		m.timer.Stop()
		for _, tr := range trackers {
			tr.mu.Lock()
			if tr.state.Status == models.DeliveryPending {
				m.settle(tr, models.DeliveryAbandoned, models.ReasonShutdown, "")
			}
			tr.mu.Unlock()
		}
		m.pool.Stop()
	})
}

// Register validates req, stores it under a fresh id and dispatches the
// first attempt. Delivery failures are never returned here; they surface
// through Status.
func (m *Manager) Register(req models.WebhookRequest) (models.WebhookID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	req = req.Normalize(m.defaults)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	wh, err := m.registry.Register(req)
	if err != nil {
		m.log.Error().Err(err).Msg("webhook id collision")
		return "", fmt.Errorf("registering webhook: %w", err)
	}

	tr := &tracker{state: models.DeliveryState{
		Webhook:   wh,
		Status:    models.DeliveryPending,
		UpdatedAt: m.now().UTC(),
	}}
	m.states[wh.ID] = tr
	m.metrics.WebhookRegistered()

	tr.mu.Lock()
	m.dispatch(tr)
	tr.mu.Unlock()

	m.log.Info().
		Str("webhook_id", wh.ID.String()).
		Str("method", req.Method).
		Str("url", req.URL).
		Int("max_attempts", req.Policy.MaxAttempts).
		Msg("webhook registered")
	return wh.ID, nil
}

// Status returns a snapshot of the delivery state.
func (m *Manager) Status(id models.WebhookID) (models.DeliveryState, error) {
	tr := m.tracker(id)
	if tr == nil {
		return models.DeliveryState{}, ErrNotFound
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.state.Clone(), nil
}

// Cancel withdraws a webhook. A pending delivery is marked abandoned and
// its retry timer cancelled; an attempt already in flight is left to finish
// and its result discarded. The returned bool reports whether a pending
// delivery was withdrawn.
func (m *Manager) Cancel(id models.WebhookID) (bool, error) {
	tr := m.tracker(id)
	if tr == nil {
		return false, ErrNotFound
	}
	m.registry.Remove(id)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.state.Status != models.DeliveryPending {
		return false, nil
	}
	m.settle(tr, models.DeliveryAbandoned, models.ReasonWithdrawn, "")
	return true, nil
}

// Attempts lists the journaled attempts of a known webhook.
func (m *Manager) Attempts(ctx context.Context, id models.WebhookID) ([]models.Attempt, error) {
	if m.tracker(id) == nil {
		return nil, ErrNotFound
	}
	attempts, err := m.journal.ListAttempts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	return attempts, nil
}

func (m *Manager) tracker(id models.WebhookID) *tracker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id]
}
