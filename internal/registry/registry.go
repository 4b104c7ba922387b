package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shohag/hookrunner/internal/models"
)

var (
	ErrNotFound    = errors.New("webhook not found")
	ErrDuplicateID = errors.New("duplicate webhook id")
)

// IDGenerator produces fresh webhook ids.
type IDGenerator func() models.WebhookID

// Registry is the in-memory mapping from id to webhook definition. All
// operations are linearizable per key.
type Registry struct {
	mu       sync.RWMutex
	webhooks map[models.WebhookID]models.Webhook
	newID    IDGenerator
	now      func() time.Time
}

type Option func(*Registry)

// WithIDGenerator replaces models.NewWebhookID.
func WithIDGenerator(gen IDGenerator) Option {
	return func(r *Registry) {
		r.newID = gen
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		webhooks: make(map[models.WebhookID]models.Webhook),
		newID:    models.NewWebhookID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register allocates an id, stores the webhook and returns it. The caller is
// expected to have validated req. A colliding id is never overwritten.
func (r *Registry) Register(req models.WebhookRequest) (models.Webhook, error) {
	wh := models.Webhook{
		ID:        r.newID(),
		Request:   req.Clone(),
		CreatedAt: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.webhooks[wh.ID]; exists {
		return models.Webhook{}, fmt.Errorf("registering %s: %w", wh.ID, ErrDuplicateID)
	}
	r.webhooks[wh.ID] = wh
	return wh.Clone(), nil
}

func (r *Registry) Lookup(id models.WebhookID) (models.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wh, ok := r.webhooks[id]
	if !ok {
		return models.Webhook{}, ErrNotFound
	}
	return wh.Clone(), nil
}

// Remove deletes the entry and reports whether it existed.
func (r *Registry) Remove(id models.WebhookID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.webhooks[id]; !ok {
		return false
	}
	delete(r.webhooks, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.webhooks)
}
