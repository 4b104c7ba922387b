package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/shohag/hookrunner/internal/models"
)

// MemoryStorage keeps attempts in a map, bounded per webhook.
type MemoryStorage struct {
	mu         sync.RWMutex
	attempts   map[models.WebhookID][]models.Attempt
	maxPerHook int
}

func NewMemory(maxPerHook int) *MemoryStorage {
	if maxPerHook <= 0 {
		maxPerHook = 100
	}
	return &MemoryStorage{
		attempts:   make(map[models.WebhookID][]models.Attempt),
		maxPerHook: maxPerHook,
	}
}

func (s *MemoryStorage) RecordAttempt(_ context.Context, a models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.attempts[a.WebhookID], a)
	if len(list) > s.maxPerHook {
		list = list[len(list)-s.maxPerHook:]
	}
	s.attempts[a.WebhookID] = list
	return nil
}

func (s *MemoryStorage) ListAttempts(_ context.Context, id models.WebhookID) ([]models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]models.Attempt(nil), s.attempts[id]...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

func (s *MemoryStorage) DeleteAttempts(_ context.Context, id models.WebhookID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, id)
	return nil
}

func (s *MemoryStorage) Migrate(context.Context) error { return nil }
func (s *MemoryStorage) Close() error                  { return nil }
