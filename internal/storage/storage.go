package storage

import (
	"context"

	"github.com/shohag/hookrunner/internal/models"
)

// Storage journals delivery attempts so they can be inspected while a
// webhook is active and during its retention window. It is not a source of
// truth: nothing is restored from it.
type Storage interface {
	RecordAttempt(ctx context.Context, a models.Attempt) error
	ListAttempts(ctx context.Context, id models.WebhookID) ([]models.Attempt, error)
	DeleteAttempts(ctx context.Context, id models.WebhookID) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Nop discards every attempt.
type Nop struct{}

func (Nop) RecordAttempt(context.Context, models.Attempt) error { return nil }

func (Nop) ListAttempts(context.Context, models.WebhookID) ([]models.Attempt, error) {
	return nil, nil
}

func (Nop) DeleteAttempts(context.Context, models.WebhookID) error { return nil }
func (Nop) Migrate(context.Context) error                          { return nil }
func (Nop) Close() error                                           { return nil }
