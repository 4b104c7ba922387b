package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shohag/hookrunner/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLite opens the journal at path. ":memory:" keeps it in process.
func NewSQLite(path string) (*SQLiteStorage, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite journal: %w", err)
	}
	// One connection: an in-memory database lives and dies with it.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_webhook ON attempts(webhook_id, attempt_number)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrating sqlite journal: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) RecordAttempt(ctx context.Context, a models.Attempt) error {
	outcome, err := a.Outcome.MarshalText()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, webhook_id, attempt_number, started_at, duration_ns, outcome, status_code, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.WebhookID), a.AttemptNumber, a.StartedAt.UTC(), int64(a.Duration), string(outcome), a.StatusCode, a.Detail,
	)
	if err != nil {
		return fmt.Errorf("recording attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) ListAttempts(ctx context.Context, id models.WebhookID) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, webhook_id, attempt_number, started_at, duration_ns, outcome, status_code, detail
		 FROM attempts WHERE webhook_id = ? ORDER BY attempt_number ASC`, string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("listing attempts for %s: %w", id, err)
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var (
			a        models.Attempt
			hookID   string
			duration int64
			outcome  string
			started  time.Time
		)
		if err := rows.Scan(&a.ID, &hookID, &a.AttemptNumber, &started, &duration, &outcome, &a.StatusCode, &a.Detail); err != nil {
			return nil, err
		}
		if err := a.Outcome.UnmarshalText([]byte(outcome)); err != nil {
			return nil, err
		}
		a.WebhookID = models.WebhookID(hookID)
		a.StartedAt = started.UTC()
		a.Duration = time.Duration(duration)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *SQLiteStorage) DeleteAttempts(ctx context.Context, id models.WebhookID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attempts WHERE webhook_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("deleting attempts for %s: %w", id, err)
	}
	return nil
}
