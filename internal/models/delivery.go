package models

import (
	"fmt"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryAbandoned DeliveryStatus = "abandoned"
)

// IsFinal returns true if the status is a terminal state.
func (s DeliveryStatus) IsFinal() bool {
	return s == DeliverySucceeded || s == DeliveryAbandoned
}

// Reasons recorded when a webhook is abandoned.
const (
	ReasonTerminal  = "terminal failure"
	ReasonExhausted = "retries exhausted"
	ReasonWithdrawn = "withdrawn"
	ReasonShutdown  = "shutdown"
	ReasonInternal  = "internal error"
)

// Outcome classifies a single delivery attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "success":
		*o = OutcomeSuccess
	case "retryable":
		*o = OutcomeRetryable
	case "terminal":
		*o = OutcomeTerminal
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

// Attempt records one try of a webhook.
type Attempt struct {
	ID            string        `json:"id"`
	WebhookID     WebhookID     `json:"webhook_id"`
	AttemptNumber int           `json:"attempt_number"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Outcome       Outcome       `json:"outcome"`
	StatusCode    int           `json:"status_code,omitempty"`
	Detail        string        `json:"detail,omitempty"`
}

// FinishedAt is when the attempt's outcome became known.
func (a Attempt) FinishedAt() time.Time {
	return a.StartedAt.Add(a.Duration)
}

// DeliveryState is the observable progress of one webhook.
type DeliveryState struct {
	Webhook       Webhook        `json:"webhook"`
	Status        DeliveryStatus `json:"status"`
	AttemptsMade  int            `json:"attempts_made"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Detail        string         `json:"detail,omitempty"`
	LastAttempt   *Attempt       `json:"last_attempt,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a snapshot that shares no pointers with s.
func (s DeliveryState) Clone() DeliveryState {
	out := s
	out.Webhook = s.Webhook.Clone()
	if s.NextAttemptAt != nil {
		t := *s.NextAttemptAt
		out.NextAttemptAt = &t
	}
	if s.LastAttempt != nil {
		a := *s.LastAttempt
		out.LastAttempt = &a
	}
	return out
}
