package models

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrInvalidRequest = errors.New("invalid webhook request")

// ValidationError names the first field of a WebhookRequest that failed
// validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidRequest, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// DeliveryPolicy controls how often and how patiently a webhook is attempted.
// Zero values inherit from the configured default policy.
type DeliveryPolicy struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff time.Duration `json:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
	Multiplier  float64       `json:"multiplier" mapstructure:"multiplier"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`

	// Jitter is the fraction of each backoff that may be shaved off at random.
	Jitter float64 `json:"jitter" mapstructure:"jitter"`

	// RetryableStatuses lists 4xx codes that are retried instead of settling
	// the webhook as abandoned.
	RetryableStatuses []int `json:"retryable_statuses,omitempty" mapstructure:"retryable_statuses"`
}

// DefaultPolicy is used when no configuration overrides it.
func DefaultPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		MaxAttempts:       5,
		BaseBackoff:       1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		Multiplier:        2.0,
		Timeout:           30 * time.Second,
		RetryableStatuses: []int{http.StatusRequestTimeout, http.StatusTooManyRequests},
	}
}

// WithDefaults fills every zero field of p from def.
func (p DeliveryPolicy) WithDefaults(def DeliveryPolicy) DeliveryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseBackoff == 0 {
		p.BaseBackoff = def.BaseBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	if p.Timeout == 0 {
		p.Timeout = def.Timeout
	}
	if p.Jitter == 0 {
		p.Jitter = def.Jitter
	}
	if p.RetryableStatuses == nil {
		p.RetryableStatuses = append([]int(nil), def.RetryableStatuses...)
	}
	return p
}

func (p DeliveryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 0:
		return &ValidationError{Field: "policy.max_attempts", Reason: "must not be negative"}
	case p.BaseBackoff < 0:
		return &ValidationError{Field: "policy.base_backoff", Reason: "must not be negative"}
	case p.MaxBackoff < 0:
		return &ValidationError{Field: "policy.max_backoff", Reason: "must not be negative"}
	case p.Timeout < 0:
		return &ValidationError{Field: "policy.timeout", Reason: "must not be negative"}
	case p.Multiplier < 0 || (p.Multiplier > 0 && p.Multiplier < 1):
		return &ValidationError{Field: "policy.multiplier", Reason: "must be zero or at least 1"}
	case p.Jitter < 0 || p.Jitter > 1:
		return &ValidationError{Field: "policy.jitter", Reason: "must be between 0 and 1"}
	case p.BaseBackoff > 0 && p.MaxBackoff > 0 && p.MaxBackoff < p.BaseBackoff:
		return &ValidationError{Field: "policy.max_backoff", Reason: "must not be below base_backoff"}
	}
	for _, code := range p.RetryableStatuses {
		if code < 400 || code > 499 {
			return &ValidationError{Field: "policy.retryable_statuses", Reason: fmt.Sprintf("%d is not a 4xx code", code)}
		}
	}
	return nil
}

// IsRetryableStatus reports whether a 4xx code was configured as retryable.
func (p DeliveryPolicy) IsRetryableStatus(code int) bool {
	for _, c := range p.RetryableStatuses {
		if c == code {
			return true
		}
	}
	return false
}

// WebhookRequest is the caller-supplied definition of an outbound call.
type WebhookRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	Policy  DeliveryPolicy    `json:"policy"`
}

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Clone returns a deep copy; headers, body and retryable statuses are not
// shared with r.
func (r WebhookRequest) Clone() WebhookRequest {
	out := r
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	if r.Policy.RetryableStatuses != nil {
		out.Policy.RetryableStatuses = append([]int(nil), r.Policy.RetryableStatuses...)
	}
	return out
}

// Normalize returns a copy with the method defaulted and the policy filled in
// from def. The copy is deep so the caller can't mutate the accepted request
// afterwards.
func (r WebhookRequest) Normalize(def DeliveryPolicy) WebhookRequest {
	out := r.Clone()
	if out.Method == "" {
		out.Method = http.MethodPost
	}
	out.Policy = out.Policy.WithDefaults(def)
	return out
}

func (r WebhookRequest) Validate() error {
	if r.URL == "" {
		return &ValidationError{Field: "url", Reason: "is required"}
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be a valid HTTP or HTTPS URL"}
	}
	if r.Method != "" && !allowedMethods[r.Method] {
		return &ValidationError{Field: "method", Reason: fmt.Sprintf("%q is not supported", r.Method)}
	}
	for k := range r.Headers {
		if k == "" {
			return &ValidationError{Field: "headers", Reason: "contains an empty header name"}
		}
	}
	return r.Policy.Validate()
}

// Webhook pairs an id with the request it was registered for.
type Webhook struct {
	ID        WebhookID      `json:"id"`
	Request   WebhookRequest `json:"request"`
	CreatedAt time.Time      `json:"created_at"`
}

func (w Webhook) Clone() Webhook {
	w.Request = w.Request.Clone()
	return w
}
