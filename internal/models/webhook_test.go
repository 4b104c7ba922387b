package models

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() WebhookRequest {
	return WebhookRequest{
		URL:     "https://example.com/hook",
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"hello":"world"}`),
	}
}

func TestWebhookRequestValidate(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		require.NoError(t, validRequest().Validate())
	})

	t.Run("empty method is allowed", func(t *testing.T) {
		r := validRequest()
		r.Method = ""
		require.NoError(t, r.Validate())
	})

	cases := []struct {
		name  string
		mut   func(r *WebhookRequest)
		field string
	}{
		{"missing url", func(r *WebhookRequest) { r.URL = "" }, "url"},
		{"relative url", func(r *WebhookRequest) { r.URL = "/hook" }, "url"},
		{"ftp url", func(r *WebhookRequest) { r.URL = "ftp://example.com/x" }, "url"},
		{"unparseable url", func(r *WebhookRequest) { r.URL = "http://[::1" }, "url"},
		{"unknown method", func(r *WebhookRequest) { r.Method = "BREW" }, "method"},
		{"empty header name", func(r *WebhookRequest) { r.Headers = map[string]string{"": "x"} }, "headers"},
		{"negative attempts", func(r *WebhookRequest) { r.Policy.MaxAttempts = -1 }, "policy.max_attempts"},
		{"negative base backoff", func(r *WebhookRequest) { r.Policy.BaseBackoff = -time.Second }, "policy.base_backoff"},
		{"negative max backoff", func(r *WebhookRequest) { r.Policy.MaxBackoff = -time.Second }, "policy.max_backoff"},
		{"negative timeout", func(r *WebhookRequest) { r.Policy.Timeout = -time.Second }, "policy.timeout"},
		{"shrinking multiplier", func(r *WebhookRequest) { r.Policy.Multiplier = 0.5 }, "policy.multiplier"},
		{"jitter above one", func(r *WebhookRequest) { r.Policy.Jitter = 1.5 }, "policy.jitter"},
		{"cap below base", func(r *WebhookRequest) {
			r.Policy.BaseBackoff = time.Minute
			r.Policy.MaxBackoff = time.Second
		}, "policy.max_backoff"},
		{"retryable 5xx", func(r *WebhookRequest) { r.Policy.RetryableStatuses = []int{503} }, "policy.retryable_statuses"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRequest()
			tc.mut(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestWebhookRequestNormalize(t *testing.T) {
	t.Run("defaults method and policy", func(t *testing.T) {
		r := validRequest()
		r.Method = ""
		r.Policy = DeliveryPolicy{MaxAttempts: 3}

		out := r.Normalize(DefaultPolicy())

		assert.Equal(t, http.MethodPost, out.Method)
		assert.Equal(t, 3, out.Policy.MaxAttempts)
		assert.Equal(t, DefaultPolicy().BaseBackoff, out.Policy.BaseBackoff)
		assert.Equal(t, DefaultPolicy().RetryableStatuses, out.Policy.RetryableStatuses)
	})

	t.Run("copies headers and body", func(t *testing.T) {
		r := validRequest()
		out := r.Normalize(DefaultPolicy())

		r.Headers["Content-Type"] = "text/plain"
		r.Body[0] = 'X'

		assert.Equal(t, "application/json", out.Headers["Content-Type"])
		assert.Equal(t, byte('{'), out.Body[0])
	})

	t.Run("explicit empty retryable list is kept", func(t *testing.T) {
		r := validRequest()
		r.Policy.RetryableStatuses = []int{}
		out := r.Normalize(DefaultPolicy())
		assert.Empty(t, out.Policy.RetryableStatuses)
		assert.False(t, out.Policy.IsRetryableStatus(http.StatusTooManyRequests))
	})
}

func TestDeliveryPolicyIsRetryableStatus(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.IsRetryableStatus(http.StatusTooManyRequests))
	assert.True(t, p.IsRetryableStatus(http.StatusRequestTimeout))
	assert.False(t, p.IsRetryableStatus(http.StatusNotFound))
}

func TestDeliveryStateClone(t *testing.T) {
	next := time.Now()
	s := DeliveryState{
		Status:        DeliveryPending,
		NextAttemptAt: &next,
		LastAttempt:   &Attempt{AttemptNumber: 1},
	}
	c := s.Clone()
	c.LastAttempt.AttemptNumber = 2
	*c.NextAttemptAt = next.Add(time.Hour)

	assert.Equal(t, 1, s.LastAttempt.AttemptNumber)
	assert.Equal(t, next, *s.NextAttemptAt)
}

func TestDeliveryStateCloneCopiesRequest(t *testing.T) {
	s := DeliveryState{Webhook: Webhook{
		ID: NewWebhookID(),
		Request: WebhookRequest{
			URL:     "http://example.com",
			Headers: map[string]string{"A": "b"},
			Body:    []byte(`{"x":1}`),
			Policy:  DeliveryPolicy{RetryableStatuses: []int{429}},
		},
	}}

	c := s.Clone()
	c.Webhook.Request.Headers["X-Extra"] = "mutated"
	c.Webhook.Request.Body[0] = 'Z'
	c.Webhook.Request.Policy.RetryableStatuses[0] = 408

	assert.Equal(t, map[string]string{"A": "b"}, s.Webhook.Request.Headers)
	assert.Equal(t, `{"x":1}`, string(s.Webhook.Request.Body))
	assert.Equal(t, []int{429}, s.Webhook.Request.Policy.RetryableStatuses)
}

func TestWebhookRequestCloneNil(t *testing.T) {
	c := WebhookRequest{URL: "http://example.com"}.Clone()
	assert.Nil(t, c.Headers)
	assert.Nil(t, c.Body)
	assert.Nil(t, c.Policy.RetryableStatuses)
}

func TestOutcomeText(t *testing.T) {
	for _, o := range []Outcome{OutcomeSuccess, OutcomeRetryable, OutcomeTerminal} {
		b, err := o.MarshalText()
		require.NoError(t, err)

		var back Outcome
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, o, back)
	}
	var o Outcome
	assert.Error(t, o.UnmarshalText([]byte("sideways")))
}
