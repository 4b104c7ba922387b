package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shohag/hookrunner/internal/models"
)

const (
	HeaderWebhookID = "X-Hookrunner-Webhook-Id"
	HeaderAttempt   = "X-Hookrunner-Attempt"

	maxDetailBody = 1024
	maxDrainBody  = 64 * 1024
)

// Sender performs exactly one HTTP call per Attempt. It never retries and
// never follows redirects.
type Sender struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

func NewSender(connectTimeout time.Duration, userAgent string) *Sender {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ForceAttemptHTTP2 = false

	return &Sender{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
		now:       time.Now,
	}
}

// Attempt issues attempt number n of wh, bounded by the policy timeout, and
// classifies the result.
func (s *Sender) Attempt(ctx context.Context, wh models.Webhook, n int) models.Attempt {
	start := s.now()
	attempt := models.Attempt{
		ID:            models.NewID("att"),
		WebhookID:     wh.ID,
		AttemptNumber: n,
		StartedAt:     start.UTC(),
	}
	finish := func(outcome models.Outcome, detail string) models.Attempt {
		attempt.Outcome = outcome
		attempt.Detail = detail
		attempt.Duration = s.now().Sub(start)
		return attempt
	}

	if timeout := wh.Request.Policy.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, wh.Request.Method, wh.Request.URL, bytes.NewReader(wh.Request.Body))
	if err != nil {
		return finish(models.OutcomeTerminal, fmt.Sprintf("malformed target: %v", err))
	}
	for k, v := range wh.Request.Headers {
		req.Header.Set(k, v)
	}
	setDefault(req.Header, "User-Agent", s.userAgent)
	setDefault(req.Header, HeaderWebhookID, wh.ID.String())
	setDefault(req.Header, HeaderAttempt, strconv.Itoa(n))

	resp, err := s.client.Do(req)
	if err != nil {
		return finish(models.OutcomeRetryable, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBody))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBody))

	attempt.StatusCode = resp.StatusCode
	outcome, detail := Classify(resp.StatusCode, wh.Request.Policy)
	if outcome != models.OutcomeSuccess && len(body) > 0 {
		detail = fmt.Sprintf("%s: %s", detail, body)
	}
	return finish(outcome, detail)
}

func setDefault(h http.Header, key, value string) {
	if value != "" && h.Get(key) == "" {
		h.Set(key, value)
	}
}
