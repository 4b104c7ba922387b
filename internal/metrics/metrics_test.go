package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shohag/hookrunner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("attempts by outcome", func(t *testing.T) {
		m := New(prometheus.NewRegistry())
		m.ObserveAttempt(models.Attempt{Outcome: models.OutcomeRetryable, Duration: 20 * time.Millisecond})
		m.ObserveAttempt(models.Attempt{Outcome: models.OutcomeRetryable, Duration: 30 * time.Millisecond})
		m.ObserveAttempt(models.Attempt{Outcome: models.OutcomeSuccess})

		assert.Equal(t, 2.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("retryable")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("success")))
		assert.Equal(t, 2, testutil.CollectAndCount(m.AttemptDuration))
	})

	t.Run("pending gauge follows settlements", func(t *testing.T) {
		m := New(prometheus.NewRegistry())
		m.WebhookRegistered()
		m.WebhookRegistered()
		m.WebhookSettled(models.DeliveryAbandoned, models.ReasonExhausted)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.Pending))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SettledTotal.WithLabelValues("abandoned", models.ReasonExhausted)))
	})

	t.Run("queue depth", func(t *testing.T) {
		m := New(prometheus.NewRegistry())
		m.SetQueueDepth(7)
		assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
	})

	t.Run("nil metrics are a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.ObserveAttempt(models.Attempt{Outcome: models.OutcomeSuccess})
			m.WebhookRegistered()
			m.WebhookSettled(models.DeliverySucceeded, "")
			m.SetQueueDepth(1)
		})
	})
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveAttempt(models.Attempt{Outcome: models.OutcomeTerminal})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `hookrunner_delivery_attempts_total{outcome="terminal"} 1`)
}
