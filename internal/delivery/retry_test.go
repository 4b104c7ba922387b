package delivery

import (
	"net/http"
	"testing"
	"time"

	"github.com/shohag/hookrunner/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	policy := models.DefaultPolicy()
	cases := []struct {
		code int
		want models.Outcome
	}{
		{200, models.OutcomeSuccess},
		{204, models.OutcomeSuccess},
		{299, models.OutcomeSuccess},
		{301, models.OutcomeTerminal},
		{400, models.OutcomeTerminal},
		{404, models.OutcomeTerminal},
		{408, models.OutcomeRetryable},
		{429, models.OutcomeRetryable},
		{500, models.OutcomeRetryable},
		{503, models.OutcomeRetryable},
	}
	for _, tc := range cases {
		got, _ := Classify(tc.code, policy)
		assert.Equal(t, tc.want, got, "status %d", tc.code)
	}

	t.Run("retryable statuses are a policy knob", func(t *testing.T) {
		p := policy
		p.RetryableStatuses = []int{http.StatusConflict}
		got, _ := Classify(http.StatusConflict, p)
		assert.Equal(t, models.OutcomeRetryable, got)
		got, _ = Classify(http.StatusTooManyRequests, p)
		assert.Equal(t, models.OutcomeTerminal, got)
	})
}

func TestShouldRetry(t *testing.T) {
	p := models.DeliveryPolicy{MaxAttempts: 3}
	assert.True(t, ShouldRetry(p, 1, models.OutcomeRetryable))
	assert.True(t, ShouldRetry(p, 2, models.OutcomeRetryable))
	assert.False(t, ShouldRetry(p, 3, models.OutcomeRetryable))
	assert.False(t, ShouldRetry(p, 1, models.OutcomeTerminal))
	assert.False(t, ShouldRetry(p, 1, models.OutcomeSuccess))
}

func TestBackoff(t *testing.T) {
	p := models.DeliveryPolicy{
		BaseBackoff: time.Second,
		Multiplier:  2,
		MaxBackoff:  10 * time.Second,
	}
	assert.Equal(t, 1*time.Second, Backoff(p, 1))
	assert.Equal(t, 2*time.Second, Backoff(p, 2))
	assert.Equal(t, 4*time.Second, Backoff(p, 3))
	assert.Equal(t, 8*time.Second, Backoff(p, 4))
	assert.Equal(t, 10*time.Second, Backoff(p, 5))
	assert.Equal(t, 10*time.Second, Backoff(p, 500))
	assert.Equal(t, 1*time.Second, Backoff(p, 0))

	t.Run("multiplier of one is constant", func(t *testing.T) {
		c := p
		c.Multiplier = 1
		assert.Equal(t, time.Second, Backoff(c, 7))
	})

	t.Run("uncapped does not overflow", func(t *testing.T) {
		c := p
		c.MaxBackoff = 0
		assert.Greater(t, Backoff(c, 10000), time.Duration(0))
	})

	t.Run("zero base stays zero", func(t *testing.T) {
		c := p
		c.BaseBackoff = 0
		c.MaxBackoff = 0
		assert.Equal(t, time.Duration(0), Backoff(c, 1))
		assert.Equal(t, time.Duration(0), Backoff(c, 5000))
		assert.Equal(t, time.Duration(0), JitteredBackoff(c, 5000, func() float64 { return 0.5 }))
	})
}

func TestJitteredBackoff(t *testing.T) {
	p := models.DeliveryPolicy{BaseBackoff: time.Second, Multiplier: 2, MaxBackoff: time.Minute}

	assert.Equal(t, 2*time.Second, JitteredBackoff(p, 2, func() float64 { return 0.9 }), "no jitter configured")

	p.Jitter = 0.5
	assert.Equal(t, 2*time.Second, JitteredBackoff(p, 2, func() float64 { return 0 }))
	assert.Equal(t, 1500*time.Millisecond, JitteredBackoff(p, 2, func() float64 { return 0.5 }))

	for i := 0; i < 100; i++ {
		d := JitteredBackoff(p, 3, func() float64 { return float64(i) / 100 })
		assert.LessOrEqual(t, d, 4*time.Second)
		assert.GreaterOrEqual(t, d, 2*time.Second)
	}
}
