package delivery

import (
	"fmt"
	"math"
	"time"

	"github.com/shohag/hookrunner/internal/models"
)

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// Classify maps an HTTP status code to an attempt outcome.
func Classify(statusCode int, policy models.DeliveryPolicy) (models.Outcome, string) {
	switch {
	case IsSuccess(statusCode):
		return models.OutcomeSuccess, ""
	case statusCode >= 500:
		return models.OutcomeRetryable, fmt.Sprintf("HTTP %d", statusCode)
	case statusCode >= 400 && policy.IsRetryableStatus(statusCode):
		return models.OutcomeRetryable, fmt.Sprintf("HTTP %d", statusCode)
	case statusCode >= 300 && statusCode < 400:
		return models.OutcomeTerminal, fmt.Sprintf("HTTP %d: redirect not followed", statusCode)
	default:
		return models.OutcomeTerminal, fmt.Sprintf("HTTP %d", statusCode)
	}
}

// ShouldRetry reports whether another attempt follows a failed one, given
// how many attempts have been made so far.
func ShouldRetry(policy models.DeliveryPolicy, attemptsMade int, outcome models.Outcome) bool {
	if outcome != models.OutcomeRetryable {
		return false
	}
	return attemptsMade < policy.MaxAttempts
}

// Backoff returns the delay after attempt n (1-based):
// base * multiplier^(n-1), capped at MaxBackoff when set.
func Backoff(policy models.DeliveryPolicy, n int) time.Duration {
	if policy.BaseBackoff <= 0 {
		return 0
	}
	if n < 1 {
		n = 1
	}
	mult := policy.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(policy.BaseBackoff) * math.Pow(mult, float64(n-1))
	if policy.MaxBackoff > 0 && delay > float64(policy.MaxBackoff) {
		return policy.MaxBackoff
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// JitteredBackoff shaves a random fraction, at most policy.Jitter, off
// Backoff. rnd must return values in [0, 1).
func JitteredBackoff(policy models.DeliveryPolicy, n int, rnd func() float64) time.Duration {
	delay := Backoff(policy, n)
	if policy.Jitter <= 0 || rnd == nil {
		return delay
	}
	cut := time.Duration(float64(delay) * policy.Jitter * rnd())
	return delay - cut
}
