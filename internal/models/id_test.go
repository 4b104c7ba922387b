package models

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var webhookIDPattern = regexp.MustCompile(`^HOK[0-9a-f]{32}$`)

func TestNewWebhookID(t *testing.T) {
	t.Run("matches documented format", func(t *testing.T) {
		id := NewWebhookID()
		assert.Regexp(t, webhookIDPattern, id.String())
		assert.Len(t, id.String(), 35)
	})

	t.Run("never repeats", func(t *testing.T) {
		seen := make(map[WebhookID]struct{}, 10000)
		for i := 0; i < 10000; i++ {
			id := NewWebhookID()
			_, dup := seen[id]
			require.False(t, dup, "duplicate id %s after %d iterations", id, i)
			seen[id] = struct{}{}
		}
	})
}

func TestParseWebhookID(t *testing.T) {
	t.Run("accepts generated ids", func(t *testing.T) {
		id := NewWebhookID()
		parsed, err := ParseWebhookID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	for name, input := range map[string]string{
		"empty":          "",
		"wrong prefix":   "HOX0123456789abcdef0123456789abcdef",
		"short payload":  "HOK0123",
		"upper-case hex": "HOK0123456789ABCDEF0123456789ABCDEF",
		"non hex":        "HOKzz23456789abcdef0123456789abcdef",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWebhookID(input)
			assert.Error(t, err)
		})
	}
}

func TestNewID(t *testing.T) {
	id := NewID("att")
	assert.Regexp(t, `^att_[0-9A-Z]{26}$`, id)
}
