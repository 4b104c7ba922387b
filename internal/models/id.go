package models

import (
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// WebhookIDPrefix tags every webhook identifier so it can be told apart from
// other ids handed out by the service.
const WebhookIDPrefix = "HOK"

const webhookIDHexLen = 32

// WebhookID identifies a registered webhook. Once assigned it never changes
// and is never handed out again.
type WebhookID string

func (id WebhookID) String() string {
	return string(id)
}

// NewWebhookID returns the prefix followed by a random 128-bit value rendered
// as lower-case hex. uuid.New reads from crypto/rand.
func NewWebhookID() WebhookID {
	u := uuid.New()
	return WebhookID(WebhookIDPrefix + hex.EncodeToString(u[:]))
}

// ParseWebhookID checks s against the documented id format.
func ParseWebhookID(s string) (WebhookID, error) {
	if !strings.HasPrefix(s, WebhookIDPrefix) {
		return "", fmt.Errorf("webhook id %q: missing %s prefix", s, WebhookIDPrefix)
	}
	payload := s[len(WebhookIDPrefix):]
	if len(payload) != webhookIDHexLen {
		return "", fmt.Errorf("webhook id %q: expected %d hex characters, got %d", s, webhookIDHexLen, len(payload))
	}
	for _, c := range payload {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", fmt.Errorf("webhook id %q: invalid hex character %q", s, c)
		}
	}
	return WebhookID(s), nil
}

// NewID returns a sortable id with the given prefix, used for attempt records.
func NewID(prefix string) string {
	t := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(t.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return fmt.Sprintf("%s_%s", prefix, id.String())
}
