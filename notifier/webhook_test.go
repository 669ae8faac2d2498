package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookThrottlesPerKey(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []WebhookMessage
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m WebhookMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		mu.Lock()
		msgs = append(msgs, m)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := NewWebhook(sink.URL, time.Minute)
	n.now = func() time.Time { return clock }

	assert.True(t, n.Alert("CONFIG", "config upstream unreachable", SeverityCritical))
	assert.False(t, n.Alert("CONFIG", "config upstream unreachable", SeverityCritical))
	assert.True(t, n.Alert("ADMIN", "admin upstream unreachable", SeverityCritical))

	clock = clock.Add(61 * time.Second)
	assert.True(t, n.Alert("CONFIG", "still unreachable", SeverityWarning))
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, msgs, 3)
	texts := map[string]bool{}
	for _, m := range msgs {
		texts[m.Text] = true
	}
	assert.True(t, texts["[fleetedge] config upstream unreachable"])
	assert.True(t, texts["[fleetedge] still unreachable"])
}

func TestWebhookDisabled(t *testing.T) {
	var n *Webhook
	assert.False(t, n.Alert("x", "y", SeverityWarning))
	assert.False(t, NewWebhook("", time.Minute).Alert("x", "y", SeverityWarning))
}
