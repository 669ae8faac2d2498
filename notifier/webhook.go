package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fleetedge/logger"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

type WebhookMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
}

// Webhook posts alerts to an HTTP endpoint without blocking the caller.
// Alerts sharing a key are sent at most once per throttle interval.
type Webhook struct {
	url      string
	client   *http.Client
	throttle time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
	wg   sync.WaitGroup
}

func NewWebhook(url string, throttle time.Duration) *Webhook {
	return &Webhook{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		throttle: throttle,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Alert reports whether the message was dispatched or throttled away.
func (n *Webhook) Alert(key, msg, severity string) bool {
	if n == nil || n.url == "" {
		return false
	}

	now := n.now()
	n.mu.Lock()
	if prev, ok := n.last[key]; ok && now.Sub(prev) < n.throttle {
		n.mu.Unlock()
		return false
	}
	n.last[key] = now
	n.mu.Unlock()

	data, err := json.Marshal(WebhookMessage{
		Text:      fmt.Sprintf("[fleetedge] %s", msg),
		Timestamp: now,
		Severity:  severity,
	})
	if err != nil {
		logger.Error("Failed to encode webhook alert", "err", err)
		return false
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(data))
		if err != nil {
			logger.Error("Failed to send webhook alert", "err", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			logger.Warn("Webhook returned non-OK status", "status", resp.Status)
		}
	}()
	return true
}

// Wait blocks until in-flight alerts finish.
func (n *Webhook) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}
