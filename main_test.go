package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fleetedge/notifier"
	"fleetedge/proxy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamAlertSkipsClientCancellation(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []notifier.WebhookMessage
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m notifier.WebhookMessage
		if err := json.NewDecoder(r.Body).Decode(&m); err == nil {
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()

	alerts := notifier.NewWebhook(sink.URL, time.Minute)
	hook := upstreamAlert(alerts)
	route := proxy.Route{Name: "ADMIN", PathPrefix: "/admin-api", Upstream: "http://admin:8082"}

	hook(route, proxy.KindCanceled, context.Canceled)
	hook(route, proxy.KindUnreachable, errors.New("connection refused"))
	alerts.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "ADMIN")
	assert.Contains(t, msgs[0].Text, proxy.KindUnreachable)
	assert.Equal(t, notifier.SeverityWarning, msgs[0].Severity)
}
