package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fleetedge/proxy"
	"fleetedge/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPI(t *testing.T) (*ManagementAPI, *store.LocalStore) {
	t.Helper()
	s := store.NewLocalStore()
	t.Cleanup(func() { _ = s.Close() })
	routes := proxy.Table{
		{Name: "CONFIG", PathPrefix: "/config-api", Upstream: "http://localhost:8081"},
		{Name: "ADMIN", PathPrefix: "/admin-api", Upstream: "http://localhost:8082"},
	}
	return NewManagementAPI(s, routes), s
}

func call(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBlockLifecycle(t *testing.T) {
	api, s := newAPI(t)
	ctx := context.Background()

	rec := call(api, http.MethodPost, "/api/block", `{"ip":"203.0.113.9","duration":"30m"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, s.IsBlocked(ctx, "203.0.113.9"))

	rec = call(api, http.MethodPost, "/api/block", `{"ip":"203.0.113.10","duration":"permanent"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = call(api, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Status       string            `json:"status"`
		Routes       []proxy.Route     `json:"routes"`
		ActiveBlocks map[string]string `json:"active_blocks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "active", status.Status)
	assert.Len(t, status.Routes, 2)
	assert.Equal(t, map[string]string{"203.0.113.9": store.BlockTemp, "203.0.113.10": store.BlockHard}, status.ActiveBlocks)

	rec = call(api, http.MethodDelete, "/api/block?ip=203.0.113.9", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, s.IsBlocked(ctx, "203.0.113.9"))
}

func TestBlockValidation(t *testing.T) {
	api, _ := newAPI(t)

	assert.Equal(t, http.StatusBadRequest, call(api, http.MethodPost, "/api/block", `{"ip":"not-an-ip"}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(api, http.MethodPost, "/api/block", `{"ip":"203.0.113.1","duration":"soon"}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(api, http.MethodPost, "/api/block", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(api, http.MethodDelete, "/api/block", "").Code)
}

func TestRoutes(t *testing.T) {
	api, _ := newAPI(t)

	rec := call(api, http.MethodGet, "/api/routes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Routes []proxy.Route `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Routes, 2)
	assert.Equal(t, "/config-api", body.Routes[0].PathPrefix)
	assert.Equal(t, "http://localhost:8082", body.Routes[1].Upstream)
}
