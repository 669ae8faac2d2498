package filter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleetedge/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func requestFrom(addr string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/admin-api/users", nil)
	r.RemoteAddr = addr
	return r
}

func TestClientIP(t *testing.T) {
	r := requestFrom("192.0.2.10:5555")
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "192.0.2.10", ClientIP(r, false))
	assert.Equal(t, "203.0.113.7", ClientIP(r, true))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r, true))

	r = requestFrom("[2001:db8::1]:443")
	r.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "2001:db8::1", ClientIP(r, true))
}

func TestBlocklist(t *testing.T) {
	ctx := context.Background()
	s := store.NewLocalStore()
	defer s.Close()

	bl, err := NewBlocklist(ctx, s, []string{"192.0.2.1"}, false)
	require.NoError(t, err)
	h := bl.Middleware(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("192.0.2.1:1000"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("192.0.2.2:1000"))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, s.Block(ctx, "192.0.2.2", time.Hour, store.BlockTemp))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("192.0.2.2:1000"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiterTokenBucket(t *testing.T) {
	l := NewRateLimiter(0.001, 2, nil, false)
	defer l.Close()
	h := l.Middleware(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("192.0.2.5:1000"))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("192.0.2.6:1000"))
	assert.Equal(t, http.StatusOK, rec.Code, "buckets are per client")
}

func TestRateLimiterSharedWindow(t *testing.T) {
	s := store.NewLocalStore()
	defer s.Close()

	l := NewRateLimiter(1, 2, s, false)
	defer l.Close()
	fixed := time.Unix(1_800_000_000, 0)
	l.now = func() time.Time { return fixed }
	h := l.Middleware(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("192.0.2.5:1000"))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	fixed = fixed.Add(time.Second)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("192.0.2.5:1000"))
	assert.Equal(t, http.StatusOK, rec.Code, "next window starts fresh")
}

func TestGeoIPFilterWithoutDatabase(t *testing.T) {
	f := NewGeoIPFilter("", []string{"xx"}, false)
	defer f.Close()
	assert.False(t, f.Enabled())

	f = NewGeoIPFilter("/nonexistent/GeoLite2-Country.mmdb", []string{"XX"}, false)
	assert.False(t, f.Enabled())

	rec := httptest.NewRecorder()
	f.Middleware(okHandler).ServeHTTP(rec, requestFrom("192.0.2.1:1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
