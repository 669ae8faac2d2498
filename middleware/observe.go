package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fleetedge/filter"
	"fleetedge/logger"
)

// RouteStatic labels requests that no proxy route claimed.
const RouteStatic = "static"

type requestInfoKey struct{}

type requestInfo struct {
	route string
}

// SetRoute records which route served the request, for logs and metrics.
// It is a no-op outside Observe.
func SetRoute(ctx context.Context, route string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.route = route
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// WriteHeader records the final status; 1xx interim responses such as 103
// Early Hints are relayed but not recorded.
func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 && code >= http.StatusOK {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach Flush on the real writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Observe writes one access-log line per request and feeds the request metrics.
func Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{route: RouteStatic}
		rec := &statusRecorder{ResponseWriter: w}

		filter.InflightRequests.Inc()
		defer filter.InflightRequests.Dec()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		filter.RequestsTotal.WithLabelValues(info.route, r.Method, strconv.Itoa(status)).Inc()
		filter.RequestLatency.WithLabelValues(info.route, r.Method).Observe(elapsed.Seconds())

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", info.route,
			"status", status,
			"bytes", rec.bytes,
			"duration", elapsed,
			"remote_addr", r.RemoteAddr,
		)
	})
}
