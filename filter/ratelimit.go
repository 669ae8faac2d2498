package filter

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"fleetedge/logger"
	"fleetedge/store"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client request rate. Without a shared store
// every client gets a token bucket (golang.org/x/time/rate); with one, clients
// share a fixed one-second window counter so all edge replicas draw from the
// same budget.
type RateLimiter struct {
	rate           rate.Limit
	burst          int
	shared         store.Storer
	trustForwarded bool
	now            func() time.Time

	mu      sync.Mutex
	clients map[string]*ipLimiter
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter builds a limiter allowing r requests per second with the
// given burst. A zero burst defaults to ceil(r).
func NewRateLimiter(r float64, burst int, shared store.Storer, trustForwarded bool) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Ceil(r))
	}
	l := &RateLimiter{
		rate:           rate.Limit(r),
		burst:          burst,
		shared:         shared,
		trustForwarded: trustForwarded,
		now:            time.Now,
		clients:        make(map[string]*ipLimiter),
		stop:           make(chan struct{}),
	}
	if shared == nil {
		go l.cleanupLoop()
	}
	return l
}

func (l *RateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Allow reports whether ip may make another request now.
func (l *RateLimiter) Allow(r *http.Request, ip string) bool {
	if l.shared == nil {
		return l.getLimiter(ip).Allow()
	}

	window := l.now().Unix()
	n, err := l.shared.Increment(r.Context(), fmt.Sprintf("fleetedge:rl:%s:%d", ip, window), 2*time.Second)
	if err != nil {
		// Fail open: a store outage must not take the API down.
		logger.Error("Shared rate counter failed", "err", err)
		return true
	}
	return n <= int64(l.windowBudget())
}

func (l *RateLimiter) windowBudget() int {
	if perSecond := int(math.Ceil(float64(l.rate))); perSecond > l.burst {
		return perSecond
	}
	return l.burst
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, l.trustForwarded)
		if !l.Allow(r, ip) {
			logger.Warn("Rate limit exceeded", "remote_addr", ip, "rate", float64(l.rate), "burst", l.burst)
			BlockedRequests.WithLabelValues("ratelimit", "rate_limit").Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// cleanupLoop drops token buckets idle for ten minutes.
func (l *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, entry := range l.clients {
				if time.Since(entry.lastSeen) > 10*time.Minute {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}
