package filter

import (
	"context"
	"net/http"

	"fleetedge/logger"
	"fleetedge/store"
)

// Blocklist rejects clients whose IP is blocked in the store.
type Blocklist struct {
	store          store.Storer
	trustForwarded bool
}

// NewBlocklist seeds static as permanent blocks.
func NewBlocklist(ctx context.Context, s store.Storer, static []string, trustForwarded bool) (*Blocklist, error) {
	for _, ip := range static {
		if err := s.Block(ctx, ip, 0, store.BlockHard); err != nil {
			return nil, err
		}
	}
	return &Blocklist{store: s, trustForwarded: trustForwarded}, nil
}

func (b *Blocklist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, b.trustForwarded)
		if b.store.IsBlocked(r.Context(), ip) {
			logger.Warn("Blocked request from listed client", "remote_addr", ip, "path", r.URL.Path)
			BlockedRequests.WithLabelValues("blocklist", "listed").Inc()
			http.Error(w, "Access Denied", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
