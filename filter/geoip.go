package filter

import (
	"net"
	"net/http"
	"strings"

	"fleetedge/logger"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPFilter rejects clients located in blocked countries. Without a
// readable database it lets everything through.
type GeoIPFilter struct {
	db               *geoip2.Reader
	blockedCountries map[string]bool
	trustForwarded   bool
}

func NewGeoIPFilter(dbPath string, blockedCountries []string, trustForwarded bool) *GeoIPFilter {
	f := &GeoIPFilter{
		blockedCountries: make(map[string]bool),
		trustForwarded:   trustForwarded,
	}
	for _, c := range blockedCountries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			f.blockedCountries[c] = true
		}
	}
	if dbPath == "" {
		return f
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		logger.Warn("GeoIP filter bypassed: database not readable", "path", dbPath, "err", err)
		return f
	}
	f.db = db
	return f
}

// Enabled reports whether lookups can actually block anything.
func (f *GeoIPFilter) Enabled() bool {
	return f.db != nil && len(f.blockedCountries) > 0
}

func (f *GeoIPFilter) Close() error {
	if f.db == nil {
		return nil
	}
	return f.db.Close()
}

func (f *GeoIPFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		host := ClientIP(r, f.trustForwarded)
		if ip := net.ParseIP(host); ip != nil {
			record, err := f.db.Country(ip)
			if err == nil && f.blockedCountries[record.Country.IsoCode] {
				logger.Warn("Blocked request from restricted country", "remote_addr", host, "country", record.Country.IsoCode)
				BlockedRequests.WithLabelValues("geoip", record.Country.IsoCode).Inc()
				http.Error(w, "Access Denied: Country Restricted", http.StatusForbidden)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
