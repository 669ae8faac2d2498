package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
)

var corsAllowMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPut,
	http.MethodPatch,
	http.MethodPost,
	http.MethodDelete,
}

// CORS answers preflights itself and decorates every other response with
// credentialed allow-origin headers. An empty allow-list reflects any origin.
type CORS struct {
	origins map[string]bool
	cors    *cors.Cors
}

func NewCORS(allowedOrigins []string, maxAge time.Duration) *CORS {
	c := &CORS{}
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			if c.origins == nil {
				c.origins = make(map[string]bool)
			}
			c.origins[o] = true
		}
	}
	c.cors = cors.New(cors.Options{
		AllowOriginFunc:      c.Allows,
		AllowedMethods:       corsAllowMethods,
		AllowedHeaders:       []string{"*"},
		AllowCredentials:     true,
		MaxAge:               int(maxAge.Seconds()),
		OptionsSuccessStatus: http.StatusNoContent,
	})
	return c
}

// Allows reports whether origin may receive Access-Control-Allow-Origin.
func (c *CORS) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	return c.origins == nil || c.origins[origin]
}

// Handler never forwards OPTIONS. Requests without
// Access-Control-Request-Method are not preflights to rs/cors, so they are
// answered here with the same 204.
func (c *CORS) Handler(next http.Handler) http.Handler {
	return c.cors.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
