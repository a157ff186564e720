package httpapi

import (
	"fmt"
	"net"
	"net/http"

	"github.com/eleven-am/regiflow/internal/domain"
)

const (
	webhookLimiter = "webhook"
	apiLimiter     = "api"
)

// limitWebhook applies a token bucket per webhook path.
func (s *Server) limitWebhook(next http.Handler) http.Handler {
	return s.limit(webhookLimiter, func(r *http.Request) string { return r.PathValue("path") }, next)
}

// limitAPI applies a token bucket per client address.
func (s *Server) limitAPI(next http.Handler) http.Handler {
	return s.limit(apiLimiter, clientKey, next)
}

func (s *Server) limit(name string, keyFn func(*http.Request) string, next http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return next
	}
	limiter := s.deps.Limiter.GetRateLimiter(name)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := keyFn(r)
		if !limiter.Allow(key) {
			s.logger.Warn("rate limit exceeded", "limiter", name, "key", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, fmt.Errorf("%s %s: %w", name, key, domain.ErrRateLimited))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
