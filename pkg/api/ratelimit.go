package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/francescomaiomascio/yai/pkg/limiter"
)

// rateLimit spends one token per request. Authenticated callers are keyed by
// origin so that every agent has its own budget; anonymous callers by address.
// A limiter failure lets the request through and is logged.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := "ip:" + clientIP(r)
		if claims, ok := ClaimsFrom(r.Context()); ok {
			key = "origin:" + claims.Origin()
		}
		allowed, err := s.limiter.Allow(r.Context(), key, s.ratePolicy, 1)
		if err != nil {
			s.logger.WarnContext(r.Context(), "rate limiter unavailable", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeTooManyRequests(w, r, retryAfter(s.ratePolicy))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfter(p limiter.Policy) int {
	if p.PerMinute <= 0 || p.PerMinute >= 60 {
		return 1
	}
	return 60 / p.PerMinute
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}
