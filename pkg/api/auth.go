package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/francescomaiomascio/yai/pkg/capabilities"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

const requestIDHeader = "X-Request-ID"

type (
	claimsKey    struct{}
	requestIDKey struct{}
)

// ClaimsFrom returns the verified token claims of the caller.
func ClaimsFrom(ctx context.Context) (*capabilities.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*capabilities.Claims)
	return c, ok
}

// RequestIDFrom returns the request id assigned by the server.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID reuses a client supplied X-Request-ID or assigns one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// authenticate requires a valid bearer capability token. A server without a
// token manager rejects every protected request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeUnauthorized(w, r, "missing Authorization header")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeUnauthorized(w, r, "expected 'Bearer <token>'")
			return
		}
		if s.tokens == nil {
			writeUnauthorized(w, r, "authentication not configured")
			return
		}
		claims, err := s.tokens.Parse(token)
		if err != nil {
			s.logger.DebugContext(r.Context(), "token rejected", "error", err)
			writeUnauthorized(w, r, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// requireRuntime admits only tokens issued to the runtime origin.
func requireRuntime(w http.ResponseWriter, r *http.Request) (*capabilities.Claims, bool) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeUnauthorized(w, r, "authentication required")
		return nil, false
	}
	if claims.Origin() != kernel.OriginRuntime {
		writeForbidden(w, r, "only the runtime may perform this operation")
		return nil, false
	}
	return claims, true
}

// agentName strips the "agent:" prefix so policies can name bare agent ids.
func agentName(origin string) string {
	return strings.TrimPrefix(origin, kernel.AgentPrefix)
}
