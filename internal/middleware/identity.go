package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "client_identity"

// Identity is the resolved caller of a request, used as the rate-limit
// subject and in the decision log.
type Identity struct {
	ClientID string
	Source   string // "api_key" or "ip"
}

// ClientIdentity resolves who is calling: the X-API-Key header when present,
// the client IP otherwise. The result is stored on the request context for
// the rate limiter and analytics.
func ClientIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{Source: "ip"}
		if key := r.Header.Get("X-API-Key"); key != "" {
			id.ClientID = key
			id.Source = "api_key"
		} else {
			id.ClientID = clientIP(r)
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the identity resolved by ClientIdentity, or a zero
// Identity when the middleware did not run.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// clientIP extracts the remote IP, preferring the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
