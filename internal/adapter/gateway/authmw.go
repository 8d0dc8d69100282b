package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/zimagehq/zimage/internal/adapter/observability"
	"github.com/zimagehq/zimage/internal/adapter/token"
)

// Headers the gateway stamps on proxied requests. Upstreams trust them
// because only the gateway is network-reachable.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type ctxKey int

const identityKey ctxKey = 0

type identity struct {
	userID string
	role   string
}

// WithIdentity attaches a verified identity to the request context.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, identityKey, identity{userID: userID, role: role})
}

// IdentityFrom returns the verified identity, or empty strings when the
// request is anonymous.
func IdentityFrom(ctx context.Context) (userID, role string) {
	id, _ := ctx.Value(identityKey).(identity)
	return id.userID, id.role
}

// publicPrefixes are reachable without a token.
var publicPrefixes = []string{
	"/",
	"/health",
	"/healthz",
	"/metrics",
	"/docs",
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
}

func isPublic(path string) bool {
	for _, p := range publicPrefixes {
		if p == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Verifier checks an access token string.
type Verifier interface {
	Verify(tokenString, wantKind string) (token.Claims, error)
}

// AuthMiddleware verifies the bearer token on protected paths and records the
// identity in the context for the proxy to forward. Requests carrying a token
// on a public path still get their identity attached when the token is valid.
func AuthMiddleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw != "" {
				if claims, err := v.Verify(raw, token.KindAccess); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), claims.Subject, claims.Role))
					next.ServeHTTP(w, r)
					return
				} else if !isPublic(r.URL.Path) {
					observability.GatewayReject("auth")
					writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
			}
			if !isPublic(r.URL.Path) {
				observability.GatewayReject("auth")
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
