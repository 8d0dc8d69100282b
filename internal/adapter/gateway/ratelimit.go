// Package gateway is the edge of the platform: it terminates CORS, enforces
// the per-client rate limit, verifies bearer tokens, and proxies requests to
// the upstream services with the verified identity attached as headers.
package gateway

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zimagehq/zimage/internal/adapter/observability"
	"github.com/zimagehq/zimage/internal/domain"
)

// Window is the rate-limit accounting window.
const Window = time.Minute

// luaFixedWindowScript counts requests per client in the current window. It
// returns {count, ttl_seconds}; the first hit arms the expiry so the counter
// state lives in Redis and survives gateway restarts and replicas.
const luaFixedWindowScript = `
local key = KEYS[1]
local window = tonumber(ARGV[1])

local count = redis.call("INCR", key)
if count == 1 then
  redis.call("EXPIRE", key, window)
end
local ttl = redis.call("TTL", key)
if ttl < 0 then
  redis.call("EXPIRE", key, window)
  ttl = window
end
return { count, ttl }
`

// RateLimiter is a Redis-backed per-client request limiter shared by all
// gateway replicas.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	limit  int
}

// NewRateLimiter builds a limiter allowing perMinute requests per client.
func NewRateLimiter(rdb *redis.Client, perMinute int) *RateLimiter {
	return &RateLimiter{rdb: rdb, script: redis.NewScript(luaFixedWindowScript), limit: perMinute}
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Allow accounts one request for client. Redis errors fail open so a cache
// outage never takes the whole edge down.
func (l *RateLimiter) Allow(ctx domain.Context, client string) Decision {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, Reset: time.Now().Add(Window)}
	}
	key := "gateway:rate:" + client
	res, err := l.script.Run(ctx, l.rdb, []string{key}, int(Window.Seconds())).Result()
	if err != nil {
		slog.Error("rate limiter script error", slog.String("client", client), slog.Any("error", err))
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, Reset: time.Now().Add(Window)}
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("rate limiter unexpected script result", slog.Any("result", res))
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, Reset: time.Now().Add(Window)}
	}
	count := toInt(vals[0])
	ttl := toInt(vals[1])

	d := Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: l.limit - count,
		Reset:     time.Now().Add(time.Duration(ttl) * time.Second),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}

// exemptPaths bypass rate limiting so probes never get throttled out.
var exemptPaths = map[string]bool{"/": true, "/health": true, "/healthz": true}

// RateLimitMiddleware enforces the per-client limit and stamps the standard
// X-RateLimit headers on every counted response.
func RateLimitMiddleware(l *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			d := l.Allow(r.Context(), clientKey(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			if !d.Allowed {
				observability.GatewayReject("rate_limit")
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(d.Reset).Seconds())+1))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller: the authenticated user when known,
// otherwise the remote IP.
func clientKey(r *http.Request) string {
	if uid, _ := IdentityFrom(r.Context()); uid != "" {
		return "user:" + uid
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, status, msg)
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}
