package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/zimagehq/zimage/internal/adapter/observability"
	"github.com/zimagehq/zimage/internal/config"
)

// NewRouter assembles the edge router. Middleware order matters: CORS first
// so rejected preflights still carry the right headers, then token
// verification so the rate limit can key on the authenticated user, then the
// rate limit, then the proxies.
func NewRouter(cfg config.Config, rdb *redis.Client, verifier Verifier) (http.Handler, error) {
	authProxy, err := NewProxy(cfg.AuthServiceURL, "/api", cfg.ProxyTimeout)
	if err != nil {
		return nil, fmt.Errorf("op=gateway.router: auth upstream: %w", err)
	}
	imageProxy, err := NewProxy(cfg.ImageServiceURL, "/api", cfg.ProxyTimeout)
	if err != nil {
		return nil, fmt.Errorf("op=gateway.router: image upstream: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(AuthMiddleware(verifier))
	r.Use(RateLimitMiddleware(NewRateLimiter(rdb, cfg.RateLimitPerMin)))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"service":"gateway","status":"ok"}`))
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Handle("/v1/auth/*", authProxy)
	r.Handle("/v1/*", imageProxy)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		observability.GatewayReject("route")
		writeJSONError(w, http.StatusNotFound, "route not found")
	})
	return r, nil
}
