// Package app assembles the API-service router and its middleware chain.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zimagehq/zimage/internal/adapter/httpserver"
	"github.com/zimagehq/zimage/internal/adapter/observability"
	"github.com/zimagehq/zimage/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input means allow everything.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the API-service handler. The service sits behind the
// gateway, which has already authenticated the caller and stamped the identity
// headers; routes under /api/v1 require them, auth routes do not.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(60 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Post("/auth/register", srv.RegisterHandler())
		v1.Post("/auth/login", srv.LoginHandler())
		v1.Post("/auth/refresh", srv.RefreshHandler())

		v1.Group(func(pr chi.Router) {
			pr.Use(httpserver.TrustedIdentity())

			pr.Get("/auth/me", srv.MeHandler())

			// Submissions run behind a per-IP limiter as defense in depth;
			// the gateway enforces the shared per-user quota.
			pr.Group(func(wr chi.Router) {
				wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
				wr.Post("/images/generate", srv.GenerateHandler())
				wr.Post("/images/inpaint", srv.InpaintHandler())
				wr.Post("/images/sam/segment-point", srv.SegmentPointHandler())
				wr.Post("/images/sam/segment-box", srv.SegmentBoxHandler())
				wr.Post("/images/sam/segment-auto", srv.SegmentAutoHandler())
				wr.Post("/images/background/remove", srv.BackgroundRemoveHandler())
				wr.Post("/images/background/replace-image", srv.BackgroundReplaceImageHandler())
				wr.Post("/images/background/replace-color", srv.BackgroundReplaceColorHandler())
				wr.Post("/images/background/mask", srv.BackgroundMaskHandler())
				wr.Post("/images/style/apply", srv.StyleApplyHandler())
				wr.Post("/images/edit-history/{id}/replay", srv.ReplayHandler())
			})

			pr.Get("/tasks/{id}", srv.TaskStatusHandler())
			pr.Get("/images/inpaint/tasks/{id}", srv.InpaintStatusHandler())
			pr.Get("/images/style/presets", srv.StylePresetsHandler())

			pr.Get("/images/", srv.GalleryListHandler())
			pr.Get("/gallery/", srv.GalleryListHandler())
			pr.Get("/gallery/{id}", srv.GalleryGetHandler())
			pr.Post("/gallery/{id}/favorite", srv.GalleryFavoriteHandler())
			pr.Delete("/gallery/{id}", srv.GalleryDeleteHandler())

			pr.Get("/images/edit-history", srv.HistoryListHandler())
			pr.Get("/images/edit-history/image/{imageID}", srv.HistoryByImageHandler())
			pr.Get("/images/edit-history/{id}", srv.HistoryGetHandler())
			pr.Delete("/images/edit-history/{id}", srv.HistoryDeleteHandler())

			pr.Get("/stats", srv.StatsHandler())
			pr.Get("/stats/ml/status", srv.MLStatusHandler())
		})
	})

	r.Get("/healthz", httpserver.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
