package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/zimagehq/zimage/internal/config"
	"github.com/zimagehq/zimage/internal/domain"
	"github.com/zimagehq/zimage/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Auth       *usecase.Auth
	Submit     *usecase.Submitter
	Status     *usecase.Reconciler
	Gallery    *usecase.Gallery
	Replay     *usecase.Replayer
	Stats      *usecase.Stats
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, auth *usecase.Auth, submit *usecase.Submitter, status *usecase.Reconciler, gallery *usecase.Gallery, replay *usecase.Replayer, stats *usecase.Stats, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Auth: auth, Submit: submit, Status: status, Gallery: gallery, Replay: replay, Stats: stats, DBCheck: dbCheck, RedisCheck: redisCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

const maxBodyBytes = 16 << 20 // masks travel base64-inline

// decodeJSON decodes and validates a request body into dst. dst must be a
// pointer to a struct carrying validate tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
		return false
	}
	return true
}

// pageParams reads page/limit query parameters with sane bounds.
func pageParams(r *http.Request, defaultLimit int) (page, limit int) {
	page, limit = 1, defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v >= 1 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v >= 1 && v <= 100 {
		limit = v
	}
	return page, limit
}

// HealthzHandler is the liveness probe.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// ReadyzHandler probes the datastore and the cache.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.Cfg.ReadinessTimeout)
		defer cancel()
		checks := map[string]string{}
		ok := true
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks["db"] = err.Error()
				ok = false
			} else {
				checks["db"] = "ok"
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks["redis"] = err.Error()
				ok = false
			} else {
				checks["redis"] = "ok"
			}
		}
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"ready": ok, "checks": checks})
	}
}
