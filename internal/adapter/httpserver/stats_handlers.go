package httpserver

import (
	"net/http"
)

// StatsHandler returns the aggregate platform counters.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := s.Stats.Aggregate(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// MLStatusHandler reports the worker's last GPU telemetry sample.
func (s *Server) MLStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := s.Stats.GPU(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"gpu": g})
	}
}
