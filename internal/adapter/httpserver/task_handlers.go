package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// TaskStatusHandler reconciles and reports one generation-family task.
func (s *Server) TaskStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.Status.TaskStatus(r.Context(), callerID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// InpaintStatusHandler reconciles and reports one inpaint task.
func (s *Server) InpaintStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.Status.InpaintStatus(r.Context(), callerID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
