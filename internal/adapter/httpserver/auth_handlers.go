package httpserver

import (
	"net/http"
)

// RegisterHandler creates an account and returns a token pair.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email" validate:"required"`
			Password string `json:"password" validate:"required"`
			Name     string `json:"name" validate:"required"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		pair, err := s.Auth.Register(r.Context(), req.Email, req.Password, req.Name)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, pair)
	}
}

// LoginHandler exchanges credentials for a token pair.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email" validate:"required"`
			Password string `json:"password" validate:"required"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		pair, err := s.Auth.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, pair)
	}
}

// RefreshHandler exchanges a refresh token for a fresh pair.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token" validate:"required"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		pair, err := s.Auth.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, pair)
	}
}

// MeHandler returns the caller's profile.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.Auth.Me(r.Context(), callerID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toUserView(u))
	}
}
