package httpserver

import (
	"net/http"

	"github.com/zimagehq/zimage/internal/usecase"
)

// submission runs one accept-or-reject flow and writes the 202 envelope.
func submission(w http.ResponseWriter, r *http.Request, accept func() (usecase.Envelope, error)) {
	env, err := accept()
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, env)
}

// GenerateHandler accepts a text-to-image submission.
func (s *Server) GenerateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.Generate(r.Context(), callerID(r), req)
		})
	}
}

// InpaintHandler accepts a masked-edit submission.
func (s *Server) InpaintHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.InpaintRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.Inpaint(r.Context(), callerID(r), req)
		})
	}
}

// SegmentPointHandler accepts a click-prompted segmentation.
func (s *Server) SegmentPointHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.SegmentPointRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.SegmentPoint(r.Context(), callerID(r), req)
		})
	}
}

// SegmentBoxHandler accepts a box-prompted segmentation.
func (s *Server) SegmentBoxHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.SegmentBoxRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.SegmentBox(r.Context(), callerID(r), req)
		})
	}
}

// SegmentAutoHandler accepts a whole-image segmentation.
func (s *Server) SegmentAutoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.SegmentAutoRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.SegmentAuto(r.Context(), callerID(r), req)
		})
	}
}

// BackgroundRemoveHandler accepts a background removal.
func (s *Server) BackgroundRemoveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.BackgroundRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.BackgroundRemove(r.Context(), callerID(r), req)
		})
	}
}

// BackgroundMaskHandler accepts a background mask extraction.
func (s *Server) BackgroundMaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.BackgroundRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.BackgroundMask(r.Context(), callerID(r), req)
		})
	}
}

// BackgroundReplaceImageHandler swaps the background for another owned image.
func (s *Server) BackgroundReplaceImageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.BackgroundReplaceImageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.BackgroundReplaceImage(r.Context(), callerID(r), req)
		})
	}
}

// BackgroundReplaceColorHandler swaps the background for a flat color.
func (s *Server) BackgroundReplaceColorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.BackgroundReplaceColorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.BackgroundReplaceColor(r.Context(), callerID(r), req)
		})
	}
}

// StyleApplyHandler applies a preset style.
func (s *Server) StyleApplyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.StyleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		submission(w, r, func() (usecase.Envelope, error) {
			return s.Submit.StyleApply(r.Context(), callerID(r), req)
		})
	}
}

// StylePresetsHandler lists the style catalogue.
func (s *Server) StylePresetsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"presets": usecase.StylePresets})
	}
}
