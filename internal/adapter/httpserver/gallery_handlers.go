package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zimagehq/zimage/internal/domain"
)

// GalleryListHandler returns one page of the caller's images.
func (s *Server) GalleryListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit := pageParams(r, 20)
		q := r.URL.Query()
		f := domain.ImageFilter{
			FavoritesOnly: q.Get("favorites_only") == "true",
			Search:        q.Get("search"),
		}
		p, err := s.Gallery.List(r.Context(), callerID(r), page, limit, f)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"images": toImageViews(p.Images),
			"total":  p.Total,
			"page":   p.Page,
			"limit":  p.Limit,
		})
	}
}

// GalleryGetHandler returns one of the caller's images.
func (s *Server) GalleryGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img, err := s.Gallery.Get(r.Context(), callerID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toImageView(img))
	}
}

// GalleryFavoriteHandler flips the favorite flag and returns the image.
func (s *Server) GalleryFavoriteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img, err := s.Gallery.ToggleFavorite(r.Context(), callerID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toImageView(img))
	}
}

// GalleryDeleteHandler removes an image and its stored object.
func (s *Server) GalleryDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Gallery.Delete(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HistoryListHandler returns one page of the caller's edit history.
func (s *Server) HistoryListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit := pageParams(r, 20)
		p, err := s.Gallery.ListHistory(r.Context(), callerID(r), page, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":     toHistoryViews(p.Items),
			"total":     p.Total,
			"page":      p.Page,
			"page_size": p.PageSize,
		})
	}
}

// HistoryByImageHandler returns history entries touching one image.
func (s *Server) HistoryByImageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit := pageParams(r, 20)
		p, err := s.Gallery.ListHistoryByImage(r.Context(), callerID(r), chi.URLParam(r, "imageID"), page, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":     toHistoryViews(p.Items),
			"total":     p.Total,
			"page":      p.Page,
			"page_size": p.PageSize,
		})
	}
}

// HistoryGetHandler returns one history entry.
func (s *Server) HistoryGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := s.Gallery.GetHistory(r.Context(), callerID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toHistoryView(h))
	}
}

// HistoryDeleteHandler removes a history entry and its mask object.
func (s *Server) HistoryDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Gallery.DeleteHistory(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ReplayHandler re-issues a historical edit against a new target image.
// Unlike the submission endpoints it answers 200: the client asked about an
// existing history entry and gets the resulting task envelope back.
func (s *Server) ReplayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TargetImageID string `json:"target_image_id" validate:"required"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		env, err := s.Replay.Replay(r.Context(), callerID(r), chi.URLParam(r, "id"), req.TargetImageID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, env)
	}
}
