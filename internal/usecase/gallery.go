package usecase

import (
	"fmt"
	"log/slog"

	"github.com/zimagehq/zimage/internal/domain"
)

// Gallery serves the image collection and the edit-history timeline.
type Gallery struct {
	Images  domain.ImageRepository
	History domain.EditHistoryRepository
	Store   domain.ObjectStore
}

// NewGallery wires a gallery service.
func NewGallery(images domain.ImageRepository, history domain.EditHistoryRepository, store domain.ObjectStore) *Gallery {
	return &Gallery{Images: images, History: history, Store: store}
}

// List returns one page of the caller's images.
func (g *Gallery) List(ctx domain.Context, userID string, page, limit int, f domain.ImageFilter) (domain.ImagePage, error) {
	return g.Images.List(ctx, userID, page, limit, f)
}

// Get returns one of the caller's images.
func (g *Gallery) Get(ctx domain.Context, userID, imageID string) (domain.Image, error) {
	img, err := g.Images.Get(ctx, imageID)
	if err != nil {
		return domain.Image{}, err
	}
	if img.UserID != userID {
		return domain.Image{}, fmt.Errorf("op=gallery.get: %w", domain.ErrNotFound)
	}
	return img, nil
}

// ToggleFavorite flips the favorite flag.
func (g *Gallery) ToggleFavorite(ctx domain.Context, userID, imageID string) (domain.Image, error) {
	return g.Images.ToggleFavorite(ctx, imageID, userID)
}

// Delete removes the image row and its stored object. Object removal is
// best-effort; an orphaned object is cheaper than a dangling row.
func (g *Gallery) Delete(ctx domain.Context, userID, imageID string) error {
	img, err := g.Get(ctx, userID, imageID)
	if err != nil {
		return err
	}
	if err := g.Images.Delete(ctx, imageID, userID); err != nil {
		return err
	}
	if img.ObjectName != "" {
		if err := g.Store.Remove(ctx, img.ObjectName); err != nil {
			slog.Warn("image object removal failed", slog.String("object", img.ObjectName), slog.Any("error", err))
		}
	}
	return nil
}

// ListHistory returns one page of the caller's edit history.
func (g *Gallery) ListHistory(ctx domain.Context, userID string, page, pageSize int) (domain.HistoryPage, error) {
	return g.History.List(ctx, userID, page, pageSize)
}

// ListHistoryByImage returns history entries touching one image.
func (g *Gallery) ListHistoryByImage(ctx domain.Context, userID, imageID string, page, pageSize int) (domain.HistoryPage, error) {
	return g.History.ListByImage(ctx, userID, imageID, page, pageSize)
}

// GetHistory returns one of the caller's history entries.
func (g *Gallery) GetHistory(ctx domain.Context, userID, historyID string) (domain.EditHistory, error) {
	return g.History.Get(ctx, historyID, userID)
}

// DeleteHistory removes a history entry and its mask object. The mask is
// owned by the history row, so it goes with it.
func (g *Gallery) DeleteHistory(ctx domain.Context, userID, historyID string) error {
	h, err := g.History.Get(ctx, historyID, userID)
	if err != nil {
		return err
	}
	if err := g.History.Delete(ctx, historyID, userID); err != nil {
		return err
	}
	if h.MaskObjectName != "" {
		if err := g.Store.Remove(ctx, h.MaskObjectName); err != nil {
			slog.Warn("mask object removal failed", slog.String("object", h.MaskObjectName), slog.Any("error", err))
		}
	}
	return nil
}
