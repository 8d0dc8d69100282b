package httpserver

import (
	"time"

	"github.com/zimagehq/zimage/internal/domain"
)

// Wire shapes for entities the API returns. Domain structs stay tag-free; the
// HTTP layer owns the field names clients see.

type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserView(u domain.User) userView {
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, Active: u.Active, CreatedAt: u.CreatedAt}
}

type imageView struct {
	ID             string         `json:"id"`
	TaskID         *string        `json:"task_id,omitempty"`
	URL            string         `json:"url"`
	ThumbnailURL   string         `json:"thumbnail_url,omitempty"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Seed           *int64         `json:"seed,omitempty"`
	Favorite       bool           `json:"is_favorite"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toImageView(img domain.Image) imageView {
	return imageView{
		ID:             img.ID,
		TaskID:         img.TaskID,
		URL:            img.URL,
		ThumbnailURL:   img.ThumbnailURL,
		Prompt:         img.Prompt,
		NegativePrompt: img.NegativePrompt,
		Width:          img.Width,
		Height:         img.Height,
		Seed:           img.Seed,
		Favorite:       img.Favorite,
		Metadata:       img.Metadata,
		CreatedAt:      img.CreatedAt,
	}
}

func toImageViews(imgs []domain.Image) []imageView {
	out := make([]imageView, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, toImageView(img))
	}
	return out
}

type historyView struct {
	ID                   string         `json:"id"`
	OriginalImageID      string         `json:"original_image_id"`
	EditedImageID        string         `json:"edited_image_id"`
	InpaintTaskID        *string        `json:"inpaint_task_id,omitempty"`
	EditType             string         `json:"edit_type"`
	Prompt               string         `json:"prompt"`
	NegativePrompt       string         `json:"negative_prompt,omitempty"`
	Strength             float64        `json:"strength,omitempty"`
	MaskObjectName       string         `json:"mask_object_name,omitempty"`
	OriginalThumbnailURL string         `json:"original_thumbnail_url,omitempty"`
	EditedThumbnailURL   string         `json:"edited_thumbnail_url,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

func toHistoryView(h domain.EditHistory) historyView {
	return historyView{
		ID:                   h.ID,
		OriginalImageID:      h.OriginalImageID,
		EditedImageID:        h.EditedImageID,
		InpaintTaskID:        h.InpaintTaskID,
		EditType:             h.EditType,
		Prompt:               h.Prompt,
		NegativePrompt:       h.NegativePrompt,
		Strength:             h.Strength,
		MaskObjectName:       h.MaskObjectName,
		OriginalThumbnailURL: h.OriginalThumbnailURL,
		EditedThumbnailURL:   h.EditedThumbnailURL,
		Metadata:             h.Metadata,
		CreatedAt:            h.CreatedAt,
	}
}

func toHistoryViews(items []domain.EditHistory) []historyView {
	out := make([]historyView, 0, len(items))
	for _, h := range items {
		out = append(out, toHistoryView(h))
	}
	return out
}
