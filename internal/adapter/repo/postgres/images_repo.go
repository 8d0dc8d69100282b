package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/zimagehq/zimage/internal/domain"
)

// ImageRepo serves the gallery.
type ImageRepo struct{ Pool PgxPool }

// NewImageRepo constructs an ImageRepo with the given pool.
func NewImageRepo(p PgxPool) *ImageRepo { return &ImageRepo{Pool: p} }

const imageColumns = `id, user_id, task_id, object_name, url, COALESCE(thumbnail_url,''), COALESCE(prompt,''), COALESCE(negative_prompt,''), width, height, seed, is_favorite, folder_id, metadata, created_at`

// Get loads an image by id.
func (r *ImageRepo) Get(ctx domain.Context, id string) (domain.Image, error) {
	tracer := otel.Tracer("repo.images")
	ctx, span := tracer.Start(ctx, "images.Get")
	defer span.End()
	q := `SELECT ` + imageColumns + ` FROM images WHERE id=$1`
	return scanImage(r.Pool.QueryRow(ctx, q, id), "image.get")
}

// List returns one page of the caller's gallery, newest first.
func (r *ImageRepo) List(ctx domain.Context, userID string, page, limit int, f domain.ImageFilter) (domain.ImagePage, error) {
	tracer := otel.Tracer("repo.images")
	ctx, span := tracer.Start(ctx, "images.List")
	defer span.End()
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	where := `WHERE user_id=$1`
	args := []any{userID}
	if f.FavoritesOnly {
		where += ` AND is_favorite`
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += fmt.Sprintf(` AND prompt ILIKE $%d`, len(args))
	}

	var total int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM images `+where, args...).Scan(&total); err != nil {
		return domain.ImagePage{}, fmt.Errorf("op=image.list: %w", err)
	}

	args = append(args, limit, (page-1)*limit)
	q := fmt.Sprintf(`SELECT %s FROM images %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		imageColumns, where, len(args)-1, len(args))
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return domain.ImagePage{}, fmt.Errorf("op=image.list: %w", err)
	}
	defer rows.Close()

	out := domain.ImagePage{Total: total, Page: page, Limit: limit}
	for rows.Next() {
		img, err := scanImage(rows, "image.list")
		if err != nil {
			return domain.ImagePage{}, err
		}
		out.Images = append(out.Images, img)
	}
	if err := rows.Err(); err != nil {
		return domain.ImagePage{}, fmt.Errorf("op=image.list: %w", err)
	}
	return out, nil
}

// ToggleFavorite flips the favorite flag on the caller's own image and
// returns the updated row.
func (r *ImageRepo) ToggleFavorite(ctx domain.Context, id, userID string) (domain.Image, error) {
	tracer := otel.Tracer("repo.images")
	ctx, span := tracer.Start(ctx, "images.ToggleFavorite")
	defer span.End()
	q := `UPDATE images SET is_favorite = NOT is_favorite WHERE id=$1 AND user_id=$2 RETURNING ` + imageColumns
	return scanImage(r.Pool.QueryRow(ctx, q, id, userID), "image.toggle_favorite")
}

// Delete removes the caller's own image row.
func (r *ImageRepo) Delete(ctx domain.Context, id, userID string) error {
	tracer := otel.Tracer("repo.images")
	ctx, span := tracer.Start(ctx, "images.Delete")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM images WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("op=image.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=image.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// CountSince counts images created at or after since, across all users.
func (r *ImageRepo) CountSince(ctx domain.Context, since time.Time) (int, error) {
	tracer := otel.Tracer("repo.images")
	ctx, span := tracer.Start(ctx, "images.CountSince")
	defer span.End()
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM images WHERE created_at >= $1`, since.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=image.count_since: %w", err)
	}
	return n, nil
}

// CountAll counts all stored images.
func (r *ImageRepo) CountAll(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("repo.images")
	ctx, span := tracer.Start(ctx, "images.CountAll")
	defer span.End()
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=image.count_all: %w", err)
	}
	return n, nil
}

func scanImage(row pgx.Row, op string) (domain.Image, error) {
	var img domain.Image
	var meta []byte
	err := row.Scan(&img.ID, &img.UserID, &img.TaskID, &img.ObjectName, &img.URL, &img.ThumbnailURL,
		&img.Prompt, &img.NegativePrompt, &img.Width, &img.Height, &img.Seed,
		&img.Favorite, &img.FolderID, &meta, &img.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Image{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.Image{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &img.Metadata); err != nil {
			return domain.Image{}, fmt.Errorf("op=%s: %w", op, err)
		}
	}
	return img, nil
}
