package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/zimagehq/zimage/internal/domain"
)

// HistoryRepo serves the edit-history timeline and the replay engine's
// parameter lookups.
type HistoryRepo struct{ Pool PgxPool }

// NewHistoryRepo constructs a HistoryRepo with the given pool.
func NewHistoryRepo(p PgxPool) *HistoryRepo { return &HistoryRepo{Pool: p} }

const historyColumns = `id, user_id, original_image_id, edited_image_id, inpaint_task_id, edit_type, COALESCE(prompt,''), COALESCE(negative_prompt,''), strength, COALESCE(mask_object_name,''), COALESCE(original_thumbnail_url,''), COALESCE(edited_thumbnail_url,''), metadata, created_at`

// Get loads one of the caller's own history entries.
func (r *HistoryRepo) Get(ctx domain.Context, id, userID string) (domain.EditHistory, error) {
	tracer := otel.Tracer("repo.history")
	ctx, span := tracer.Start(ctx, "history.Get")
	defer span.End()
	q := `SELECT ` + historyColumns + ` FROM edit_history WHERE id=$1 AND user_id=$2`
	return scanHistory(r.Pool.QueryRow(ctx, q, id, userID), "history.get")
}

// List returns one page of the caller's history, newest first.
func (r *HistoryRepo) List(ctx domain.Context, userID string, page, pageSize int) (domain.HistoryPage, error) {
	tracer := otel.Tracer("repo.history")
	ctx, span := tracer.Start(ctx, "history.List")
	defer span.End()
	return r.list(ctx, `WHERE user_id=$1`, []any{userID}, page, pageSize)
}

// ListByImage returns the caller's history entries touching imageID as either
// source or output.
func (r *HistoryRepo) ListByImage(ctx domain.Context, userID, imageID string, page, pageSize int) (domain.HistoryPage, error) {
	tracer := otel.Tracer("repo.history")
	ctx, span := tracer.Start(ctx, "history.ListByImage")
	defer span.End()
	where := `WHERE user_id=$1 AND (original_image_id=$2 OR edited_image_id=$2)`
	return r.list(ctx, where, []any{userID, imageID}, page, pageSize)
}

func (r *HistoryRepo) list(ctx domain.Context, where string, args []any, page, pageSize int) (domain.HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM edit_history `+where, args...).Scan(&total); err != nil {
		return domain.HistoryPage{}, fmt.Errorf("op=history.list: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	q := fmt.Sprintf(`SELECT %s FROM edit_history %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		historyColumns, where, len(args)-1, len(args))
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return domain.HistoryPage{}, fmt.Errorf("op=history.list: %w", err)
	}
	defer rows.Close()

	out := domain.HistoryPage{Total: total, Page: page, PageSize: pageSize}
	for rows.Next() {
		h, err := scanHistory(rows, "history.list")
		if err != nil {
			return domain.HistoryPage{}, err
		}
		out.Items = append(out.Items, h)
	}
	if err := rows.Err(); err != nil {
		return domain.HistoryPage{}, fmt.Errorf("op=history.list: %w", err)
	}
	return out, nil
}

// Delete removes the caller's own history entry.
func (r *HistoryRepo) Delete(ctx domain.Context, id, userID string) error {
	tracer := otel.Tracer("repo.history")
	ctx, span := tracer.Start(ctx, "history.Delete")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM edit_history WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("op=history.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=history.delete: %w", domain.ErrNotFound)
	}
	return nil
}

func scanHistory(row pgx.Row, op string) (domain.EditHistory, error) {
	var h domain.EditHistory
	var meta []byte
	err := row.Scan(&h.ID, &h.UserID, &h.OriginalImageID, &h.EditedImageID, &h.InpaintTaskID,
		&h.EditType, &h.Prompt, &h.NegativePrompt, &h.Strength, &h.MaskObjectName,
		&h.OriginalThumbnailURL, &h.EditedThumbnailURL, &meta, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EditHistory{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.EditHistory{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return domain.EditHistory{}, fmt.Errorf("op=%s: %w", op, err)
		}
	}
	return h, nil
}
