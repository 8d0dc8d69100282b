package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/zimagehq/zimage/internal/domain"
)

// TaskRepo persists generation, segmentation, background and style tasks in
// one table keyed by kind.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

const taskColumns = `id, user_id, kind, status, prompt, negative_prompt, width, height, num_images, seed, original_image_id, params, COALESCE(error,''), result, COALESCE(queue_task_id,''), created_at, started_at, completed_at`

// Create inserts a new task row in status pending and returns its id.
func (r *TaskRepo) Create(ctx domain.Context, t domain.GenerationTask) (string, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Create")
	defer span.End()
	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO tasks (id, user_id, kind, status, prompt, negative_prompt, width, height, num_images, seed, original_image_id, params, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.Pool.Exec(ctx, q, id, t.UserID, t.Kind, domain.TaskPending, t.Prompt, t.NegativePrompt,
		t.Width, t.Height, t.NumImages, t.Seed, t.OriginalImageID, nullableJSON(t.Params), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=task.create: %w", err)
	}
	return id, nil
}

// Get loads a task by id.
func (r *TaskRepo) Get(ctx domain.Context, id string) (domain.GenerationTask, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var t domain.GenerationTask
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Status, &t.Prompt, &t.NegativePrompt,
		&t.Width, &t.Height, &t.NumImages, &t.Seed, &t.OriginalImageID, &t.Params,
		&t.Error, &t.Result, &t.QueueTaskID, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GenerationTask{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.GenerationTask{}, fmt.Errorf("op=task.get: %w", err)
	}
	return t, nil
}

// SetQueueTaskID records the broker handle assigned at enqueue time.
func (r *TaskRepo) SetQueueTaskID(ctx domain.Context, id, queueTaskID string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.SetQueueTaskID")
	defer span.End()
	q := `UPDATE tasks SET queue_task_id=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, queueTaskID); err != nil {
		return fmt.Errorf("op=task.set_queue_task_id: %w", err)
	}
	return nil
}

// MarkProcessing promotes a pending task to processing. Terminal rows are
// left untouched.
func (r *TaskRepo) MarkProcessing(ctx domain.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.MarkProcessing")
	defer span.End()
	q := `UPDATE tasks SET status=$2, started_at=COALESCE(started_at, $3) WHERE id=$1 AND status=$4`
	if _, err := r.Pool.Exec(ctx, q, id, domain.TaskProcessing, at.UTC(), domain.TaskPending); err != nil {
		return fmt.Errorf("op=task.mark_processing: %w", err)
	}
	return nil
}

// Complete promotes a non-terminal task and inserts its derived image and
// history rows in one transaction. The conditional update guarantees exactly
// one poller materializes the result; the losers see zero affected rows and
// insert nothing.
func (r *TaskRepo) Complete(ctx domain.Context, id string, term domain.TaskTerminal, images []domain.Image, history []domain.EditHistory) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Complete")
	defer span.End()

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `UPDATE tasks SET status=$2, error=$3, result=$4, completed_at=$5 WHERE id=$1 AND status IN ($6,$7)`
	tag, err := tx.Exec(ctx, q, id, term.Status, term.Error, nullableJSON(term.Result), term.CompletedAt.UTC(),
		domain.TaskPending, domain.TaskProcessing)
	if err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// already terminal; another poll won the race
		return nil
	}
	if err := insertImages(ctx, tx, images); err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	if err := insertHistory(ctx, tx, history); err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	return nil
}

// CountAll counts all task rows regardless of kind or status.
func (r *TaskRepo) CountAll(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.CountAll")
	defer span.End()
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=task.count_all: %w", err)
	}
	return n, nil
}

func insertImages(ctx domain.Context, tx pgx.Tx, images []domain.Image) error {
	q := `INSERT INTO images (id, user_id, task_id, object_name, url, thumbnail_url, prompt, negative_prompt, width, height, seed, is_favorite, folder_id, metadata, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	      ON CONFLICT (id) DO NOTHING`
	for _, img := range images {
		meta, err := marshalMeta(img.Metadata)
		if err != nil {
			return err
		}
		created := img.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, q, img.ID, img.UserID, img.TaskID, img.ObjectName, img.URL, img.ThumbnailURL,
			img.Prompt, img.NegativePrompt, img.Width, img.Height, img.Seed, img.Favorite, img.FolderID, meta, created); err != nil {
			return err
		}
	}
	return nil
}

func insertHistory(ctx domain.Context, tx pgx.Tx, entries []domain.EditHistory) error {
	q := `INSERT INTO edit_history (id, user_id, original_image_id, edited_image_id, inpaint_task_id, edit_type, prompt, negative_prompt, strength, mask_object_name, original_thumbnail_url, edited_thumbnail_url, metadata, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	      ON CONFLICT (id) DO NOTHING`
	for _, h := range entries {
		meta, err := marshalMeta(h.Metadata)
		if err != nil {
			return err
		}
		created := h.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, q, h.ID, h.UserID, h.OriginalImageID, h.EditedImageID, h.InpaintTaskID,
			h.EditType, h.Prompt, h.NegativePrompt, h.Strength, h.MaskObjectName,
			h.OriginalThumbnailURL, h.EditedThumbnailURL, meta, created); err != nil {
			return err
		}
	}
	return nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// nullableJSON maps empty raw JSON to NULL so jsonb columns never hold "".
func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
