package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/zimagehq/zimage/internal/domain"
)

// InpaintRepo persists inpaint tasks. Inpaint keeps its own table because it
// alone carries a processed-mask pointer the replay engine reads back.
type InpaintRepo struct{ Pool PgxPool }

// NewInpaintRepo constructs an InpaintRepo with the given pool.
func NewInpaintRepo(p PgxPool) *InpaintRepo { return &InpaintRepo{Pool: p} }

const inpaintColumns = `id, user_id, status, original_image_id, prompt, negative_prompt, strength, guidance_scale, steps, seed, COALESCE(mask_object_name,''), COALESCE(error,''), result, COALESCE(queue_task_id,''), created_at, started_at, completed_at`

// Create inserts a new inpaint task in status pending and returns its id.
func (r *InpaintRepo) Create(ctx domain.Context, t domain.InpaintTask) (string, error) {
	tracer := otel.Tracer("repo.inpaint")
	ctx, span := tracer.Start(ctx, "inpaint.Create")
	defer span.End()
	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO inpaint_tasks (id, user_id, status, original_image_id, prompt, negative_prompt, strength, guidance_scale, steps, seed, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.Pool.Exec(ctx, q, id, t.UserID, domain.TaskPending, t.OriginalImageID, t.Prompt, t.NegativePrompt,
		t.Strength, t.GuidanceScale, t.Steps, t.Seed, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=inpaint.create: %w", err)
	}
	return id, nil
}

// Get loads an inpaint task by id.
func (r *InpaintRepo) Get(ctx domain.Context, id string) (domain.InpaintTask, error) {
	tracer := otel.Tracer("repo.inpaint")
	ctx, span := tracer.Start(ctx, "inpaint.Get")
	defer span.End()
	q := `SELECT ` + inpaintColumns + ` FROM inpaint_tasks WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var t domain.InpaintTask
	err := row.Scan(&t.ID, &t.UserID, &t.Status, &t.OriginalImageID, &t.Prompt, &t.NegativePrompt,
		&t.Strength, &t.GuidanceScale, &t.Steps, &t.Seed, &t.MaskObjectName,
		&t.Error, &t.Result, &t.QueueTaskID, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InpaintTask{}, fmt.Errorf("op=inpaint.get: %w", domain.ErrNotFound)
		}
		return domain.InpaintTask{}, fmt.Errorf("op=inpaint.get: %w", err)
	}
	return t, nil
}

// SetQueueTaskID records the broker handle assigned at enqueue time.
func (r *InpaintRepo) SetQueueTaskID(ctx domain.Context, id, queueTaskID string) error {
	tracer := otel.Tracer("repo.inpaint")
	ctx, span := tracer.Start(ctx, "inpaint.SetQueueTaskID")
	defer span.End()
	q := `UPDATE inpaint_tasks SET queue_task_id=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, queueTaskID); err != nil {
		return fmt.Errorf("op=inpaint.set_queue_task_id: %w", err)
	}
	return nil
}

// MarkProcessing promotes a pending inpaint task to processing.
func (r *InpaintRepo) MarkProcessing(ctx domain.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.inpaint")
	ctx, span := tracer.Start(ctx, "inpaint.MarkProcessing")
	defer span.End()
	q := `UPDATE inpaint_tasks SET status=$2, started_at=COALESCE(started_at, $3) WHERE id=$1 AND status=$4`
	if _, err := r.Pool.Exec(ctx, q, id, domain.TaskProcessing, at.UTC(), domain.TaskPending); err != nil {
		return fmt.Errorf("op=inpaint.mark_processing: %w", err)
	}
	return nil
}

// Complete promotes a non-terminal inpaint task and inserts the derived rows
// in one transaction, same at-most-once discipline as TaskRepo.Complete.
func (r *InpaintRepo) Complete(ctx domain.Context, id string, term domain.TaskTerminal, maskObjectName string, images []domain.Image, history []domain.EditHistory) error {
	tracer := otel.Tracer("repo.inpaint")
	ctx, span := tracer.Start(ctx, "inpaint.Complete")
	defer span.End()

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=inpaint.complete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `UPDATE inpaint_tasks SET status=$2, error=$3, result=$4, mask_object_name=NULLIF($5,''), completed_at=$6 WHERE id=$1 AND status IN ($7,$8)`
	tag, err := tx.Exec(ctx, q, id, term.Status, term.Error, nullableJSON(term.Result), maskObjectName,
		term.CompletedAt.UTC(), domain.TaskPending, domain.TaskProcessing)
	if err != nil {
		return fmt.Errorf("op=inpaint.complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	if err := insertImages(ctx, tx, images); err != nil {
		return fmt.Errorf("op=inpaint.complete: %w", err)
	}
	if err := insertHistory(ctx, tx, history); err != nil {
		return fmt.Errorf("op=inpaint.complete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=inpaint.complete: %w", err)
	}
	return nil
}
