package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/zimagehq/zimage/internal/domain"
)

// ImageView is one output image in a status response.
type ImageView struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Seed   *int64 `json:"seed,omitempty"`
}

// StatusView is the polling response for a task.
type StatusView struct {
	TaskID           string            `json:"task_id"`
	Status           domain.TaskStatus `json:"status"`
	Progress         int               `json:"progress"`
	ProgressMessage  string            `json:"progress_message"`
	ElapsedSeconds   float64           `json:"elapsed_seconds"`
	EstimatedSeconds float64           `json:"estimated_seconds"`
	Images           []ImageView       `json:"images,omitempty"`
	OriginalImageURL string            `json:"original_image_url,omitempty"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// Reconciler bridges the broker's eventual result into durable task state.
// All state transitions happen on the poll path.
type Reconciler struct {
	Tasks    domain.TaskRepository
	Inpaints domain.InpaintTaskRepository
	Images   domain.ImageRepository
	Queue    domain.Queue

	// now is overridable in tests
	now func() time.Time
}

// NewReconciler wires a reconciler.
func NewReconciler(tasks domain.TaskRepository, inpaints domain.InpaintTaskRepository, images domain.ImageRepository, q domain.Queue) *Reconciler {
	return &Reconciler{Tasks: tasks, Inpaints: inpaints, Images: images, Queue: q, now: time.Now}
}

// TaskStatus reconciles and reports one generation-family task.
func (r *Reconciler) TaskStatus(ctx domain.Context, userID, taskID string) (StatusView, error) {
	t, err := r.Tasks.Get(ctx, taskID)
	if err != nil {
		return StatusView{}, err
	}
	if t.UserID != userID {
		return StatusView{}, fmt.Errorf("op=status.task: %w", domain.ErrNotFound)
	}
	if !t.Status.Terminal() {
		if err := r.reconcileTask(ctx, t); err != nil {
			return StatusView{}, err
		}
		if t, err = r.Tasks.Get(ctx, taskID); err != nil {
			return StatusView{}, err
		}
	}
	return r.viewTask(t), nil
}

// InpaintStatus reconciles and reports one inpaint task.
func (r *Reconciler) InpaintStatus(ctx domain.Context, userID, taskID string) (StatusView, error) {
	t, err := r.Inpaints.Get(ctx, taskID)
	if err != nil {
		return StatusView{}, err
	}
	if t.UserID != userID {
		return StatusView{}, fmt.Errorf("op=status.inpaint: %w", domain.ErrNotFound)
	}
	if !t.Status.Terminal() {
		if err := r.reconcileInpaint(ctx, t); err != nil {
			return StatusView{}, err
		}
		if t, err = r.Inpaints.Get(ctx, taskID); err != nil {
			return StatusView{}, err
		}
	}
	v := r.viewInpaint(t)
	if orig, err := r.Images.Get(ctx, t.OriginalImageID); err == nil {
		v.OriginalImageURL = orig.URL
	}
	return v, nil
}

func (r *Reconciler) reconcileTask(ctx domain.Context, t domain.GenerationTask) error {
	state, raw, err := r.Queue.Inspect(ctx, queueHandle(t.QueueTaskID, t.ID))
	if err != nil {
		// report the stored state; the next poll retries the broker
		slog.Warn("queue inspect failed", slog.String("task_id", t.ID), slog.Any("error", err))
		return nil
	}
	switch state {
	case domain.QueueStateActive:
		return r.Tasks.MarkProcessing(ctx, t.ID, r.now())
	case domain.QueueStateCompleted:
		res, err := parseResult(raw)
		if err != nil {
			slog.Error("unreadable worker result", slog.String("task_id", t.ID), slog.Any("error", err))
			return nil
		}
		term, images, history := r.materializeTask(t, res)
		return r.Tasks.Complete(ctx, t.ID, term, images, history)
	}
	return nil
}

func (r *Reconciler) reconcileInpaint(ctx domain.Context, t domain.InpaintTask) error {
	state, raw, err := r.Queue.Inspect(ctx, queueHandle(t.QueueTaskID, t.ID))
	if err != nil {
		slog.Warn("queue inspect failed", slog.String("task_id", t.ID), slog.Any("error", err))
		return nil
	}
	switch state {
	case domain.QueueStateActive:
		return r.Inpaints.MarkProcessing(ctx, t.ID, r.now())
	case domain.QueueStateCompleted:
		res, err := parseResult(raw)
		if err != nil {
			slog.Error("unreadable worker result", slog.String("task_id", t.ID), slog.Any("error", err))
			return nil
		}
		term, images, history := r.materializeInpaint(t, res)
		return r.Inpaints.Complete(ctx, t.ID, term, res.MaskObjectName, images, history)
	}
	return nil
}

// materializeTask derives the terminal update and the image/history rows for
// a generation-family result.
func (r *Reconciler) materializeTask(t domain.GenerationTask, res domain.TaskResult) (domain.TaskTerminal, []domain.Image, []domain.EditHistory) {
	now := r.now().UTC()
	if res.Status != domain.TaskCompleted {
		return domain.TaskTerminal{Status: domain.TaskFailed, Error: res.Error, CompletedAt: now}, nil, nil
	}
	raw, _ := json.Marshal(res)
	term := domain.TaskTerminal{Status: domain.TaskCompleted, Result: raw, CompletedAt: now}

	images := make([]domain.Image, 0, len(res.Images))
	for _, ir := range res.Images {
		images = append(images, domain.Image{
			ID:             ir.ID,
			UserID:         t.UserID,
			TaskID:         &t.ID,
			ObjectName:     ir.ObjectName,
			URL:            ir.URL,
			Prompt:         t.Prompt,
			NegativePrompt: t.NegativePrompt,
			Width:          ir.Width,
			Height:         ir.Height,
			Seed:           ir.Seed,
			CreatedAt:      now,
		})
	}

	var history []domain.EditHistory
	editType := t.Kind.EditType()
	if editType != "" && t.OriginalImageID != nil && len(res.Images) > 0 {
		meta := map[string]any{"kind": string(t.Kind)}
		if len(t.Params) > 0 {
			var params map[string]any
			if err := json.Unmarshal(t.Params, &params); err == nil {
				for k, v := range params {
					meta[k] = v
				}
			}
		}
		history = append(history, domain.EditHistory{
			ID:              uuid.New().String(),
			UserID:          t.UserID,
			OriginalImageID: *t.OriginalImageID,
			EditedImageID:   res.Images[0].ID,
			EditType:        editType,
			Prompt:          t.Prompt,
			NegativePrompt:  t.NegativePrompt,
			Metadata:        meta,
			CreatedAt:       now,
		})
	}
	return term, images, history
}

func (r *Reconciler) materializeInpaint(t domain.InpaintTask, res domain.TaskResult) (domain.TaskTerminal, []domain.Image, []domain.EditHistory) {
	now := r.now().UTC()
	if res.Status != domain.TaskCompleted {
		return domain.TaskTerminal{Status: domain.TaskFailed, Error: res.Error, CompletedAt: now}, nil, nil
	}
	raw, _ := json.Marshal(res)
	term := domain.TaskTerminal{Status: domain.TaskCompleted, Result: raw, CompletedAt: now}

	images := make([]domain.Image, 0, len(res.Images))
	for _, ir := range res.Images {
		images = append(images, domain.Image{
			ID:             ir.ID,
			UserID:         t.UserID,
			TaskID:         &t.ID,
			ObjectName:     ir.ObjectName,
			URL:            ir.URL,
			Prompt:         t.Prompt,
			NegativePrompt: t.NegativePrompt,
			Width:          ir.Width,
			Height:         ir.Height,
			Seed:           ir.Seed,
			Metadata:       map[string]any{"original_image_id": t.OriginalImageID},
			CreatedAt:      now,
		})
	}

	var history []domain.EditHistory
	if len(res.Images) > 0 {
		meta := map[string]any{
			"guidance_scale": t.GuidanceScale,
			"steps":          t.Steps,
		}
		if t.Seed != nil {
			meta["seed"] = *t.Seed
		}
		history = append(history, domain.EditHistory{
			ID:              uuid.New().String(),
			UserID:          t.UserID,
			OriginalImageID: t.OriginalImageID,
			EditedImageID:   res.Images[0].ID,
			InpaintTaskID:   &t.ID,
			EditType:        "inpaint",
			Prompt:          t.Prompt,
			NegativePrompt:  t.NegativePrompt,
			Strength:        t.Strength,
			MaskObjectName:  res.MaskObjectName,
			Metadata:        meta,
			CreatedAt:       now,
		})
	}
	return term, images, history
}

func (r *Reconciler) viewTask(t domain.GenerationTask) StatusView {
	est := BaseEstimate(t.Kind, t.Width, t.Height, t.NumImages)
	v := StatusView{
		TaskID:           t.ID,
		Status:           t.Status,
		EstimatedSeconds: est,
		Error:            t.Error,
		CreatedAt:        t.CreatedAt,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
	}
	v.ElapsedSeconds = r.elapsed(t.CreatedAt, t.StartedAt, t.CompletedAt)
	v.Progress, v.ProgressMessage = progress(t.Status, v.ElapsedSeconds, est)
	v.Images = imageViews(t.Result)
	return v
}

func (r *Reconciler) viewInpaint(t domain.InpaintTask) StatusView {
	est := BaseEstimate(domain.KindInpaint, 0, 0, 1)
	v := StatusView{
		TaskID:           t.ID,
		Status:           t.Status,
		EstimatedSeconds: est,
		Error:            t.Error,
		CreatedAt:        t.CreatedAt,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
	}
	v.ElapsedSeconds = r.elapsed(t.CreatedAt, t.StartedAt, t.CompletedAt)
	v.Progress, v.ProgressMessage = progress(t.Status, v.ElapsedSeconds, est)
	v.Images = imageViews(t.Result)
	return v
}

func (r *Reconciler) elapsed(created time.Time, started, completed *time.Time) float64 {
	from := created
	if started != nil {
		from = *started
	}
	to := r.now()
	if completed != nil {
		to = *completed
	}
	d := to.Sub(from).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// progress maps lifecycle state and elapsed time onto a percentage and a
// human-readable milestone.
func progress(status domain.TaskStatus, elapsed, estimated float64) (int, string) {
	switch status {
	case domain.TaskCompleted:
		return 100, "done"
	case domain.TaskFailed:
		return 0, "failed"
	case domain.TaskPending:
		return 5, "waiting in queue"
	}
	switch {
	case elapsed < 2:
		return 10, "initializing model"
	case elapsed < 5:
		return 20, "preparing generation"
	case estimated > 0 && elapsed >= estimated:
		return 90, "finalizing"
	default:
		pct := 0.0
		if estimated > 0 {
			pct = elapsed / estimated * 100
		}
		return int(math.Min(95, pct)), "generating"
	}
}

func imageViews(result json.RawMessage) []ImageView {
	if len(result) == 0 {
		return nil
	}
	var res domain.TaskResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil
	}
	out := make([]ImageView, 0, len(res.Images))
	for _, ir := range res.Images {
		out = append(out, ImageView{ID: ir.ID, URL: ir.URL, Width: ir.Width, Height: ir.Height, Seed: ir.Seed})
	}
	return out
}

func parseResult(raw []byte) (domain.TaskResult, error) {
	var res domain.TaskResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.TaskResult{}, fmt.Errorf("op=status.result: %w", err)
	}
	return res, nil
}

func queueHandle(stored, taskID string) string {
	if stored != "" {
		return stored
	}
	return taskID
}
