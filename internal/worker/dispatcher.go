// Package worker executes GPU task payloads: it resolves the pipeline
// singleton for the job kind, runs the model call under the kind's soft time
// limit, retries transient failures with backoff, uploads artifacts, and
// assembles the structured result the reconciler consumes.
//
// A dispatcher never lets an error escape: exhausted retries produce a
// result with status "failed" so the queue entry itself resolves cleanly.
package worker

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zimagehq/zimage/internal/adapter/observability"
	minioadp "github.com/zimagehq/zimage/internal/adapter/objstore/minio"
	"github.com/zimagehq/zimage/internal/adapter/pipeline"
	"github.com/zimagehq/zimage/internal/domain"
	"github.com/zimagehq/zimage/pkg/textx"
)

const maxRetries = 2

// softTimeLimits bound the model call per task kind. The broker enforces a
// harder lease on top of these.
var softTimeLimits = map[domain.TaskKind]time.Duration{
	domain.KindGenerate:               240 * time.Second,
	domain.KindInpaint:                300 * time.Second,
	domain.KindSegmentPoint:           60 * time.Second,
	domain.KindSegmentBox:             60 * time.Second,
	domain.KindSegmentAuto:            60 * time.Second,
	domain.KindBackgroundRemove:       60 * time.Second,
	domain.KindBackgroundReplaceImage: 60 * time.Second,
	domain.KindBackgroundReplaceColor: 60 * time.Second,
	domain.KindBackgroundMask:         60 * time.Second,
	domain.KindStyleApply:             180 * time.Second,
}

func pipelineKindFor(k domain.TaskKind) pipeline.Kind {
	switch k {
	case domain.KindGenerate:
		return pipeline.Generate
	case domain.KindInpaint:
		return pipeline.Inpaint
	case domain.KindSegmentPoint, domain.KindSegmentBox, domain.KindSegmentAuto:
		return pipeline.SAM
	case domain.KindBackgroundRemove, domain.KindBackgroundReplaceImage, domain.KindBackgroundReplaceColor, domain.KindBackgroundMask:
		return pipeline.Background
	case domain.KindStyleApply:
		return pipeline.Style
	}
	return pipeline.Generate
}

// Dispatcher executes task payloads on the single-worker-per-GPU plane.
type Dispatcher struct {
	Pipelines  *pipeline.Registry
	Store      domain.ObjectStore
	Translator domain.Translator
	Fetcher    Fetcher

	// sleep is overridable in tests
	sleep func(time.Duration)
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(reg *pipeline.Registry, store domain.ObjectStore, tr domain.Translator, f Fetcher) *Dispatcher {
	return &Dispatcher{Pipelines: reg, Store: store, Translator: tr, Fetcher: f, sleep: time.Sleep}
}

// Execute runs one payload to a terminal result. It is idempotent under
// replay: artifact keys contain fresh UUIDs, so a re-run writes new objects
// and the reconciler's uniqueness constraint discards the duplicates.
func (d *Dispatcher) Execute(ctx domain.Context, p domain.TaskPayload) domain.TaskResult {
	start := time.Now()
	observability.StartProcessingJob(string(p.Kind))
	slog.Info("job started", slog.String("task_id", p.TaskID), slog.String("kind", string(p.Kind)))

	res := d.execute(ctx, p)
	if res.Status == domain.TaskFailed {
		observability.FailJob(string(p.Kind), time.Since(start))
		slog.Warn("job failed", slog.String("task_id", p.TaskID), slog.String("error", res.Error))
	} else {
		observability.CompleteJob(string(p.Kind), time.Since(start))
		slog.Info("job completed", slog.String("task_id", p.TaskID), slog.Int("images", len(res.Images)))
	}
	return res
}

func (d *Dispatcher) execute(ctx domain.Context, p domain.TaskPayload) domain.TaskResult {
	limit, ok := softTimeLimits[p.Kind]
	if !ok {
		return failed(p.TaskID, fmt.Sprintf("unknown task kind %q", p.Kind))
	}

	modelPrompt, originalPrompt := p.Prompt, ""
	if d.Translator != nil && textx.ContainsCJK(p.Prompt) {
		translated, err := d.Translator.TranslateToEnglish(ctx, p.Prompt)
		if err != nil {
			// translation is best-effort; the model still sees the original
			slog.Warn("prompt translation failed", slog.String("task_id", p.TaskID), slog.Any("error", err))
		} else if translated != "" && translated != p.Prompt {
			modelPrompt, originalPrompt = translated, p.Prompt
		}
	}

	var out runOutput
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		runCtx, cancel := contextWithTimeout(ctx, limit)
		out, lastErr = d.run(runCtx, p, modelPrompt)
		cancel()
		if lastErr == nil {
			break
		}
		if attempt < maxRetries {
			delay := time.Duration(5*(attempt+1)) * time.Second
			slog.Warn("job attempt failed; retrying",
				slog.String("task_id", p.TaskID),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", delay),
				slog.Any("error", lastErr))
			d.sleep(delay)
		}
	}
	if lastErr != nil {
		return failed(p.TaskID, lastErr.Error())
	}

	result, err := d.uploadArtifacts(ctx, p, out)
	if err != nil {
		return failed(p.TaskID, err.Error())
	}
	result.OriginalPrompt = originalPrompt
	return result
}

type runOutput struct {
	images [][]byte
	mask   []byte
}

func (d *Dispatcher) run(ctx domain.Context, p domain.TaskPayload, modelPrompt string) (runOutput, error) {
	pl, err := d.Pipelines.Get(ctx, pipelineKindFor(p.Kind))
	if err != nil {
		return runOutput{}, err
	}
	// release the memory pool after the model call; the pipeline stays loaded
	defer pl.Cleanup()

	params := domain.PipelineParams{
		Prompt:         modelPrompt,
		NegativePrompt: p.NegativePrompt,
		Width:          p.Width,
		Height:         p.Height,
		NumImages:      p.NumImages,
		Seed:           p.Seed,
		Strength:       p.Strength,
		GuidanceScale:  p.GuidanceScale,
		Steps:          p.Steps,
		Color:          p.Color,
		StyleID:        p.StyleID,
		PointCoords:    p.PointCoords,
		PointLabels:    p.PointLabels,
		Box:            p.Box,
	}

	var mask []byte
	if p.ImageURL != "" {
		src, err := d.Fetcher.Fetch(ctx, p.ImageURL)
		if err != nil {
			return runOutput{}, fmt.Errorf("fetch source image: %w", err)
		}
		params.SourceImage = src
	}
	if p.BackgroundURL != "" {
		bg, err := d.Fetcher.Fetch(ctx, p.BackgroundURL)
		if err != nil {
			return runOutput{}, fmt.Errorf("fetch background image: %w", err)
		}
		params.Background = bg
	}
	if p.MaskData != "" {
		mask, err = base64.StdEncoding.DecodeString(p.MaskData)
		if err != nil {
			return runOutput{}, fmt.Errorf("decode mask: %w", err)
		}
		params.MaskImage = mask
	}

	images, err := pl.Run(ctx, params)
	if err != nil {
		return runOutput{}, err
	}
	return runOutput{images: images, mask: mask}, nil
}

func (d *Dispatcher) uploadArtifacts(ctx domain.Context, p domain.TaskPayload, out runOutput) (domain.TaskResult, error) {
	results := make([]domain.ImageResult, 0, len(out.images))
	for _, img := range out.images {
		imageID := uuid.New().String()
		objectName := minioadp.ImageObjectName(p.UserID, p.TaskID, imageID)
		if err := d.Store.Put(ctx, objectName, img, "image/png"); err != nil {
			return domain.TaskResult{}, fmt.Errorf("upload image: %w", err)
		}
		w, h := pngDimensions(img, p.Width, p.Height)
		results = append(results, domain.ImageResult{
			ID:         imageID,
			URL:        d.Store.ExternalURL(objectName),
			ObjectName: objectName,
			Width:      w,
			Height:     h,
			Seed:       p.Seed,
		})
	}

	res := domain.TaskResult{TaskID: p.TaskID, Status: domain.TaskCompleted, Images: results}

	if p.Kind == domain.KindInpaint && len(out.mask) > 0 {
		maskName := minioadp.MaskObjectName(p.UserID, p.TaskID, uuid.New().String())
		if err := d.Store.Put(ctx, maskName, out.mask, "image/png"); err != nil {
			return domain.TaskResult{}, fmt.Errorf("upload mask: %w", err)
		}
		res.MaskObjectName = maskName
	}
	return res, nil
}

func failed(taskID, msg string) domain.TaskResult {
	return domain.TaskResult{TaskID: taskID, Status: domain.TaskFailed, Error: msg}
}
