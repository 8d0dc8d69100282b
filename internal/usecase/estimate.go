package usecase

import (
	"sync"

	"github.com/zimagehq/zimage/internal/adapter/pipeline"
	"github.com/zimagehq/zimage/internal/domain"
)

// modelLoadPenalty is added for the first observed job of a pipeline kind,
// covering the lazy model load on the worker.
const modelLoadPenalty = 5.0

// Estimator predicts wall-clock seconds for a submission. It tracks which
// pipeline kinds have already been exercised so the load penalty is charged
// once per kind.
type Estimator struct {
	mu   sync.Mutex
	seen map[pipeline.Kind]bool
}

// NewEstimator returns an estimator with no pipelines observed yet.
func NewEstimator() *Estimator {
	return &Estimator{seen: make(map[pipeline.Kind]bool)}
}

// BaseEstimate returns the predicted seconds for one task, without the model
// load penalty. The generate base is 3s at 1024x1024, scaled linearly by
// pixel count, plus 2s per extra image.
func BaseEstimate(kind domain.TaskKind, width, height, numImages int) float64 {
	switch kind {
	case domain.KindGenerate:
		est := 3.0 * float64(width*height) / (1024 * 1024)
		if numImages > 1 {
			est += 2.0 * float64(numImages-1)
		}
		return est
	case domain.KindInpaint:
		return 15
	case domain.KindSegmentPoint, domain.KindSegmentBox:
		return 5
	case domain.KindSegmentAuto:
		return 10
	case domain.KindBackgroundReplaceImage:
		return 8
	case domain.KindBackgroundRemove, domain.KindBackgroundReplaceColor, domain.KindBackgroundMask:
		return 5
	case domain.KindStyleApply:
		return 10
	}
	return 10
}

// Estimate adds the one-time model load penalty on top of BaseEstimate.
func (e *Estimator) Estimate(kind domain.TaskKind, width, height, numImages int) float64 {
	est := BaseEstimate(kind, width, height, numImages)
	if e.firstOf(pipelineKind(kind)) {
		est += modelLoadPenalty
	}
	return est
}

func (e *Estimator) firstOf(k pipeline.Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen[k] {
		return false
	}
	e.seen[k] = true
	return true
}

func pipelineKind(k domain.TaskKind) pipeline.Kind {
	switch k {
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
