package usecase

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zimagehq/zimage/internal/domain"
	"github.com/zimagehq/zimage/pkg/textx"
)

// Envelope is the 202 body returned for every accepted submission.
type Envelope struct {
	TaskID        string            `json:"task_id"`
	Status        domain.TaskStatus `json:"status"`
	EstimatedTime float64           `json:"estimated_time"`
}

// Submitter validates submissions, persists the task row, and enqueues the
// payload. It never waits on the worker.
type Submitter struct {
	Tasks    domain.TaskRepository
	Inpaints domain.InpaintTaskRepository
	Images   domain.ImageRepository
	Queue    domain.Queue
	Store    domain.ObjectStore
	Estimate *Estimator
}

// NewSubmitter wires a submitter.
func NewSubmitter(tasks domain.TaskRepository, inpaints domain.InpaintTaskRepository, images domain.ImageRepository, q domain.Queue, store domain.ObjectStore) *Submitter {
	return &Submitter{Tasks: tasks, Inpaints: inpaints, Images: images, Queue: q, Store: store, Estimate: NewEstimator()}
}

// GenerateRequest is a text-to-image submission.
type GenerateRequest struct {
	Prompt         string `json:"prompt" validate:"required,max=2000"`
	NegativePrompt string `json:"negative_prompt" validate:"max=2000"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	NumImages      int    `json:"num_images"`
	Seed           *int64 `json:"seed"`
}

// InpaintRequest is a masked-edit submission over an owned image. The tuning
// knobs are pointers so an explicit zero is distinguishable from "not sent".
type InpaintRequest struct {
	OriginalImageID string   `json:"original_image_id" validate:"required"`
	Prompt          string   `json:"prompt" validate:"required,max=2000"`
	NegativePrompt  string   `json:"negative_prompt" validate:"max=2000"`
	MaskData        string   `json:"mask_data" validate:"required"`
	Strength        *float64 `json:"strength"`
	GuidanceScale   *float64 `json:"guidance_scale"`
	Steps           *int     `json:"steps"`
	Seed            *int64   `json:"seed"`
}

// SegmentPointRequest selects objects by click coordinates.
type SegmentPointRequest struct {
	ImageID     string      `json:"image_id" validate:"required"`
	PointCoords [][]float64 `json:"point_coords" validate:"required,min=1"`
	PointLabels []int       `json:"point_labels" validate:"required,min=1"`
}

// SegmentBoxRequest selects objects by bounding box [x1,y1,x2,y2].
type SegmentBoxRequest struct {
	ImageID string    `json:"image_id" validate:"required"`
	Box     []float64 `json:"box" validate:"required,len=4"`
}

// SegmentAutoRequest segments everything in the image.
type SegmentAutoRequest struct {
	ImageID string `json:"image_id" validate:"required"`
}

// BackgroundRequest covers remove and mask; replace variants add a target.
type BackgroundRequest struct {
	ImageID string `json:"image_id" validate:"required"`
}

// BackgroundReplaceImageRequest swaps the background for another owned image.
type BackgroundReplaceImageRequest struct {
	ImageID           string `json:"image_id" validate:"required"`
	BackgroundImageID string `json:"background_image_id" validate:"required"`
}

// BackgroundReplaceColorRequest swaps the background for a flat color.
type BackgroundReplaceColorRequest struct {
	ImageID string `json:"image_id" validate:"required"`
	Color   string `json:"color" validate:"required,hexcolor"`
}

// StyleRequest applies a preset style to an owned image.
type StyleRequest struct {
	ImageID  string  `json:"image_id" validate:"required"`
	StyleID  string  `json:"style_id" validate:"required"`
	Prompt   string  `json:"prompt" validate:"max=2000"`
	Strength float64 `json:"strength"`
}

const maxSeed = int64(1) << 31

func validateSeed(seed *int64) error {
	if seed != nil && (*seed < 0 || *seed >= maxSeed) {
		return fmt.Errorf("op=submit.validate: seed out of range: %w", domain.ErrInvalidArgument)
	}
	return nil
}

func validateDimension(name string, v int) error {
	if v < 256 || v > 2048 || v%8 != 0 {
		return fmt.Errorf("op=submit.validate: %s must be a multiple of 8 in [256,2048]: %w", name, domain.ErrInvalidArgument)
	}
	return nil
}

// validateMask checks the base64 payload decodes to image bytes and returns
// the normalized base64 without a data-URL prefix.
func validateMask(maskData string) (string, error) {
	b64 := maskData
	if i := strings.Index(b64, ","); i >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("op=submit.validate: mask_data is not valid base64: %w", domain.ErrInvalidArgument)
	}
	if mt := mimetype.Detect(raw); !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("op=submit.validate: mask_data is %s, not an image: %w", mt.String(), domain.ErrInvalidArgument)
	}
	return b64, nil
}

// Generate accepts a text-to-image submission.
func (s *Submitter) Generate(ctx domain.Context, userID string, req GenerateRequest) (Envelope, error) {
	req.Prompt = textx.SanitizeText(req.Prompt)
	req.NegativePrompt = textx.SanitizeText(req.NegativePrompt)
	if req.Width == 0 {
		req.Width = 1024
	}
	if req.Height == 0 {
		req.Height = 1024
	}
	if req.NumImages == 0 {
		req.NumImages = 1
	}
	if err := validateDimension("width", req.Width); err != nil {
		return Envelope{}, err
	}
	if err := validateDimension("height", req.Height); err != nil {
		return Envelope{}, err
	}
	if req.NumImages < 1 || req.NumImages > 4 {
		return Envelope{}, fmt.Errorf("op=submit.generate: num_images must be in [1,4]: %w", domain.ErrInvalidArgument)
	}
	if err := validateSeed(req.Seed); err != nil {
		return Envelope{}, err
	}

	id, err := s.Tasks.Create(ctx, domain.GenerationTask{
		UserID:         userID,
		Kind:           domain.KindGenerate,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		NumImages:      req.NumImages,
		Seed:           req.Seed,
	})
	if err != nil {
		return Envelope{}, err
	}
	return s.accept(ctx, s.Tasks.SetQueueTaskID, domain.TaskPayload{
		TaskID:         id,
		Kind:           domain.KindGenerate,
		UserID:         userID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		NumImages:      req.NumImages,
		Seed:           req.Seed,
	}, s.Estimate.Estimate(domain.KindGenerate, req.Width, req.Height, req.NumImages))
}

// Inpaint accepts a masked-edit submission.
func (s *Submitter) Inpaint(ctx domain.Context, userID string, req InpaintRequest) (Envelope, error) {
	req.Prompt = textx.SanitizeText(req.Prompt)
	req.NegativePrompt = textx.SanitizeText(req.NegativePrompt)
	strength := 0.85
	if req.Strength != nil {
		strength = *req.Strength
	}
	guidance := 7.5
	if req.GuidanceScale != nil {
		guidance = *req.GuidanceScale
	}
	steps := 30
	if req.Steps != nil {
		steps = *req.Steps
	}
	if strength < 0 || strength > 1 {
		return Envelope{}, fmt.Errorf("op=submit.inpaint: strength must be in [0,1]: %w", domain.ErrInvalidArgument)
	}
	if guidance < 1 || guidance > 20 {
		return Envelope{}, fmt.Errorf("op=submit.inpaint: guidance_scale must be in [1,20]: %w", domain.ErrInvalidArgument)
	}
	if steps < 10 || steps > 100 {
		return Envelope{}, fmt.Errorf("op=submit.inpaint: steps must be in [10,100]: %w", domain.ErrInvalidArgument)
	}
	if err := validateSeed(req.Seed); err != nil {
		return Envelope{}, err
	}
	mask, err := validateMask(req.MaskData)
	if err != nil {
		return Envelope{}, err
	}
	original, err := s.ownedImage(ctx, userID, req.OriginalImageID)
	if err != nil {
		return Envelope{}, err
	}

	id, err := s.Inpaints.Create(ctx, domain.InpaintTask{
		UserID:          userID,
		OriginalImageID: original.ID,
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		Strength:        strength,
		GuidanceScale:   guidance,
		Steps:           steps,
		Seed:            req.Seed,
	})
	if err != nil {
		return Envelope{}, err
	}
	return s.accept(ctx, s.Inpaints.SetQueueTaskID, domain.TaskPayload{
		TaskID:         id,
		Kind:           domain.KindInpaint,
		UserID:         userID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		ImageURL:       s.Store.InternalURL(original.ObjectName),
		MaskData:       mask,
		Strength:       strength,
		GuidanceScale:  guidance,
		Steps:          steps,
		Seed:           req.Seed,
	}, s.Estimate.Estimate(domain.KindInpaint, 0, 0, 1))
}

// SegmentPoint accepts a click-prompted segmentation.
func (s *Submitter) SegmentPoint(ctx domain.Context, userID string, req SegmentPointRequest) (Envelope, error) {
	if len(req.PointCoords) != len(req.PointLabels) {
		return Envelope{}, fmt.Errorf("op=submit.segment: point_coords and point_labels must pair up: %w", domain.ErrInvalidArgument)
	}
	for _, c := range req.PointCoords {
		if len(c) != 2 {
			return Envelope{}, fmt.Errorf("op=submit.segment: each point must be [x,y]: %w", domain.ErrInvalidArgument)
		}
	}
	return s.submitEdit(ctx, userID, domain.KindSegmentPoint, req.ImageID, editParams{
		PointCoords: req.PointCoords,
		PointLabels: req.PointLabels,
	})
}

// SegmentBox accepts a box-prompted segmentation.
func (s *Submitter) SegmentBox(ctx domain.Context, userID string, req SegmentBoxRequest) (Envelope, error) {
	if len(req.Box) != 4 {
		return Envelope{}, fmt.Errorf("op=submit.segment: box must be [x1,y1,x2,y2]: %w", domain.ErrInvalidArgument)
	}
	return s.submitEdit(ctx, userID, domain.KindSegmentBox, req.ImageID, editParams{Box: req.Box})
}

// SegmentAuto accepts a whole-image segmentation.
func (s *Submitter) SegmentAuto(ctx domain.Context, userID string, req SegmentAutoRequest) (Envelope, error) {
	return s.submitEdit(ctx, userID, domain.KindSegmentAuto, req.ImageID, editParams{})
}

// BackgroundRemove accepts a background removal.
func (s *Submitter) BackgroundRemove(ctx domain.Context, userID string, req BackgroundRequest) (Envelope, error) {
	return s.submitEdit(ctx, userID, domain.KindBackgroundRemove, req.ImageID, editParams{})
}

// BackgroundMask accepts a background mask extraction.
func (s *Submitter) BackgroundMask(ctx domain.Context, userID string, req BackgroundRequest) (Envelope, error) {
	return s.submitEdit(ctx, userID, domain.KindBackgroundMask, req.ImageID, editParams{})
}

// BackgroundReplaceImage swaps the background for another owned image.
func (s *Submitter) BackgroundReplaceImage(ctx domain.Context, userID string, req BackgroundReplaceImageRequest) (Envelope, error) {
	bg, err := s.ownedImage(ctx, userID, req.BackgroundImageID)
	if err != nil {
		return Envelope{}, err
	}
	return s.submitEdit(ctx, userID, domain.KindBackgroundReplaceImage, req.ImageID, editParams{
		BackgroundURL: s.Store.InternalURL(bg.ObjectName),
	})
}

// BackgroundReplaceColor swaps the background for a flat color.
func (s *Submitter) BackgroundReplaceColor(ctx domain.Context, userID string, req BackgroundReplaceColorRequest) (Envelope, error) {
	return s.submitEdit(ctx, userID, domain.KindBackgroundReplaceColor, req.ImageID, editParams{Color: req.Color})
}

// StyleApply applies a preset style.
func (s *Submitter) StyleApply(ctx domain.Context, userID string, req StyleRequest) (Envelope, error) {
	req.Prompt = textx.SanitizeText(req.Prompt)
	if !ValidStyleID(req.StyleID) {
		return Envelope{}, fmt.Errorf("op=submit.style: unknown style_id %q: %w", req.StyleID, domain.ErrInvalidArgument)
	}
	if req.Strength != 0 && (req.Strength < 0 || req.Strength > 1) {
		return Envelope{}, fmt.Errorf("op=submit.style: strength must be in [0,1]: %w", domain.ErrInvalidArgument)
	}
	return s.submitEdit(ctx, userID, domain.KindStyleApply, req.ImageID, editParams{
		StyleID:  req.StyleID,
		Prompt:   req.Prompt,
		Strength: req.Strength,
	})
}

// editParams is the per-kind parameter set persisted on the task row and
// copied into the queue payload.
type editParams struct {
	PointCoords   [][]float64 `json:"point_coords,omitempty"`
	PointLabels   []int       `json:"point_labels,omitempty"`
	Box           []float64   `json:"box,omitempty"`
	BackgroundURL string      `json:"background_url,omitempty"`
	Color         string      `json:"color,omitempty"`
	StyleID       string      `json:"style_id,omitempty"`
	Prompt        string      `json:"prompt,omitempty"`
	Strength      float64     `json:"strength,omitempty"`
}

func (s *Submitter) submitEdit(ctx domain.Context, userID string, kind domain.TaskKind, imageID string, p editParams) (Envelope, error) {
	original, err := s.ownedImage(ctx, userID, imageID)
	if err != nil {
		return Envelope{}, err
	}
	params, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("op=submit.edit: %w", err)
	}
	id, err := s.Tasks.Create(ctx, domain.GenerationTask{
		UserID:          userID,
		Kind:            kind,
		Prompt:          p.Prompt,
		OriginalImageID: &original.ID,
		Params:          params,
	})
	if err != nil {
		return Envelope{}, err
	}
	return s.accept(ctx, s.Tasks.SetQueueTaskID, domain.TaskPayload{
		TaskID:        id,
		Kind:          kind,
		UserID:        userID,
		Prompt:        p.Prompt,
		ImageURL:      s.Store.InternalURL(original.ObjectName),
		BackgroundURL: p.BackgroundURL,
		Color:         p.Color,
		StyleID:       p.StyleID,
		Strength:      p.Strength,
		PointCoords:   p.PointCoords,
		PointLabels:   p.PointLabels,
		Box:           p.Box,
	}, s.Estimate.Estimate(kind, 0, 0, 1))
}

// ownedImage resolves an image id and enforces ownership. Someone else's
// image is indistinguishable from a missing one.
func (s *Submitter) ownedImage(ctx domain.Context, userID, imageID string) (domain.Image, error) {
	img, err := s.Images.Get(ctx, imageID)
	if err != nil {
		return domain.Image{}, err
	}
	if img.UserID != userID {
		return domain.Image{}, fmt.Errorf("op=submit.image: %w", domain.ErrNotFound)
	}
	return img, nil
}

func (s *Submitter) accept(ctx domain.Context, setHandle func(domain.Context, string, string) error, p domain.TaskPayload, estimate float64) (Envelope, error) {
	handle, err := s.Queue.Enqueue(ctx, p)
	if err != nil {
		return Envelope{}, err
	}
	if err := setHandle(ctx, p.TaskID, handle); err != nil {
		return Envelope{}, err
	}
	return Envelope{TaskID: p.TaskID, Status: domain.TaskPending, EstimatedTime: estimate}, nil
}
