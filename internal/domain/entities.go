// Package domain holds the core entities, ports and error taxonomy of the
// job orchestration plane. It has no dependencies on adapters.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrInternal            = errors.New("internal error")
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account row. Password material never leaves the auth layer.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TaskStatus is the lifecycle of a submitted job.
// pending -> processing -> {completed, failed}; terminal states are immutable.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether s admits no further transitions.
func (s TaskStatus) Terminal() bool { return s == TaskCompleted || s == TaskFailed }

// TaskKind is the closed enumeration of GPU job kinds.
type TaskKind string

const (
	KindGenerate               TaskKind = "generate"
	KindInpaint                TaskKind = "inpaint"
	KindBackgroundRemove       TaskKind = "background_remove"
	KindBackgroundReplaceImage TaskKind = "background_replace_image"
	KindBackgroundReplaceColor TaskKind = "background_replace_color"
	KindBackgroundMask         TaskKind = "background_mask"
	KindSegmentPoint           TaskKind = "segment_point"
	KindSegmentBox             TaskKind = "segment_box"
	KindSegmentAuto            TaskKind = "segment_auto"
	KindStyleApply             TaskKind = "style_apply"
)

// EditType maps a task kind to the edit-history category it produces.
// Plain generation produces no history entry and returns "".
func (k TaskKind) EditType() string {
	switch k {
	case KindInpaint:
		return "inpaint"
	case KindBackgroundRemove, KindBackgroundReplaceImage, KindBackgroundReplaceColor, KindBackgroundMask:
		return "background"
	case KindStyleApply:
		return "style"
	case KindSegmentPoint, KindSegmentBox, KindSegmentAuto:
		return "segment"
	}
	return ""
}

// GenerationTask is the durable row for generate/segment/background/style
// jobs. Editing kinds reference OriginalImageID and carry their extra
// parameters in Params.
type GenerationTask struct {
	ID              string
	UserID          string
	Kind            TaskKind
	Status          TaskStatus
	Prompt          string
	NegativePrompt  string
	Width           int
	Height          int
	NumImages       int
	Seed            *int64
	OriginalImageID *string
	Params          json.RawMessage
	Error           string
	Result          json.RawMessage
	QueueTaskID     string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// InpaintTask is the durable row for inpaint jobs. MaskObjectName is filled
// when the worker persists the processed mask.
type InpaintTask struct {
	ID              string
	UserID          string
	Status          TaskStatus
	OriginalImageID string
	Prompt          string
	NegativePrompt  string
	Strength        float64
	GuidanceScale   float64
	Steps           int
	Seed            *int64
	MaskObjectName  string
	Error           string
	Result          json.RawMessage
	QueueTaskID     string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Image is a stored artifact row, created by the reconciler exactly once per
// result entry.
type Image struct {
	ID             string
	UserID         string
	TaskID         *string
	ObjectName     string
	URL            string
	ThumbnailURL   string
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Seed           *int64
	Favorite       bool
	FolderID       *string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// EditHistory records one completed edit; used by the replay engine.
type EditHistory struct {
	ID                   string
	UserID               string
	OriginalImageID      string
	EditedImageID        string
	InpaintTaskID        *string
	EditType             string
	Prompt               string
	NegativePrompt       string
	Strength             float64
	MaskObjectName       string
	OriginalThumbnailURL string
	EditedThumbnailURL   string
	Metadata             map[string]any
	CreatedAt            time.Time
}

// Context is an alias so usecases read naturally without importing context
// everywhere.
type Context = context.Context
