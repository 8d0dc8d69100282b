package domain

import "time"

// Repositories (ports)

type UserRepository interface {
	Create(ctx Context, u User) (string, error)
	GetByEmail(ctx Context, email string) (User, error)
	GetByID(ctx Context, id string) (User, error)
}

// TaskTerminal carries the fields written atomically when a task is promoted
// to a terminal state.
type TaskTerminal struct {
	Status      TaskStatus
	Error       string
	Result      []byte
	CompletedAt time.Time
}

type TaskRepository interface {
	Create(ctx Context, t GenerationTask) (string, error)
	Get(ctx Context, id string) (GenerationTask, error)
	SetQueueTaskID(ctx Context, id, queueTaskID string) error
	// MarkProcessing sets status=processing and started_at (if unset) only
	// when the row is still pending.
	MarkProcessing(ctx Context, id string, at time.Time) error
	// Complete promotes a non-terminal task and inserts the derived image and
	// history rows in the same transaction. Duplicate image ids are ignored so
	// concurrent polls materialize the result at most once.
	Complete(ctx Context, id string, term TaskTerminal, images []Image, history []EditHistory) error
	CountAll(ctx Context) (int, error)
}

type InpaintTaskRepository interface {
	Create(ctx Context, t InpaintTask) (string, error)
	Get(ctx Context, id string) (InpaintTask, error)
	SetQueueTaskID(ctx Context, id, queueTaskID string) error
	MarkProcessing(ctx Context, id string, at time.Time) error
	Complete(ctx Context, id string, term TaskTerminal, maskObjectName string, images []Image, history []EditHistory) error
}

// ImagePage is one gallery page.
type ImagePage struct {
	Images []Image
	Total  int
	Page   int
	Limit  int
}

// ImageFilter narrows gallery listings.
type ImageFilter struct {
	FavoritesOnly bool
	Search        string
}

type ImageRepository interface {
	Get(ctx Context, id string) (Image, error)
	List(ctx Context, userID string, page, limit int, f ImageFilter) (ImagePage, error)
	ToggleFavorite(ctx Context, id, userID string) (Image, error)
	Delete(ctx Context, id, userID string) error
	CountSince(ctx Context, since time.Time) (int, error)
	CountAll(ctx Context) (int, error)
}

// HistoryPage is one edit-history page.
type HistoryPage struct {
	Items    []EditHistory
	Total    int
	Page     int
	PageSize int
}

type EditHistoryRepository interface {
	Get(ctx Context, id, userID string) (EditHistory, error)
	List(ctx Context, userID string, page, pageSize int) (HistoryPage, error)
	ListByImage(ctx Context, userID, imageID string, page, pageSize int) (HistoryPage, error)
	Delete(ctx Context, id, userID string) error
}

// Queue (port). The handle returned by Enqueue identifies the queue entry for
// later inspection; with task-id keyed enqueueing it equals the task id.

type QueueState string

const (
	QueueStateQueued    QueueState = "queued"
	QueueStateActive    QueueState = "active"
	QueueStateCompleted QueueState = "completed"
	QueueStateUnknown   QueueState = "unknown"
)

type Queue interface {
	Enqueue(ctx Context, p TaskPayload) (string, error)
	// Inspect returns the broker-side state of the entry and, when completed,
	// the raw result bytes the worker wrote.
	Inspect(ctx Context, handle string) (QueueState, []byte, error)
}

// ObjectStore (port). Internal URLs resolve inside the cluster; external URLs
// are what a browser can reach. The two must never be swapped.
type ObjectStore interface {
	Put(ctx Context, objectName string, data []byte, contentType string) error
	Get(ctx Context, objectName string) ([]byte, error)
	Remove(ctx Context, objectName string) error
	ExternalURL(objectName string) string
	InternalURL(objectName string) string
}

// KVCache (port) for shared ephemeral state with TTL semantics.
type KVCache interface {
	Set(ctx Context, key string, value []byte, ttl time.Duration) error
	Get(ctx Context, key string) ([]byte, error)
}

// Pipeline wraps one model's load/execute/cleanup contract. Instances are
// per-process singletons on the worker plane; Load is called once lazily.
type Pipeline interface {
	Load(ctx Context) error
	Run(ctx Context, p PipelineParams) ([][]byte, error)
	Cleanup()
}

// PipelineParams is the union of inputs across pipeline kinds; each pipeline
// reads only the fields relevant to it.
type PipelineParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	NumImages      int
	Seed           *int64
	Strength       float64
	GuidanceScale  float64
	Steps          int
	SourceImage    []byte
	MaskImage      []byte
	Background     []byte
	Color          string
	StyleID        string
	PointCoords    [][]float64
	PointLabels    []int
	Box            []float64
}

// Translator renders non-English prompts into English for model input.
type Translator interface {
	TranslateToEnglish(ctx Context, text string) (string, error)
}
