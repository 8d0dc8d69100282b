package domain

// TaskPayload is the queue message for every GPU job. Kind selects the
// handler on the worker side; unused fields stay at their zero value.
type TaskPayload struct {
	TaskID         string      `json:"task_id"`
	Kind           TaskKind    `json:"kind"`
	UserID         string      `json:"user_id"`
	Prompt         string      `json:"prompt,omitempty"`
	NegativePrompt string      `json:"negative_prompt,omitempty"`
	Width          int         `json:"width,omitempty"`
	Height         int         `json:"height,omitempty"`
	NumImages      int         `json:"num_images,omitempty"`
	Seed           *int64      `json:"seed,omitempty"`
	ImageURL       string      `json:"image_url,omitempty"`
	MaskData       string      `json:"mask_data,omitempty"`
	Strength       float64     `json:"strength,omitempty"`
	GuidanceScale  float64     `json:"guidance_scale,omitempty"`
	Steps          int         `json:"steps,omitempty"`
	BackgroundURL  string      `json:"background_url,omitempty"`
	Color          string      `json:"color,omitempty"`
	StyleID        string      `json:"style_id,omitempty"`
	PointCoords    [][]float64 `json:"point_coords,omitempty"`
	PointLabels    []int       `json:"point_labels,omitempty"`
	Box            []float64   `json:"box,omitempty"`
}

// ImageResult describes one uploaded artifact inside a task result.
type ImageResult struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ObjectName string `json:"object_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Seed       *int64 `json:"seed,omitempty"`
}

// TaskResult is the structured payload the worker writes back through the
// queue. The worker is its sole writer; a failure is reported as a result
// with status "failed", never as a queue-level error.
type TaskResult struct {
	TaskID         string        `json:"task_id"`
	Status         TaskStatus    `json:"status"`
	Images         []ImageResult `json:"images,omitempty"`
	MaskObjectName string        `json:"mask_object_name,omitempty"`
	Error          string        `json:"error,omitempty"`
	// OriginalPrompt preserves the pre-translation prompt when a translation
	// side-pass rewrote the model input.
	OriginalPrompt string `json:"original_prompt,omitempty"`
}
