package usecase

import (
	"encoding/json"
	"errors"
	"time"

	redisadp "github.com/zimagehq/zimage/internal/adapter/cache/redis"
	"github.com/zimagehq/zimage/internal/domain"
)

// Overview is the aggregate platform counters.
type Overview struct {
	TotalImages  int     `json:"total_images"`
	ImagesToday  int     `json:"images_today"`
	ImagesWeek   int     `json:"images_week"`
	ImagesMonth  int     `json:"images_month"`
	TotalTasks   int     `json:"total_tasks"`
	AvgPerDay    float64 `json:"avg_images_per_day"`
}

// GPUStatus mirrors the telemetry document the worker publishes; a zeroed
// value with Available=false means no worker has reported recently.
type GPUStatus struct {
	Available      bool      `json:"available"`
	Name           string    `json:"name,omitempty"`
	MemoryUsedMB   int       `json:"memory_used_mb"`
	MemoryTotalMB  int       `json:"memory_total_mb"`
	MemoryFreeMB   int       `json:"memory_free_mb"`
	UtilizationPct int       `json:"utilization_pct"`
	TemperatureC   int       `json:"temperature_c"`
	PowerDrawW     float64   `json:"power_draw_w"`
	PowerLimitW    float64   `json:"power_limit_w"`
	SampledAt      time.Time `json:"sampled_at,omitempty"`
}

// Stats serves the aggregate and device-status endpoints.
type Stats struct {
	Images domain.ImageRepository
	Tasks  domain.TaskRepository
	Cache  domain.KVCache

	// now is overridable in tests
	now func() time.Time
}

// NewStats wires a stats service.
func NewStats(images domain.ImageRepository, tasks domain.TaskRepository, cache domain.KVCache) *Stats {
	return &Stats{Images: images, Tasks: tasks, Cache: cache, now: time.Now}
}

// Aggregate computes the platform counters.
func (s *Stats) Aggregate(ctx domain.Context) (Overview, error) {
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	total, err := s.Images.CountAll(ctx)
	if err != nil {
		return Overview{}, err
	}
	today, err := s.Images.CountSince(ctx, dayStart)
	if err != nil {
		return Overview{}, err
	}
	week, err := s.Images.CountSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return Overview{}, err
	}
	month, err := s.Images.CountSince(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return Overview{}, err
	}
	tasks, err := s.Tasks.CountAll(ctx)
	if err != nil {
		return Overview{}, err
	}
	return Overview{
		TotalImages: total,
		ImagesToday: today,
		ImagesWeek:  week,
		ImagesMonth: month,
		TotalTasks:  tasks,
		AvgPerDay:   float64(month) / 30.0,
	}, nil
}

// GPU reads the worker's telemetry document from the cache. An absent or
// expired entry reads as an unavailable device.
func (s *Stats) GPU(ctx domain.Context) (GPUStatus, error) {
	raw, err := s.Cache.Get(ctx, redisadp.GPUStatsKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return GPUStatus{Available: false}, nil
		}
		return GPUStatus{}, err
	}
	var g GPUStatus
	if err := json.Unmarshal(raw, &g); err != nil {
		return GPUStatus{Available: false}, nil
	}
	return g, nil
}
