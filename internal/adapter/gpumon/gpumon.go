// Package gpumon samples GPU utilization on the worker host and publishes it
// to the shared cache so the API plane can serve device stats without talking
// to the worker directly.
package gpumon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	redisadp "github.com/zimagehq/zimage/internal/adapter/cache/redis"
	"github.com/zimagehq/zimage/internal/adapter/observability"
	"github.com/zimagehq/zimage/internal/domain"
)

// SampleInterval is how often the monitor polls the device. The published
// entry lives three intervals, so a stalled monitor reads as "unavailable"
// rather than serving stale numbers.
const SampleInterval = 10 * time.Second

// Stats is the published device snapshot.
type Stats struct {
	Available      bool      `json:"available"`
	Name           string    `json:"name,omitempty"`
	MemoryUsedMB   int       `json:"memory_used_mb"`
	MemoryTotalMB  int       `json:"memory_total_mb"`
	MemoryFreeMB   int       `json:"memory_free_mb"`
	UtilizationPct int       `json:"utilization_pct"`
	TemperatureC   int       `json:"temperature_c"`
	PowerDrawW     float64   `json:"power_draw_w"`
	PowerLimitW    float64   `json:"power_limit_w"`
	SampledAt      time.Time `json:"sampled_at"`
}

// Sampler reads one snapshot from the device.
type Sampler interface {
	Sample(ctx domain.Context) (Stats, error)
}

// NvidiaSMI samples via the nvidia-smi CLI.
type NvidiaSMI struct{}

const smiQuery = "--query-gpu=name,memory.used,memory.total,memory.free,utilization.gpu,temperature.gpu,power.draw,power.limit"

// Sample shells out to nvidia-smi and parses its CSV output.
func (NvidiaSMI) Sample(ctx domain.Context) (Stats, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi", smiQuery, "--format=csv,noheader,nounits").Output()
	if err != nil {
		return Stats{}, fmt.Errorf("op=gpumon.sample: %w", err)
	}
	return parseSMILine(strings.TrimSpace(string(out)))
}

// parseSMILine parses one CSV line of the form
// "NVIDIA GeForce RTX 4090, 1024, 24564, 23540, 37, 52, 88.41, 450.00".
func parseSMILine(line string) (Stats, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 8 {
		return Stats{}, fmt.Errorf("op=gpumon.parse: unexpected output %q", line)
	}
	ints := make([]int, 5)
	for i, f := range fields[1:6] {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Stats{}, fmt.Errorf("op=gpumon.parse: field %d: %w", i+1, err)
		}
		ints[i] = n
	}
	return Stats{
		Available:      true,
		Name:           strings.TrimSpace(fields[0]),
		MemoryUsedMB:   ints[0],
		MemoryTotalMB:  ints[1],
		MemoryFreeMB:   ints[2],
		UtilizationPct: ints[3],
		TemperatureC:   ints[4],
		PowerDrawW:     parseWatts(fields[6]),
		PowerLimitW:    parseWatts(fields[7]),
	}, nil
}

// parseWatts tolerates "[N/A]" on devices without a power sensor.
func parseWatts(f string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
	if err != nil {
		return 0
	}
	return v
}

// Monitor publishes samples into the shared cache on a fixed interval.
type Monitor struct {
	Sampler Sampler
	Cache   domain.KVCache
}

// NewMonitor wires a monitor over the nvidia-smi sampler.
func NewMonitor(cache domain.KVCache) *Monitor {
	return &Monitor{Sampler: NvidiaSMI{}, Cache: cache}
}

// Run samples until ctx is cancelled. Sampling failures are logged and
// skipped; the cache entry simply expires.
func (m *Monitor) Run(ctx domain.Context) {
	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()
	m.publishOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publishOnce(ctx)
		}
	}
}

func (m *Monitor) publishOnce(ctx domain.Context) {
	sampleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := m.Sampler.Sample(sampleCtx)
	if err != nil {
		slog.Warn("gpu sample failed", slog.Any("error", err))
		return
	}
	s.SampledAt = time.Now().UTC()
	observability.GPUMemoryUsedBytes.Set(float64(s.MemoryUsedMB) * 1024 * 1024)

	b, err := json.Marshal(s)
	if err != nil {
		slog.Warn("gpu stats encode failed", slog.Any("error", err))
		return
	}
	if err := m.Cache.Set(ctx, redisadp.GPUStatsKey, b, redisadp.GPUStatsTTL); err != nil {
		slog.Warn("gpu stats publish failed", slog.Any("error", err))
	}
}
