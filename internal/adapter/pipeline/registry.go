// Package pipeline manages the per-process model pipeline singletons used by
// the worker. Each pipeline kind is loaded lazily on first use and kept
// resident afterwards; only its scratch memory is released between jobs.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zimagehq/zimage/internal/domain"
)

// Kind names a pipeline singleton.
type Kind string

const (
	Generate   Kind = "generate"
	Inpaint    Kind = "inpaint"
	SAM        Kind = "sam"
	Background Kind = "background"
	Style      Kind = "style"
	Translate  Kind = "translate"
)

// Factory builds an unloaded pipeline for a kind.
type Factory func(kind Kind) domain.Pipeline

type entry struct {
	once sync.Once
	err  error
	p    domain.Pipeline
}

// Registry hands out loaded pipeline singletons. The worker plane is
// single-threaded per process, but lazy initialization is still guarded so a
// registry can be shared in tests.
type Registry struct {
	factory Factory
	mu      sync.Mutex
	entries map[Kind]*entry
}

// NewRegistry builds a registry backed by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, entries: make(map[Kind]*entry)}
}

// Get returns the singleton for kind, loading it on first use.
func (r *Registry) Get(ctx domain.Context, kind Kind) (domain.Pipeline, error) {
	r.mu.Lock()
	e, ok := r.entries[kind]
	if !ok {
		e = &entry{p: r.factory(kind)}
		r.entries[kind] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		start := time.Now()
		if err := e.p.Load(ctx); err != nil {
			e.err = fmt.Errorf("op=pipeline.load kind=%s: %w", kind, err)
			return
		}
		slog.Info("pipeline loaded", slog.String("kind", string(kind)), slog.Duration("took", time.Since(start)))
	})
	if e.err != nil {
		return nil, e.err
	}
	return e.p, nil
}

// Loaded reports whether the pipeline for kind has been initialized. Used by
// the submission API's model-load time estimate.
func (r *Registry) Loaded(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[kind]
	return ok && e.err == nil && e.p != nil
}
