package asynqadp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/zimagehq/zimage/internal/domain"
)

// Executor runs one payload to a terminal result.
type Executor interface {
	Execute(ctx domain.Context, p domain.TaskPayload) domain.TaskResult
}

// Worker consumes the image_generation lane with a concurrency of one; a GPU
// holds exactly one model call at a time.
type Worker struct {
	srv  *asynq.Server
	exec Executor
}

// NewWorker builds a worker bound to the broker at redisURL.
func NewWorker(redisURL string, exec Executor) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.worker: %w", err)
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{LaneImageGeneration: 1},
		Logger:      slogAdapter{},
	})
	return &Worker{srv: srv, exec: exec}, nil
}

// Run blocks serving the lane until Shutdown is called.
func (w *Worker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskImageJob, w.handle)
	if err := w.srv.Run(mux); err != nil {
		return fmt.Errorf("op=queue.worker: %w", err)
	}
	return nil
}

// Shutdown drains in-flight handlers and stops the server.
func (w *Worker) Shutdown() { w.srv.Shutdown() }

// handle always returns nil on executed payloads: failures are carried in the
// written result so the broker entry resolves to completed and the reconciler
// reads the failure from the result bytes.
func (w *Worker) handle(ctx context.Context, t *asynq.Task) error {
	var p domain.TaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// a malformed payload never repairs itself
		return fmt.Errorf("op=queue.worker: decode payload: %w: %w", err, asynq.SkipRetry)
	}

	res := w.exec.Execute(ctx, p)

	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("op=queue.worker: encode result: %w: %w", err, asynq.SkipRetry)
	}
	if _, err := t.ResultWriter().Write(b); err != nil {
		return fmt.Errorf("op=queue.worker: write result: %w", err)
	}
	return nil
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...)) }
func (slogAdapter) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...)) }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...)) }
func (slogAdapter) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
func (slogAdapter) Fatal(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
