// Package asynqadp binds the task broker. All GPU jobs share one lane; the
// task id doubles as the idempotency key, so re-submitting the same task is
// a no-op at the broker.
package asynqadp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/zimagehq/zimage/internal/adapter/observability"
	"github.com/zimagehq/zimage/internal/domain"
)

// TaskImageJob is the single registered task type; the payload's kind tag
// selects the handler.
const TaskImageJob = "image_job"

// LaneImageGeneration is the queue all GPU jobs are routed to.
const LaneImageGeneration = "image_generation"

// resultRetention keeps finished results readable long enough for polling
// clients to observe them.
const resultRetention = time.Hour

// Queue implements domain.Queue over an asynq client and inspector.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// New connects to the broker at redisURL.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new: %w", err)
	}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}, nil
}

// Enqueue places the payload on the image_generation lane keyed by task id
// and returns the queue-task handle.
func (q *Queue) Enqueue(ctx domain.Context, p domain.TaskPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	t := asynq.NewTask(TaskImageJob, b)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(LaneImageGeneration),
		asynq.TaskID(p.TaskID),
		asynq.MaxRetry(0), // retries happen inside the handler
		asynq.Retention(resultRetention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return p.TaskID, nil
		}
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	observability.EnqueueJob(string(p.Kind))
	return info.ID, nil
}

// Inspect maps the broker-side task state onto the domain queue states and
// returns the worker-written result bytes once the entry completed.
func (q *Queue) Inspect(ctx domain.Context, handle string) (domain.QueueState, []byte, error) {
	info, err := q.inspector.GetTaskInfo(LaneImageGeneration, handle)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return domain.QueueStateUnknown, nil, nil
		}
		return domain.QueueStateUnknown, nil, fmt.Errorf("op=queue.inspect: %w", err)
	}
	st, res := mapTaskState(info)
	return st, res, nil
}

// mapTaskState folds the broker states onto the domain view. An archived
// entry is one the broker gave up on (lost worker lease, poison payload);
// with broker-side retries disabled nothing will ever run it again, so it
// surfaces as a failed result instead of an eternally pending one.
func mapTaskState(info *asynq.TaskInfo) (domain.QueueState, []byte) {
	switch info.State {
	case asynq.TaskStateActive:
		return domain.QueueStateActive, nil
	case asynq.TaskStateCompleted:
		return domain.QueueStateCompleted, info.Result
	case asynq.TaskStateArchived:
		msg := info.LastErr
		if msg == "" {
			msg = "job abandoned by the broker"
		}
		b, err := json.Marshal(domain.TaskResult{
			TaskID: info.ID,
			Status: domain.TaskFailed,
			Error:  msg,
		})
		if err != nil {
			return domain.QueueStateUnknown, nil
		}
		return domain.QueueStateCompleted, b
	default:
		// pending, scheduled, retry: still the broker's to deliver
		return domain.QueueStateQueued, nil
	}
}

// Close releases the client connection.
func (q *Queue) Close() error { return q.client.Close() }
