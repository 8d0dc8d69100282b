package asynqadp

import (
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/zimagehq/zimage/internal/domain"
)

func TestMapTaskStatePassthrough(t *testing.T) {
	st, res := mapTaskState(&asynq.TaskInfo{State: asynq.TaskStateActive})
	require.Equal(t, domain.QueueStateActive, st)
	require.Nil(t, res)

	st, res = mapTaskState(&asynq.TaskInfo{State: asynq.TaskStatePending})
	require.Equal(t, domain.QueueStateQueued, st)
	require.Nil(t, res)

	st, res = mapTaskState(&asynq.TaskInfo{State: asynq.TaskStateCompleted, Result: []byte(`{"task_id":"t1"}`)})
	require.Equal(t, domain.QueueStateCompleted, st)
	require.JSONEq(t, `{"task_id":"t1"}`, string(res))
}

func TestMapTaskStateArchivedBecomesFailure(t *testing.T) {
	st, res := mapTaskState(&asynq.TaskInfo{
		ID:      "task-9",
		State:   asynq.TaskStateArchived,
		LastErr: "worker lease expired",
	})
	require.Equal(t, domain.QueueStateCompleted, st)

	var r domain.TaskResult
	require.NoError(t, json.Unmarshal(res, &r))
	require.Equal(t, "task-9", r.TaskID)
	require.Equal(t, domain.TaskFailed, r.Status)
	require.Equal(t, "worker lease expired", r.Error)
}

func TestMapTaskStateArchivedWithoutLastError(t *testing.T) {
	_, res := mapTaskState(&asynq.TaskInfo{ID: "task-9", State: asynq.TaskStateArchived})
	var r domain.TaskResult
	require.NoError(t, json.Unmarshal(res, &r))
	require.Equal(t, domain.TaskFailed, r.Status)
	require.NotEmpty(t, r.Error)
}
