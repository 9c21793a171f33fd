package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
	"github.com/dataplane-io/dataplane-engine/pkg/observability"
)

func newAsyncEnv(t *testing.T, workers int) (*engineEnv, AsyncQueryService) {
	t.Helper()
	env := newEngineEnv(t)
	svc := NewAsyncQueryService(env.engine, env.perms, env.cache, env.reg, workers, zaptest.NewLogger(t))
	t.Cleanup(svc.Shutdown)
	return env, svc
}

func resultCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func usersInput(fields ...string) models.AsyncQueryInput {
	return models.AsyncQueryInput{
		Catalog: "iceberg", Schema: "ecommerce", Table: "users",
		FieldSelection: fields,
	}
}

func TestAsyncQueryService_Submit_UnknownTable(t *testing.T) {
	_, svc := newAsyncEnv(t, 1)

	_, err := svc.Submit(context.Background(), models.AsyncQueryInput{
		Catalog: "iceberg", Schema: "ecommerce", Table: "ghost",
	}, "admin")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAsyncQueryService_Submit_Forbidden(t *testing.T) {
	_, svc := newAsyncEnv(t, 1)

	_, err := svc.Submit(context.Background(), usersInput("id"), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestAsyncQueryService_Submit_RoutesHighPriority(t *testing.T) {
	_, svc := newAsyncEnv(t, 1)

	input := usersInput("id")
	input.Priority = models.PriorityHigh

	task, err := svc.Submit(context.Background(), input, "user1")
	require.NoError(t, err)

	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, models.PriorityHigh, task.Priority)
	assert.Equal(t, HighPriorityResourceGroup, task.ResourceGroup)
	assert.Equal(t, DefaultDurationEstimate, task.EstimatedDuration)
	assert.False(t, task.SubmittedAt.IsZero())
}

func TestAsyncQueryService_Submit_DefaultsToUserResourceGroup(t *testing.T) {
	_, svc := newAsyncEnv(t, 1)

	task, err := svc.Submit(context.Background(), usersInput("id"), "user1")
	require.NoError(t, err)

	// No priority given: NORMAL, routed to the user's first group.
	assert.Equal(t, models.PriorityNormal, task.Priority)
	assert.Equal(t, "default", task.ResourceGroup)
}

func TestAsyncQueryService_Submit_EstimatesFromHistory(t *testing.T) {
	env, svc := newAsyncEnv(t, 1)

	env.cache.RecordHistory(models.QueryHistoryEntry{UserID: "user1", Query: "a", ExecutionTimeMs: 2000})
	env.cache.RecordHistory(models.QueryHistoryEntry{UserID: "user1", Query: "b", ExecutionTimeMs: 4000})

	task, err := svc.Submit(context.Background(), usersInput("id"), "user1")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, task.EstimatedDuration)
}

func TestAsyncQueryService_CompletedLifecycle(t *testing.T) {
	env, svc := newAsyncEnv(t, 1)
	env.exec.rows = []map[string]any{{"id": 1}, {"id": 2}, {"id": 3}}
	env.exec.total = 3

	task, err := svc.Submit(context.Background(), usersInput("id"), "user1")
	require.NoError(t, err)

	result, err := svc.Result(resultCtx(t), task.TaskID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, []string{"id"}, result.Columns)
	assert.Len(t, result.Data, 3)
	assert.Equal(t, 3, result.TotalCount)
	assert.False(t, result.HasNextPage)

	status, err := svc.Status(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, 1.0, status.Progress)
	require.NotNil(t, status.StartedAt)
	require.NotNil(t, status.CompletedAt)
}

func TestAsyncQueryService_Result_Paginates(t *testing.T) {
	env, svc := newAsyncEnv(t, 1)
	env.exec.rows = []map[string]any{
		{"id": 0}, {"id": 1}, {"id": 2}, {"id": 3}, {"id": 4},
	}
	env.exec.total = 5

	task, err := svc.Submit(context.Background(), usersInput("id"), "user1")
	require.NoError(t, err)

	page, err := svc.Result(resultCtx(t), task.TaskID, &models.PaginationInput{Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, 2, page.Data[0]["id"])
	assert.True(t, page.HasNextPage)

	last, err := svc.Result(resultCtx(t), task.TaskID, &models.PaginationInput{Offset: 4, Limit: 4})
	require.NoError(t, err)
	require.Len(t, last.Data, 1)
	assert.False(t, last.HasNextPage)
}

func TestAsyncQueryService_FailedTaskSurfacesError(t *testing.T) {
	env, svc := newAsyncEnv(t, 1)
	env.exec.err = errors.New("connection reset")

	task, err := svc.Submit(context.Background(), usersInput("id"), "user1")
	require.NoError(t, err)

	_, err = svc.Result(resultCtx(t), task.TaskID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExecutionFailed)

	status, err := svc.Status(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status.Status)
	assert.Zero(t, status.Progress)
}

func TestAsyncQueryService_CancelPendingTask(t *testing.T) {
	env, svc := newAsyncEnv(t, 1)
	gate := make(chan struct{})
	env.exec.gate = gate
	env.exec.rows = []map[string]any{{"id": 1}}
	env.exec.total = 1

	// Occupy the single worker, then queue a second task behind it.
	first, err := svc.Submit(context.Background(), usersInput("id"), "user1")
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), usersInput("username"), "user1")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(second.TaskID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	status, err := svc.Status(second.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status.Status)

	_, err = svc.Result(resultCtx(t), second.TaskID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExecutionFailed)
	assert.Contains(t, err.Error(), "cancelled")

	close(gate)
	result, err := svc.Result(resultCtx(t), first.TaskID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)

	// Terminal tasks cannot be cancelled.
	cancelled, err = svc.Cancel(first.TaskID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestAsyncQueryService_CancelRunningTaskCountsCancelled(t *testing.T) {
	env, svc := newAsyncEnv(t, 1)
	gate := make(chan struct{})
	env.exec.gate = gate

	cancelledCounter := observability.AsyncTasksTotal.WithLabelValues(string(models.StatusCancelled))
	failedCounter := observability.AsyncTasksTotal.WithLabelValues(string(models.StatusFailed))
	cancelledBefore := testutil.ToFloat64(cancelledCounter)
	failedBefore := testutil.ToFloat64(failedCounter)

	task, err := svc.Submit(context.Background(), usersInput("id"), "user1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := svc.Status(task.TaskID)
		return err == nil && status.Status == models.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	cancelled, err := svc.Cancel(task.TaskID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, err = svc.Result(resultCtx(t), task.TaskID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExecutionFailed)

	status, err := svc.Status(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status.Status)

	// The interrupted run counts once as CANCELLED, never as FAILED.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(cancelledCounter) == cancelledBefore+1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, failedBefore, testutil.ToFloat64(failedCounter))
}

func TestAsyncQueryService_UnknownTaskID(t *testing.T) {
	_, svc := newAsyncEnv(t, 1)

	_, err := svc.Status("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Result(resultCtx(t), "missing", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Cancel("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
