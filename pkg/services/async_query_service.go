package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
	"github.com/dataplane-io/dataplane-engine/pkg/observability"
	"github.com/dataplane-io/dataplane-engine/pkg/services/workqueue"
)

// DefaultDurationEstimate is used when a user has no history to average.
const DefaultDurationEstimate = 60 * time.Second

// HighPriorityResourceGroup routes HIGH and URGENT submissions.
const HighPriorityResourceGroup = "high_priority"

// AsyncQueryService tracks long-running query submissions through the
// SUBMITTED -> RUNNING -> {COMPLETED | FAILED} lifecycle, with external
// cancellation into CANCELLED.
type AsyncQueryService interface {
	Submit(ctx context.Context, input models.AsyncQueryInput, userID string) (*models.AsyncQueryTask, error)
	Status(taskID string) (*models.QueryTaskStatus, error)
	Result(ctx context.Context, taskID string, pagination *models.PaginationInput) (*models.QueryResult, error)
	Cancel(taskID string) (bool, error)
	Shutdown()
}

// asyncTaskRecord is the manager-owned mutable record backing one task.
type asyncTaskRecord struct {
	mu sync.RWMutex

	taskID            string
	userID            string
	input             models.AsyncQueryInput
	priority          models.QueryPriority
	resourceGroup     string
	estimatedDuration time.Duration
	submittedAt       time.Time

	result *models.TableQueryResult
	err    error
}

type asyncQueryService struct {
	engine QueryEngine
	perms  PermissionService
	cache  QueryCache
	reg    MetadataRegistry
	queue  *workqueue.Queue

	mu    sync.RWMutex
	tasks map[string]*asyncTaskRecord

	logger *zap.Logger
}

// NewAsyncQueryService creates the manager over a bounded work queue.
func NewAsyncQueryService(
	engine QueryEngine,
	perms PermissionService,
	cache QueryCache,
	reg MetadataRegistry,
	workerCount int,
	logger *zap.Logger,
) AsyncQueryService {
	return &asyncQueryService{
		engine: engine,
		perms:  perms,
		cache:  cache,
		reg:    reg,
		queue:  workqueue.New(logger, workerCount),
		tasks:  make(map[string]*asyncTaskRecord),
		logger: logger.Named("async-query-service"),
	}
}

var _ AsyncQueryService = (*asyncQueryService)(nil)

// queryTask adapts an async submission to the workqueue task contract.
type queryTask struct {
	id   string
	name string
	run  func(ctx context.Context) error
}

func (t *queryTask) ID() string                        { return t.id }
func (t *queryTask) Name() string                      { return t.name }
func (t *queryTask) Execute(ctx context.Context) error { return t.run(ctx) }

func (s *asyncQueryService) Submit(ctx context.Context, input models.AsyncQueryInput, userID string) (*models.AsyncQueryTask, error) {
	ref := input.TableRef()
	if input.Table != "" {
		if !s.reg.TableExists(ref) {
			return nil, fmt.Errorf("%w: table %s", apperrors.ErrNotFound, ref.String())
		}
		if err := s.perms.Authorize(userID, ref, models.CapabilityRead); err != nil {
			return nil, err
		}
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	record := &asyncTaskRecord{
		taskID:            uuid.NewString(),
		userID:            userID,
		input:             input,
		priority:          priority,
		resourceGroup:     s.resourceGroup(userID, priority),
		estimatedDuration: s.estimateDuration(userID),
		submittedAt:       time.Now(),
	}

	s.mu.Lock()
	s.tasks[record.taskID] = record
	s.mu.Unlock()

	task := &queryTask{
		id:   record.taskID,
		name: "async-query-" + ref.String(),
		run: func(taskCtx context.Context) error {
			return s.executeTask(taskCtx, record)
		},
	}
	if err := s.queue.Enqueue(task); err != nil {
		s.mu.Lock()
		delete(s.tasks, record.taskID)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", apperrors.ErrExecutionFailed, err)
	}

	observability.AsyncTasksTotal.WithLabelValues(string(models.StatusSubmitted)).Inc()
	s.logger.Info("async query submitted",
		zap.String("task_id", record.taskID),
		zap.String("user_id", userID),
		zap.String("table", ref.String()),
		zap.String("priority", string(priority)),
		zap.String("resource_group", record.resourceGroup))

	return s.snapshot(record), nil
}

// executeTask runs the query on a worker goroutine. Errors are stored on
// the record and surfaced only through polling, never re-thrown.
func (s *asyncQueryService) executeTask(ctx context.Context, record *asyncTaskRecord) error {
	maxRows := s.perms.MaxResultRows(record.userID)
	if tableCap := s.perms.MaxTableRows(record.userID, record.input.TableRef()); tableCap > 0 && tableCap < maxRows {
		maxRows = tableCap
	}
	result, err := s.engine.QueryTable(ctx, TableQueryRequest{
		Catalog:        record.input.Catalog,
		Schema:         record.input.Schema,
		Table:          record.input.Table,
		Filter:         record.input.Filter,
		FieldSelection: record.input.FieldSelection,
		OrderBy:        record.input.OrderBy,
		Pagination:     &models.PaginationInput{Limit: maxRows},
		UserID:         record.userID,
	})

	record.mu.Lock()
	record.result = result
	record.err = err
	record.mu.Unlock()

	status := models.StatusCompleted
	if err != nil {
		status = models.StatusFailed
		// The engine wraps causes into its error taxonomy, so ask the task
		// context directly whether this run was cancelled.
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			status = models.StatusCancelled
		}
	}
	observability.AsyncTasksTotal.WithLabelValues(string(status)).Inc()
	return err
}

// resourceGroup routes HIGH/URGENT to the high-priority group, everything
// else to the user's first configured group.
func (s *asyncQueryService) resourceGroup(userID string, priority models.QueryPriority) string {
	if priority == models.PriorityHigh || priority == models.PriorityUrgent {
		return HighPriorityResourceGroup
	}
	return s.perms.ResourceGroups(userID)[0]
}

// estimateDuration averages the user's recent execution times; best-effort
// heuristic only.
func (s *asyncQueryService) estimateDuration(userID string) time.Duration {
	entries := s.cache.History(userID, 0)
	if len(entries) == 0 {
		return DefaultDurationEstimate
	}
	totalMs := 0
	for _, e := range entries {
		totalMs += e.ExecutionTimeMs
	}
	avg := time.Duration(totalMs/len(entries)) * time.Millisecond
	if avg <= 0 {
		return DefaultDurationEstimate
	}
	return avg
}

func (s *asyncQueryService) record(taskID string) (*asyncTaskRecord, error) {
	s.mu.RLock()
	record, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
	}
	return record, nil
}

func queryStatusOf(snap workqueue.TaskSnapshot) models.QueryStatus {
	switch snap.Status {
	case workqueue.TaskStatusPending:
		return models.StatusSubmitted
	case workqueue.TaskStatusRunning:
		return models.StatusRunning
	case workqueue.TaskStatusCompleted:
		return models.StatusCompleted
	case workqueue.TaskStatusCancelled:
		return models.StatusCancelled
	default:
		return models.StatusFailed
	}
}

// snapshot builds the externally visible task view.
func (s *asyncQueryService) snapshot(record *asyncTaskRecord) *models.AsyncQueryTask {
	task := &models.AsyncQueryTask{
		TaskID:            record.taskID,
		UserID:            record.userID,
		Input:             record.input,
		Status:            models.StatusSubmitted,
		SubmittedAt:       record.submittedAt,
		Priority:          record.priority,
		ResourceGroup:     record.resourceGroup,
		EstimatedDuration: record.estimatedDuration,
	}

	snap, err := s.queue.Get(record.taskID)
	if err != nil {
		return task
	}
	task.Status = queryStatusOf(snap)
	task.StartedAt = snap.StartedAt
	task.CompletedAt = snap.CompletedAt

	record.mu.RLock()
	if record.err != nil {
		task.Error = record.err.Error()
	}
	record.mu.RUnlock()
	return task
}

func (s *asyncQueryService) Status(taskID string) (*models.QueryTaskStatus, error) {
	record, err := s.record(taskID)
	if err != nil {
		return nil, err
	}
	snap, err := s.queue.Get(taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
	}

	status := queryStatusOf(snap)
	st := &models.QueryTaskStatus{
		TaskID:      taskID,
		Status:      status,
		Progress:    progressOf(status, snap, record.estimatedDuration),
		SubmittedAt: record.submittedAt,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
	}
	if snap.StartedAt != nil && snap.CompletedAt != nil {
		st.ExecutionTimeMs = int(snap.CompletedAt.Sub(*snap.StartedAt).Milliseconds())
	}
	return st, nil
}

// progressOf estimates completion: proportional to elapsed/estimated while
// running (capped at 0.95), 1.0 when completed, 0 otherwise.
func progressOf(status models.QueryStatus, snap workqueue.TaskSnapshot, estimated time.Duration) float64 {
	switch status {
	case models.StatusCompleted:
		return 1.0
	case models.StatusRunning:
		if snap.StartedAt == nil || estimated <= 0 {
			return 0
		}
		progress := float64(time.Since(*snap.StartedAt)) / float64(estimated)
		if progress > 0.95 {
			progress = 0.95
		}
		return progress
	default:
		return 0
	}
}

func (s *asyncQueryService) Result(ctx context.Context, taskID string, pagination *models.PaginationInput) (*models.QueryResult, error) {
	record, err := s.record(taskID)
	if err != nil {
		return nil, err
	}
	done, err := s.queue.Done(taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	snap, err := s.queue.Get(taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
	}
	status := queryStatusOf(snap)

	record.mu.RLock()
	result := record.result
	taskErr := record.err
	record.mu.RUnlock()

	switch status {
	case models.StatusCancelled:
		return nil, fmt.Errorf("%w: task %s was cancelled", apperrors.ErrExecutionFailed, taskID)
	case models.StatusFailed:
		if taskErr == nil {
			taskErr = snap.Err
		}
		if taskErr != nil && (errors.Is(taskErr, apperrors.ErrTimeout) ||
			errors.Is(taskErr, apperrors.ErrForbidden) ||
			errors.Is(taskErr, apperrors.ErrInvalidQuery) ||
			errors.Is(taskErr, apperrors.ErrExecutionFailed)) {
			return nil, taskErr
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrExecutionFailed, taskErr)
	}

	if result == nil {
		return nil, fmt.Errorf("%w: task %s produced no result", apperrors.ErrExecutionFailed, taskID)
	}

	// Pagination slices the already-fetched data.
	data := result.Data
	hasNext := false
	if pagination != nil {
		offset, limit := pagination.Normalize(len(data))
		if offset > len(data) {
			offset = len(data)
		}
		end := offset + limit
		if end > len(data) {
			end = len(data)
		}
		hasNext = end < len(data)
		data = data[offset:end]
	}

	return &models.QueryResult{
		TaskID:      taskID,
		Status:      status,
		Columns:     result.Columns,
		Data:        data,
		TotalCount:  result.TotalCount,
		HasNextPage: hasNext,
	}, nil
}

func (s *asyncQueryService) Cancel(taskID string) (bool, error) {
	if _, err := s.record(taskID); err != nil {
		return false, err
	}
	snap, err := s.queue.Get(taskID)
	if err != nil {
		return false, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
	}
	cancelled, err := s.queue.Cancel(taskID)
	if err != nil {
		return false, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
	}
	// A running task is counted by its worker when the context unwinds;
	// counting here too would double it.
	if cancelled && snap.Status == workqueue.TaskStatusPending {
		observability.AsyncTasksTotal.WithLabelValues(string(models.StatusCancelled)).Inc()
	}
	return cancelled, nil
}

func (s *asyncQueryService) Shutdown() {
	s.queue.Shutdown()
}
