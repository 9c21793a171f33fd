// Package workqueue runs submitted tasks with bounded concurrency.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is the unit of work accepted by the queue.
type Task interface {
	// ID returns a unique identifier for this task.
	ID() string

	// Name returns a human-readable name for logs.
	Name() string

	// Execute runs the task. The context is cancelled when the task or the
	// whole queue is cancelled.
	Execute(ctx context.Context) error
}

// TaskSnapshot is an immutable view of a task's runtime state.
type TaskSnapshot struct {
	ID          string
	Name        string
	Status      TaskStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Err         error
}

// taskState holds the runtime state of one task. All mutable fields are
// guarded by mu; done is closed exactly once when the task reaches a
// terminal status.
type taskState struct {
	task Task

	mu          sync.RWMutex
	status      TaskStatus
	startedAt   *time.Time
	completedAt *time.Time
	err         error

	cancel context.CancelFunc
	done   chan struct{}
}

func newTaskState(task Task) *taskState {
	return &taskState{
		task:   task,
		status: TaskStatusPending,
		done:   make(chan struct{}),
	}
}

func (ts *taskState) snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return TaskSnapshot{
		ID:          ts.task.ID(),
		Name:        ts.task.Name(),
		Status:      ts.status,
		StartedAt:   ts.startedAt,
		CompletedAt: ts.completedAt,
		Err:         ts.err,
	}
}

func (ts *taskState) setStatusLocked(status TaskStatus) {
	if ts.status.IsTerminal() {
		return
	}
	ts.status = status
	now := time.Now()

	switch status {
	case TaskStatusRunning:
		ts.startedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		ts.completedAt = &now
		close(ts.done)
	}
}

func (ts *taskState) finish(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.status.IsTerminal() {
		return
	}
	ts.err = err
	switch {
	case err == nil:
		ts.setStatusLocked(TaskStatusCompleted)
	case errors.Is(err, context.Canceled):
		ts.setStatusLocked(TaskStatusCancelled)
	default:
		ts.setStatusLocked(TaskStatusFailed)
	}
}
