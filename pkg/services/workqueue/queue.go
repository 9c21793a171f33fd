package workqueue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("workqueue: queue is shut down")

// ErrUnknownTask is returned when a task id is not tracked by the queue.
var ErrUnknownTask = errors.New("workqueue: unknown task")

// Queue runs tasks in submission order with at most maxConcurrent running
// at once. Completed tasks stay queryable until the queue is shut down.
type Queue struct {
	mu      sync.Mutex
	tasks   map[string]*taskState
	order   []string
	running int
	closed  bool

	maxConcurrent int

	// Parent context for all task executions.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// New creates a queue running up to maxConcurrent tasks in parallel.
// maxConcurrent values below 1 are treated as 1.
func New(logger *zap.Logger, maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		tasks:         make(map[string]*taskState),
		maxConcurrent: maxConcurrent,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger.Named("workqueue"),
	}
}

// Enqueue adds a task and starts it if a worker slot is free.
// Task ids must be unique within the queue's lifetime.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, exists := q.tasks[task.ID()]; exists {
		return errors.New("workqueue: duplicate task id " + task.ID())
	}

	state := newTaskState(task)
	q.tasks[task.ID()] = state
	q.order = append(q.order, task.ID())

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))

	q.tryStartLocked()
	return nil
}

// tryStartLocked starts pending tasks in FIFO order while worker slots are
// free. Must be called with the lock held.
func (q *Queue) tryStartLocked() {
	for _, id := range q.order {
		if q.running >= q.maxConcurrent {
			return
		}
		state := q.tasks[id]
		if state.snapshot().Status != TaskStatusPending {
			continue
		}

		taskCtx, taskCancel := context.WithCancel(q.ctx)
		state.mu.Lock()
		state.cancel = taskCancel
		state.setStatusLocked(TaskStatusRunning)
		state.mu.Unlock()

		q.running++
		q.wg.Add(1)
		go q.run(state, taskCtx, taskCancel)
	}
}

func (q *Queue) run(state *taskState, ctx context.Context, cancel context.CancelFunc) {
	defer q.wg.Done()
	defer cancel()

	task := state.task
	q.logger.Info("task started",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))

	err := task.Execute(ctx)
	state.finish(err)

	snap := state.snapshot()
	switch snap.Status {
	case TaskStatusCompleted:
		q.logger.Info("task completed", zap.String("task_id", task.ID()))
	case TaskStatusCancelled:
		q.logger.Info("task cancelled", zap.String("task_id", task.ID()))
	default:
		q.logger.Warn("task failed",
			zap.String("task_id", task.ID()),
			zap.Error(snap.Err))
	}

	q.mu.Lock()
	q.running--
	q.tryStartLocked()
	q.mu.Unlock()
}

// Get returns a snapshot of the task's runtime state.
func (q *Queue) Get(id string) (TaskSnapshot, error) {
	q.mu.Lock()
	state, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return TaskSnapshot{}, ErrUnknownTask
	}
	return state.snapshot(), nil
}

// Done returns a channel closed when the task reaches a terminal status.
func (q *Queue) Done(id string) (<-chan struct{}, error) {
	q.mu.Lock()
	state, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return nil, ErrUnknownTask
	}
	return state.done, nil
}

// Cancel transitions a pending or running task to cancelled. Running tasks
// have their context cancelled. Cancelling a terminal task is a no-op and
// returns false.
func (q *Queue) Cancel(id string) (bool, error) {
	q.mu.Lock()
	state, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return false, ErrUnknownTask
	}

	state.mu.Lock()
	if state.status.IsTerminal() {
		state.mu.Unlock()
		return false, nil
	}
	cancel := state.cancel
	state.setStatusLocked(TaskStatusCancelled)
	state.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.logger.Info("task cancel requested", zap.String("task_id", id))
	return true, nil
}

// Snapshots returns the state of every tracked task in submission order.
func (q *Queue) Snapshots() []TaskSnapshot {
	q.mu.Lock()
	states := make([]*taskState, 0, len(q.order))
	for _, id := range q.order {
		states = append(states, q.tasks[id])
	}
	q.mu.Unlock()

	result := make([]TaskSnapshot, len(states))
	for i, s := range states {
		result[i] = s.snapshot()
	}
	return result
}

// Shutdown stops accepting tasks, cancels everything in flight, and waits
// for running goroutines to return.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	// Cancel pending tasks so waiters are released.
	for _, id := range q.order {
		state := q.tasks[id]
		state.mu.Lock()
		if state.status == TaskStatusPending {
			state.setStatusLocked(TaskStatusCancelled)
		}
		state.mu.Unlock()
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Info("queue shut down")
}
