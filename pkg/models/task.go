package models

import "time"

// QueryStatus is the async task state machine:
// SUBMITTED -> RUNNING -> {COMPLETED | FAILED}, with SUBMITTED or RUNNING
// cancellable into CANCELLED. All of COMPLETED/FAILED/CANCELLED are terminal.
type QueryStatus string

const (
	StatusSubmitted QueryStatus = "SUBMITTED"
	StatusRunning   QueryStatus = "RUNNING"
	StatusCompleted QueryStatus = "COMPLETED"
	StatusFailed    QueryStatus = "FAILED"
	StatusCancelled QueryStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s QueryStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AsyncQueryTask is the immutable snapshot of an async query submission
// returned by the task manager. The manager owns the mutable record.
type AsyncQueryTask struct {
	TaskID            string          `json:"task_id"`
	UserID            string          `json:"user_id"`
	Input             AsyncQueryInput `json:"input"`
	Status            QueryStatus     `json:"status"`
	SubmittedAt       time.Time       `json:"submitted_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Priority          QueryPriority   `json:"priority"`
	ResourceGroup     string          `json:"resource_group"`
	EstimatedDuration time.Duration   `json:"estimated_duration"`
	Error             string          `json:"error,omitempty"`
}

// QueryTaskStatus is the polling view of a task.
type QueryTaskStatus struct {
	TaskID          string      `json:"task_id"`
	Status          QueryStatus `json:"status"`
	Progress        float64     `json:"progress"`
	SubmittedAt     time.Time   `json:"submitted_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	ExecutionTimeMs int         `json:"execution_time_ms,omitempty"`
}
