package apperrors

import "errors"

// Error taxonomy for the query core. Callers classify failures with errors.Is;
// services wrap these with context via fmt.Errorf("...: %w", ...).
var (
	// ErrForbidden is an authorization denial. Never retried, surfaced verbatim.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound covers unknown tables and unknown task ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidQuery marks malformed filters, unknown operators or fields.
	// Rejected before anything reaches the datasource executor.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrExecutionFailed wraps datasource executor errors. Not retried.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrTimeout signals the user's query timeout was exceeded. Distinct from
	// ErrExecutionFailed so callers can tell limit violations from engine faults.
	ErrTimeout = errors.New("query timeout")
)
