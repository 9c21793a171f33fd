package models

import "time"

// QueryHistoryEntry records one executed query for a user. Kept in a bounded
// per-user ring by the result cache.
type QueryHistoryEntry struct {
	UserID          string    `json:"user_id"`
	Query           string    `json:"query"`
	Table           string    `json:"table"`
	ExecutedAt      time.Time `json:"executed_at"`
	ExecutionTimeMs int       `json:"execution_time_ms"`
	ResultCount     int       `json:"result_count"`
	FromCache       bool      `json:"from_cache"`
}
