// Package datasource defines the executor abstraction over concrete query
// backends. Adapters register themselves from their init() functions; blank
// imports in main select which backends are compiled in.
package datasource

import "context"

// MaxQueryLimit is the hard cap on rows returned by Query.
// Protects against unbounded result sets regardless of caller limits.
const MaxQueryLimit = 100000

// ColumnInfo describes a result column with backend-agnostic type naming.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryExecutionResult holds the rows returned by a single query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// QueryExecutor executes parameterized SQL against one datasource.
// SQL uses $1, $2, ... placeholders; adapters translate to their dialect.
// Each implementation owns its connection pool and must be closed when done.
type QueryExecutor interface {
	// Query runs a SELECT and returns bounded results. The statement is
	// always wrapped with a dialect-specific limit; limit <= 0 or above
	// MaxQueryLimit is clamped to MaxQueryLimit.
	Query(ctx context.Context, sqlQuery string, params []any, limit int) (*QueryExecutionResult, error)

	// Count runs a statement expected to return a single integer, such as
	// SELECT COUNT(*), and returns its value.
	Count(ctx context.Context, sqlQuery string, params []any) (int, error)

	// Close releases the underlying connection pool.
	Close() error
}
