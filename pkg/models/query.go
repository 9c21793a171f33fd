package models

// ComparisonOperator is the comparison applied by a single filter condition.
type ComparisonOperator string

const (
	OpEQ        ComparisonOperator = "EQ"
	OpNE        ComparisonOperator = "NE"
	OpGT        ComparisonOperator = "GT"
	OpGTE       ComparisonOperator = "GTE"
	OpLT        ComparisonOperator = "LT"
	OpLTE       ComparisonOperator = "LTE"
	OpLike      ComparisonOperator = "LIKE"
	OpNotLike   ComparisonOperator = "NOT_LIKE"
	OpIn        ComparisonOperator = "IN"
	OpNotIn     ComparisonOperator = "NOT_IN"
	OpIsNull    ComparisonOperator = "IS_NULL"
	OpIsNotNull ComparisonOperator = "IS_NOT_NULL"
)

// LogicalOperator joins the conditions of a TableFilter.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// FilterCondition is one predicate in a flat filter list. Value carries the
// scalar operand; Values carries the list operand for IN/NOT_IN.
type FilterCondition struct {
	Field    string             `json:"field"`
	Operator ComparisonOperator `json:"operator"`
	Value    any                `json:"value,omitempty"`
	Values   []any              `json:"values,omitempty"`
}

// TableFilter is a flat list of conditions joined by a single logical
// operator. Not a nested tree. Operator defaults to AND when empty.
type TableFilter struct {
	Conditions []FilterCondition `json:"conditions"`
	Operator   LogicalOperator   `json:"operator,omitempty"`
}

// PaginationInput accepts either page/size or offset/limit. Offset/limit take
// precedence when both are set; Normalize resolves to offset+limit form.
type PaginationInput struct {
	Page   int `json:"page,omitempty"`
	Size   int `json:"size,omitempty"`
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// Normalize resolves the input to (offset, limit). A nil input or one without
// an explicit limit falls back to defaultLimit. Page numbering is 1-based.
func (p *PaginationInput) Normalize(defaultLimit int) (offset, limit int) {
	if p == nil {
		return 0, defaultLimit
	}
	if p.Limit > 0 {
		offset = p.Offset
		if offset < 0 {
			offset = 0
		}
		return offset, p.Limit
	}
	if p.Size > 0 {
		page := p.Page
		if page < 1 {
			page = 1
		}
		return (page - 1) * p.Size, p.Size
	}
	offset = p.Offset
	if offset < 0 {
		offset = 0
	}
	return offset, defaultLimit
}

// OrderDirection is the sort direction of an OrderByInput.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "ASC"
	OrderDesc OrderDirection = "DESC"
)

// OrderByInput is one sort key. Lower Priority sorts first; entries with equal
// priority keep their list order.
type OrderByInput struct {
	Field     string         `json:"field"`
	Direction OrderDirection `json:"direction,omitempty"`
	Priority  int            `json:"priority,omitempty"`
}

// QueryMetadata carries execution details alongside a query result.
type QueryMetadata struct {
	SQL             string `json:"sql,omitempty"`
	ExecutionPlan   string `json:"execution_plan,omitempty"`
	ResourceGroup   string `json:"resource_group,omitempty"`
	ExecutionTimeMs int    `json:"execution_time_ms"`
	CacheHit        bool   `json:"cache_hit"`
}

// TableQueryResult is the response of QueryEngine.QueryTable. Data rows are
// already masked; cached results are returned as-is apart from FromCache.
type TableQueryResult struct {
	Data            []map[string]any `json:"data"`
	Columns         []string         `json:"columns"`
	TotalCount      int              `json:"total_count"`
	HasNextPage     bool             `json:"has_next_page"`
	ExecutionTimeMs int              `json:"execution_time_ms"`
	FromCache       bool             `json:"from_cache"`
	Metadata        *QueryMetadata   `json:"metadata,omitempty"`
}

// QueryPriority orders async query submissions.
type QueryPriority string

const (
	PriorityLow    QueryPriority = "LOW"
	PriorityNormal QueryPriority = "NORMAL"
	PriorityHigh   QueryPriority = "HIGH"
	PriorityUrgent QueryPriority = "URGENT"
)

// AsyncQueryInput describes a query submitted for asynchronous execution.
type AsyncQueryInput struct {
	Catalog        string          `json:"catalog"`
	Schema         string          `json:"schema"`
	Table          string          `json:"table"`
	Filter         *TableFilter    `json:"filter,omitempty"`
	FieldSelection []string        `json:"field_selection,omitempty"`
	OrderBy        []OrderByInput  `json:"order_by,omitempty"`
	Priority       QueryPriority   `json:"priority,omitempty"`
}

// TableRef returns the table reference the input targets.
func (in *AsyncQueryInput) TableRef() TableRef {
	return TableRef{Catalog: in.Catalog, Schema: in.Schema, Name: in.Table}
}

// QueryResult is the paginated view of a completed async query.
type QueryResult struct {
	TaskID      string           `json:"task_id"`
	Status      QueryStatus      `json:"status"`
	Columns     []string         `json:"columns"`
	Data        []map[string]any `json:"data"`
	TotalCount  int              `json:"total_count"`
	HasNextPage bool             `json:"has_next_page"`
}
