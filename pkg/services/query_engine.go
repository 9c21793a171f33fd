package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dataplane-io/dataplane-engine/pkg/adapters/datasource"
	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
	"github.com/dataplane-io/dataplane-engine/pkg/config"
	"github.com/dataplane-io/dataplane-engine/pkg/logging"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
	"github.com/dataplane-io/dataplane-engine/pkg/observability"
	enginesql "github.com/dataplane-io/dataplane-engine/pkg/sql"
)

// TableQueryRequest is the declarative input to QueryTable.
type TableQueryRequest struct {
	Catalog        string                  `json:"catalog"`
	Schema         string                  `json:"schema"`
	Table          string                  `json:"table"`
	Filter         *models.TableFilter     `json:"filter,omitempty"`
	Pagination     *models.PaginationInput `json:"pagination,omitempty"`
	FieldSelection []string                `json:"field_selection,omitempty"`
	OrderBy        []models.OrderByInput   `json:"order_by,omitempty"`
	UserID         string                  `json:"user_id"`
}

// TableRef returns the table reference the request targets.
func (r *TableQueryRequest) TableRef() models.TableRef {
	return models.TableRef{Catalog: r.Catalog, Schema: r.Schema, Name: r.Table}
}

// QueryEngine turns declarative query requests into authorized, cached,
// executed queries.
type QueryEngine interface {
	QueryTable(ctx context.Context, req TableQueryRequest) (*models.TableQueryResult, error)
	GetTableSchema(ctx context.Context, table models.TableRef, userID string) (*models.TableSchema, error)
	ListTables(ctx context.Context, catalog string, filter *models.TableListFilter, pagination *models.PaginationInput, userID string) ([]*models.TableMetadata, int, error)
}

type queryEngine struct {
	executor datasource.QueryExecutor
	perms    PermissionService
	cache    QueryCache
	registry MetadataRegistry

	cacheTTL        time.Duration
	defaultPageSize int

	logger *zap.Logger
}

// NewQueryEngine wires the engine to its collaborators.
func NewQueryEngine(
	executor datasource.QueryExecutor,
	perms PermissionService,
	cache QueryCache,
	registry MetadataRegistry,
	cfg config.QueryConfig,
	cacheCfg config.CacheConfig,
	logger *zap.Logger,
) QueryEngine {
	return &queryEngine{
		executor:        executor,
		perms:           perms,
		cache:           cache,
		registry:        registry,
		cacheTTL:        cacheCfg.DefaultTTL(),
		defaultPageSize: cfg.DefaultPageSize,
		logger:          logger.Named("query-engine"),
	}
}

var _ QueryEngine = (*queryEngine)(nil)

func (e *queryEngine) QueryTable(ctx context.Context, req TableQueryRequest) (*models.TableQueryResult, error) {
	started := time.Now()
	ref := req.TableRef()

	// Authorization runs on every call, cache hits included. Masking does
	// not: cached rows were masked before they were stored.
	if err := e.perms.Authorize(req.UserID, ref, models.CapabilityRead); err != nil {
		e.observe(ref, "forbidden", started)
		return nil, err
	}

	schema, err := e.registry.GetTableSchema(ref)
	if err != nil {
		e.observe(ref, "not_found", started)
		return nil, err
	}

	offset, limit := req.Pagination.Normalize(e.defaultPageSize)
	if maxRows := e.perms.MaxResultRows(req.UserID); limit > maxRows {
		e.observe(ref, "invalid", started)
		return nil, fmt.Errorf("%w: requested limit %d exceeds user cap %d", apperrors.ErrInvalidQuery, limit, maxRows)
	}
	if tableCap := e.perms.MaxTableRows(req.UserID, ref); tableCap > 0 && limit > tableCap {
		e.observe(ref, "invalid", started)
		return nil, fmt.Errorf("%w: requested limit %d exceeds table cap %d for %s", apperrors.ErrInvalidQuery, limit, tableCap, ref.String())
	}

	requested := req.FieldSelection
	if len(requested) == 0 {
		requested = schema.ColumnNames()
	}
	known := make(map[string]struct{}, len(schema.Columns))
	for _, col := range schema.Columns {
		known[col.Name] = struct{}{}
	}
	for _, f := range requested {
		if _, ok := known[f]; !ok {
			e.observe(ref, "invalid", started)
			return nil, fmt.Errorf("%w: unknown field %q on %s", apperrors.ErrInvalidQuery, f, ref.String())
		}
	}
	if err := e.validateReferencedFields(req.UserID, ref, known, req.Filter, req.OrderBy); err != nil {
		outcome := "invalid"
		if errors.Is(err, apperrors.ErrForbidden) {
			outcome = "forbidden"
		}
		e.observe(ref, outcome, started)
		return nil, err
	}

	// Empty intersection is not an error: it yields zero-column rows.
	allowed := e.perms.AllowedFields(req.UserID, ref, requested)

	key := BuildCacheKey(req.UserID, ref, req.Filter, allowed, req.OrderBy, offset, limit)
	if cached, ok := e.cache.Get(key); ok {
		e.recordHistory(req.UserID, cached.Metadata, ref, started, cached.TotalCount, true)
		e.observe(ref, "hit", started)
		return cached, nil
	}

	rowFilter := e.perms.RowLevelFilter(req.UserID, ref)

	timeout := e.perms.MaxQueryTimeout(req.UserID)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.execute(execCtx, ref, req.Filter, rowFilter, allowed, req.OrderBy, offset, limit)
	if err != nil {
		outcome := "error"
		if errors.Is(err, apperrors.ErrTimeout) {
			outcome = "timeout"
		} else if errors.Is(err, apperrors.ErrInvalidQuery) {
			outcome = "invalid"
		}
		e.observe(ref, outcome, started)
		return nil, err
	}

	e.maskRows(req.UserID, ref, allowed, result.Data)

	result.ExecutionTimeMs = int(time.Since(started).Milliseconds())
	result.HasNextPage = offset+limit < result.TotalCount

	// Store post-mask so cache hits never leak unmasked values.
	e.cache.Put(key, result, e.cacheTTL)

	e.recordHistory(req.UserID, result.Metadata, ref, started, result.TotalCount, false)
	e.observe(ref, "miss", started)
	return result, nil
}

// validateReferencedFields checks every field named by the filter and the
// order-by clauses. Unknown fields never reach the executor, and fields the
// user cannot read are rejected outright: even a COUNT filtered on a denied
// field would leak its values through TotalCount.
func (e *queryEngine) validateReferencedFields(userID string, ref models.TableRef, known map[string]struct{}, filter *models.TableFilter, orderBy []models.OrderByInput) error {
	check := func(field string) error {
		if _, ok := known[field]; !ok {
			return fmt.Errorf("%w: unknown field %q on %s", apperrors.ErrInvalidQuery, field, ref.String())
		}
		if !e.perms.HasFieldPermission(userID, ref, field) {
			return fmt.Errorf("%w: user %s has no access to field %q on %s", apperrors.ErrForbidden, userID, field, ref.String())
		}
		return nil
	}

	if filter != nil {
		for _, cond := range filter.Conditions {
			if err := check(cond.Field); err != nil {
				return err
			}
		}
	}
	for _, ob := range orderBy {
		if err := check(ob.Field); err != nil {
			return err
		}
	}
	return nil
}

// execute builds and runs the SELECT and COUNT pair. With zero allowed
// fields only the count runs, and the page is filled with empty rows.
func (e *queryEngine) execute(ctx context.Context, ref models.TableRef, filter *models.TableFilter, rowFilter string, fields []string, orderBy []models.OrderByInput, offset, limit int) (*models.TableQueryResult, error) {
	countSQL, countParams, err := enginesql.BuildCount(ref, filter, rowFilter)
	if err != nil {
		return nil, err
	}

	total, err := e.executor.Count(ctx, countSQL, countParams)
	if err != nil {
		return nil, e.wrapExecError(ctx, "count query failed", err)
	}

	result := &models.TableQueryResult{
		Columns:    append([]string{}, fields...),
		TotalCount: total,
		Metadata:   &models.QueryMetadata{SQL: countSQL},
	}

	if len(fields) == 0 {
		n := total - offset
		if n < 0 {
			n = 0
		}
		if n > limit {
			n = limit
		}
		result.Data = make([]map[string]any, n)
		for i := range result.Data {
			result.Data[i] = map[string]any{}
		}
		return result, nil
	}

	selectSQL, selectParams, err := enginesql.BuildSelect(enginesql.SelectInput{
		Table:     ref,
		Fields:    fields,
		Filter:    filter,
		RowFilter: rowFilter,
		OrderBy:   orderBy,
		Offset:    offset,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	execResult, err := e.executor.Query(ctx, selectSQL, selectParams, limit)
	if err != nil {
		return nil, e.wrapExecError(ctx, "select query failed", err)
	}

	result.Data = execResult.Rows
	result.Metadata.SQL = selectSQL
	return result, nil
}

func (e *queryEngine) wrapExecError(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrTimeout, msg, logging.SanitizeError(err))
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrExecutionFailed, msg, logging.SanitizeError(err))
}

// maskRows substitutes masked values in place per the user's field rules.
func (e *queryEngine) maskRows(userID string, ref models.TableRef, fields []string, rows []map[string]any) {
	for _, field := range fields {
		rule, masked := e.perms.MaskingRuleFor(userID, ref, field)
		if !masked {
			continue
		}
		for _, row := range rows {
			if v, ok := row[field]; ok {
				row[field] = ApplyMaskingRule(rule, v)
			}
		}
	}
}

func (e *queryEngine) recordHistory(userID string, meta *models.QueryMetadata, ref models.TableRef, started time.Time, resultCount int, fromCache bool) {
	query := ""
	if meta != nil {
		query = meta.SQL
	}
	e.cache.RecordHistory(models.QueryHistoryEntry{
		UserID:          userID,
		Query:           query,
		Table:           ref.String(),
		ExecutedAt:      started,
		ExecutionTimeMs: int(time.Since(started).Milliseconds()),
		ResultCount:     resultCount,
		FromCache:       fromCache,
	})
}

func (e *queryEngine) observe(ref models.TableRef, outcome string, started time.Time) {
	observability.QueryDurationSeconds.
		WithLabelValues(ref.String(), outcome).
		Observe(time.Since(started).Seconds())
}

func (e *queryEngine) GetTableSchema(ctx context.Context, table models.TableRef, userID string) (*models.TableSchema, error) {
	if err := e.perms.Authorize(userID, table, models.CapabilityRead); err != nil {
		return nil, err
	}

	schema, err := e.registry.GetTableSchema(table)
	if err != nil {
		return nil, err
	}

	allowed := e.perms.AllowedFields(userID, table, schema.ColumnNames())
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		allowedSet[f] = struct{}{}
	}

	filtered := &models.TableSchema{
		Table:         schema.Table,
		PrimaryKeys:   schema.PrimaryKeys,
		PartitionKeys: schema.PartitionKeys,
	}
	for _, col := range schema.Columns {
		if _, ok := allowedSet[col.Name]; ok {
			filtered.Columns = append(filtered.Columns, col)
		}
	}
	return filtered, nil
}

func (e *queryEngine) ListTables(ctx context.Context, catalog string, filter *models.TableListFilter, pagination *models.PaginationInput, userID string) ([]*models.TableMetadata, int, error) {
	// Fetch the full match set, then restrict to readable tables before
	// paginating so page boundaries reflect what the user can see.
	all, _, err := e.registry.ListTables(catalog, filter, &models.PaginationInput{Limit: 1 << 30})
	if err != nil {
		return nil, 0, err
	}

	readable := make([]*models.TableMetadata, 0, len(all))
	for _, meta := range all {
		if e.perms.HasTablePermission(userID, meta.Ref, models.CapabilityRead) {
			readable = append(readable, meta)
		}
	}

	total := len(readable)
	offset, limit := pagination.Normalize(e.defaultPageSize)
	if offset >= total {
		return []*models.TableMetadata{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return readable[offset:end], total, nil
}
