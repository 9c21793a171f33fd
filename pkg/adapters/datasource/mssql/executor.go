// Package mssql implements the datasource executor for Microsoft SQL Server
// over database/sql.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/dataplane-io/dataplane-engine/pkg/adapters/datasource"
	"github.com/dataplane-io/dataplane-engine/pkg/config"
)

// Executor provides SQL Server query execution.
type Executor struct {
	db *sql.DB
}

func buildConnectionString(cfg config.DatasourceConfig) string {
	query := url.Values{}
	query.Set("database", cfg.Database)

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewExecutor creates a SQL Server executor and verifies connectivity.
func NewExecutor(ctx context.Context, cfg config.DatasourceConfig) (*Executor, error) {
	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}
	return &Executor{db: db}, nil
}

var positionalParamPattern = regexp.MustCompile(`\$(\d+)`)

// translateParams rewrites PostgreSQL-style $1, $2, ... placeholders to SQL
// Server's @p1, @p2, ... named parameters.
func translateParams(query string) string {
	return positionalParamPattern.ReplaceAllString(query, "@p$1")
}

var limitOffsetPattern = regexp.MustCompile(` LIMIT (\d+)(?: OFFSET (\d+))?$`)

// rewritePagination converts the trailing PostgreSQL-style LIMIT/OFFSET into
// T-SQL OFFSET ... FETCH, clamped to maxLimit. OFFSET-FETCH requires an ORDER
// BY clause, so unordered statements get a constant one. Statements without
// LIMIT are bounded with TOP, unless they carry an ORDER BY: TOP would need a
// derived table and T-SQL rejects ORDER BY inside those.
func rewritePagination(query string, maxLimit int) string {
	m := limitOffsetPattern.FindStringSubmatch(query)
	if m == nil {
		if strings.Contains(query, " ORDER BY ") {
			return fmt.Sprintf("%s OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", query, maxLimit)
		}
		return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", maxLimit, query)
	}

	limit, _ := strconv.Atoi(m[1])
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	offset := 0
	if m[2] != "" {
		offset, _ = strconv.Atoi(m[2])
	}

	base := strings.TrimSuffix(query, m[0])
	if !strings.Contains(base, " ORDER BY ") {
		base += " ORDER BY (SELECT NULL)"
	}
	return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", base, offset, limit)
}

func namedArgs(params []any) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = sql.Named(fmt.Sprintf("p%d", i+1), p)
	}
	return args
}

// Query runs a parameterized SELECT with its pagination rewritten to T-SQL
// and the row count bounded.
func (e *Executor) Query(ctx context.Context, sqlQuery string, params []any, limit int) (*datasource.QueryExecutionResult, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > datasource.MaxQueryLimit {
		effectiveLimit = datasource.MaxQueryLimit
	}
	queryToRun := rewritePagination(translateParams(sqlQuery), effectiveLimit)

	rows, err := e.db.QueryContext(ctx, queryToRun, namedArgs(params)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		columns[i] = datasource.ColumnInfo{
			Name: colName,
			Type: mapSQLServerType(columnTypes[i].DatabaseTypeName()),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columnNames {
			val := values[i]
			if b, ok := val.([]byte); ok && isStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Count runs a single-value statement such as SELECT COUNT(*).
func (e *Executor) Count(ctx context.Context, sqlQuery string, params []any) (int, error) {
	var count int64
	err := e.db.QueryRowContext(ctx, translateParams(sqlQuery), namedArgs(params)...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to execute count query: %w", err)
	}
	return int(count), nil
}

// Close releases the connection pool.
func (e *Executor) Close() error {
	return e.db.Close()
}

// mapSQLServerType normalizes SQL Server type names to backend-agnostic ones.
func mapSQLServerType(sqlServerType string) string {
	switch strings.ToUpper(sqlServerType) {
	case "TINYINT", "SMALLINT":
		return "SMALLINT"
	case "INT":
		return "INTEGER"
	case "BIGINT":
		return "BIGINT"
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return "NUMERIC"
	case "FLOAT":
		return "DOUBLE PRECISION"
	case "REAL":
		return "REAL"
	case "CHAR", "NCHAR":
		return "CHAR"
	case "VARCHAR", "NVARCHAR":
		return "VARCHAR"
	case "TEXT", "NTEXT":
		return "TEXT"
	case "BINARY", "VARBINARY", "IMAGE":
		return "BYTEA"
	case "DATE":
		return "DATE"
	case "TIME":
		return "TIME"
	case "DATETIME", "DATETIME2", "SMALLDATETIME":
		return "TIMESTAMP"
	case "DATETIMEOFFSET":
		return "TIMESTAMPTZ"
	case "BIT":
		return "BOOL"
	case "UNIQUEIDENTIFIER":
		return "UUID"
	default:
		return "UNKNOWN"
	}
}

func isStringType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "TEXT", "NTEXT":
		return true
	}
	return false
}

var _ datasource.QueryExecutor = (*Executor)(nil)
