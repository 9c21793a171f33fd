// Package sql builds parameterized SQL from declarative query requests.
package sql

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid identifier %q", apperrors.ErrInvalidQuery, name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// QualifyTable returns the quoted catalog.schema.table reference.
func QualifyTable(ref models.TableRef) (string, error) {
	for _, part := range []string{ref.Catalog, ref.Schema, ref.Name} {
		if err := validateIdent(part); err != nil {
			return "", err
		}
	}
	return quoteIdent(ref.Catalog) + "." + quoteIdent(ref.Schema) + "." + quoteIdent(ref.Name), nil
}

// SelectInput describes a SELECT to build. Fields must be non-empty; the
// query engine handles the zero-allowed-fields case without generating SQL.
type SelectInput struct {
	Table     models.TableRef
	Fields    []string
	Filter    *models.TableFilter
	RowFilter string
	OrderBy   []models.OrderByInput
	Offset    int
	Limit     int
}

// BuildSelect renders a parameterized SELECT with $1..$n placeholders.
// The row-level filter, when present, is AND-combined around the whole user
// filter regardless of the filter's own logical operator.
func BuildSelect(in SelectInput) (string, []any, error) {
	if len(in.Fields) == 0 {
		return "", nil, fmt.Errorf("%w: no fields selected", apperrors.ErrInvalidQuery)
	}

	table, err := QualifyTable(in.Table)
	if err != nil {
		return "", nil, err
	}

	cols := make([]string, len(in.Fields))
	for i, f := range in.Fields {
		if err := validateIdent(f); err != nil {
			return "", nil, err
		}
		cols[i] = quoteIdent(f)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(table)

	var params []any
	where, err := buildWhere(in.Filter, in.RowFilter, &params)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	orderBy, err := buildOrderBy(in.OrderBy)
	if err != nil {
		return "", nil, err
	}
	if orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(orderBy)
	}

	if in.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", in.Limit)
	}
	if in.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", in.Offset)
	}

	return sb.String(), params, nil
}

// BuildCount renders the matching COUNT(*) query: same predicate as the
// SELECT, no ordering, no limit/offset.
func BuildCount(ref models.TableRef, filter *models.TableFilter, rowFilter string) (string, []any, error) {
	table, err := QualifyTable(ref)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(table)

	var params []any
	where, err := buildWhere(filter, rowFilter, &params)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	return sb.String(), params, nil
}

func buildWhere(filter *models.TableFilter, rowFilter string, params *[]any) (string, error) {
	var userClause string
	if filter != nil && len(filter.Conditions) > 0 {
		if err := CheckConditionValues(filter); err != nil {
			return "", err
		}

		op := filter.Operator
		if op == "" {
			op = models.LogicalAnd
		}
		if op != models.LogicalAnd && op != models.LogicalOr {
			return "", fmt.Errorf("%w: unsupported logical operator %q", apperrors.ErrInvalidQuery, op)
		}

		conds := make([]string, 0, len(filter.Conditions))
		for _, c := range filter.Conditions {
			rendered, err := buildCondition(c, params)
			if err != nil {
				return "", err
			}
			conds = append(conds, rendered)
		}
		userClause = strings.Join(conds, " "+string(op)+" ")
	}

	if rowFilter == "" {
		return userClause, nil
	}
	if err := ValidatePredicate(rowFilter); err != nil {
		return "", err
	}
	if userClause == "" {
		return "(" + rowFilter + ")", nil
	}
	// Row-level security is never weakened by a user-supplied OR.
	return "(" + userClause + ") AND (" + rowFilter + ")", nil
}

func buildCondition(c models.FilterCondition, params *[]any) (string, error) {
	if err := validateIdent(c.Field); err != nil {
		return "", err
	}
	field := quoteIdent(c.Field)

	bind := func(v any) string {
		*params = append(*params, v)
		return fmt.Sprintf("$%d", len(*params))
	}

	switch c.Operator {
	case models.OpEQ:
		return field + " = " + bind(c.Value), nil
	case models.OpNE:
		return field + " != " + bind(c.Value), nil
	case models.OpGT:
		return field + " > " + bind(c.Value), nil
	case models.OpGTE:
		return field + " >= " + bind(c.Value), nil
	case models.OpLT:
		return field + " < " + bind(c.Value), nil
	case models.OpLTE:
		return field + " <= " + bind(c.Value), nil
	case models.OpLike:
		return field + " LIKE " + bind(c.Value), nil
	case models.OpNotLike:
		return field + " NOT LIKE " + bind(c.Value), nil
	case models.OpIn, models.OpNotIn:
		if len(c.Values) == 0 {
			return "", fmt.Errorf("%w: %s on field %q requires a non-empty value list", apperrors.ErrInvalidQuery, c.Operator, c.Field)
		}
		placeholders := make([]string, len(c.Values))
		for i, v := range c.Values {
			placeholders[i] = bind(v)
		}
		keyword := " IN ("
		if c.Operator == models.OpNotIn {
			keyword = " NOT IN ("
		}
		return field + keyword + strings.Join(placeholders, ", ") + ")", nil
	case models.OpIsNull:
		return field + " IS NULL", nil
	case models.OpIsNotNull:
		return field + " IS NOT NULL", nil
	default:
		return "", fmt.Errorf("%w: unsupported operator %q", apperrors.ErrInvalidQuery, c.Operator)
	}
}

func buildOrderBy(orderBy []models.OrderByInput) (string, error) {
	if len(orderBy) == 0 {
		return "", nil
	}

	sorted := make([]models.OrderByInput, len(orderBy))
	copy(sorted, orderBy)
	// Stable: entries with equal priority keep their list order.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	clauses := make([]string, len(sorted))
	for i, ob := range sorted {
		if err := validateIdent(ob.Field); err != nil {
			return "", err
		}
		dir := ob.Direction
		if dir == "" {
			dir = models.OrderAsc
		}
		if dir != models.OrderAsc && dir != models.OrderDesc {
			return "", fmt.Errorf("%w: unsupported order direction %q", apperrors.ErrInvalidQuery, ob.Direction)
		}
		clauses[i] = quoteIdent(ob.Field) + " " + string(dir)
	}
	return strings.Join(clauses, ", "), nil
}
