package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

// BuildCacheKey derives a deterministic cache key from a normalized query
// request. Logically equal requests map to the same key: field selection and
// filter conditions are order-insensitive (AND/OR are commutative), order-by
// entries are not (their order is semantics). The user id is part of the key
// because cached rows are already masked for that user, and the "user:<id>:"
// prefix is what InvalidateUser matches on.
func BuildCacheKey(userID string, table models.TableRef, filter *models.TableFilter, fields []string, orderBy []models.OrderByInput, offset, limit int) string {
	var sb strings.Builder

	sortedFields := make([]string, len(fields))
	copy(sortedFields, fields)
	sort.Strings(sortedFields)
	sb.WriteString("fields=")
	sb.WriteString(strings.Join(sortedFields, ","))

	sb.WriteString(";filter=")
	if filter != nil && len(filter.Conditions) > 0 {
		op := filter.Operator
		if op == "" {
			op = models.LogicalAnd
		}
		sb.WriteString(string(op))
		sb.WriteString(":")

		encoded := make([]string, 0, len(filter.Conditions))
		for _, c := range filter.Conditions {
			encoded = append(encoded, encodeCondition(c))
		}
		sort.Strings(encoded)
		sb.WriteString(strings.Join(encoded, "|"))
	}

	sb.WriteString(";order=")
	for i, ob := range orderBy {
		if i > 0 {
			sb.WriteString(",")
		}
		dir := ob.Direction
		if dir == "" {
			dir = models.OrderAsc
		}
		fmt.Fprintf(&sb, "%s.%s.%d", ob.Field, dir, ob.Priority)
	}

	fmt.Fprintf(&sb, ";offset=%d;limit=%d", offset, limit)

	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("user:%s:query:%s:%s", userID, table.String(), hex.EncodeToString(sum[:]))
}

func encodeCondition(c models.FilterCondition) string {
	var sb strings.Builder
	sb.WriteString(c.Field)
	sb.WriteString("~")
	sb.WriteString(string(c.Operator))
	sb.WriteString("~")
	sb.WriteString(encodeValue(c.Value))
	if len(c.Values) > 0 {
		// IN/NOT_IN lists are set-semantic; normalize their order too.
		vals := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			vals = append(vals, encodeValue(v))
		}
		sort.Strings(vals)
		sb.WriteString("~[")
		sb.WriteString(strings.Join(vals, ","))
		sb.WriteString("]")
	}
	return sb.String()
}

func encodeValue(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// UserKeyPrefix returns the key prefix shared by all of a user's entries.
func UserKeyPrefix(userID string) string {
	return "user:" + userID + ":"
}
