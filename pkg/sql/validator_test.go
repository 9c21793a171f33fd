package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
)

func TestValidatePredicate_ValidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "simple equality", expr: "region = 'APAC'"},
		{name: "compound predicate", expr: "region = 'APAC' AND tier >= 2"},
		{name: "semicolon inside string", expr: "note = 'a;b'"},
		{name: "escaped quote inside string", expr: "name = 'O''Brien'"},
		{name: "quoted identifier", expr: `"user_id" = current_user`},
		{name: "dash inside string", expr: "sku LIKE 'AB-%'"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, ValidatePredicate(tc.expr))
		})
	}
}

func TestValidatePredicate_RejectsUnsafeExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "empty", expr: ""},
		{name: "whitespace only", expr: "   "},
		{name: "statement separator", expr: "1=1; DROP TABLE users"},
		{name: "line comment", expr: "1=1 -- hidden"},
		{name: "block comment", expr: "1=1 /* hidden */"},
		{name: "separator after string", expr: "name = 'x'; DELETE FROM users"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePredicate(tc.expr)
			assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
		})
	}
}
