package sql

import (
	"fmt"
	"strings"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
)

// ValidatePredicate checks that a configured row-level filter expression is a
// single predicate: no statement separators and no comment markers outside
// string literals. The expression is spliced into the WHERE clause verbatim,
// so it must not be able to terminate or comment out the statement.
func ValidatePredicate(expr string) error {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return fmt.Errorf("%w: empty row filter expression", apperrors.ErrInvalidQuery)
	}
	if hasUnsafeTokenOutsideStrings(trimmed) {
		return fmt.Errorf("%w: row filter contains statement separator or comment", apperrors.ErrInvalidQuery)
	}
	return nil
}

// hasUnsafeTokenOutsideStrings scans for semicolons, line comments (--) and
// block comments (/*) outside single- or double-quoted literals. Handles the
// SQL standard '' escape and backslash escapes inside single quotes.
func hasUnsafeTokenOutsideStrings(expr string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	runes := []rune(expr)

	for i := 0; i < len(runes); i++ {
		char := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case char == ';':
				return true
			case char == '-' && next == '-':
				return true
			case char == '/' && next == '*':
				return true
			case char == '\'':
				state = stateSingleQuote
			case char == '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			switch {
			case char == '\\':
				i++ // skip escaped char
			case char == '\'' && next == '\'':
				i++ // SQL standard escape
			case char == '\'':
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' {
				state = stateNormal
			}
		}
	}
	return false
}
