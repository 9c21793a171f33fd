package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

// InjectionCheckResult describes a filter value flagged by libinjection.
type InjectionCheckResult struct {
	Field       string
	Value       any
	Fingerprint string
}

// checkValue runs libinjection over a single condition operand. Only string
// values are checked; numbers and booleans cannot carry injection patterns.
func checkValue(field string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Field:       field,
		Value:       value,
		Fingerprint: fingerprint,
	}
}

// CheckConditionValues screens every operand of the filter for SQL injection
// patterns. Values are always bound as parameters, so this is defense in
// depth, but flagged values are still rejected before execution.
func CheckConditionValues(filter *models.TableFilter) error {
	if filter == nil {
		return nil
	}
	for _, c := range filter.Conditions {
		if res := checkValue(c.Field, c.Value); res != nil {
			return fmt.Errorf("%w: suspicious value for field %q (fingerprint %s)",
				apperrors.ErrInvalidQuery, res.Field, res.Fingerprint)
		}
		for _, v := range c.Values {
			if res := checkValue(c.Field, v); res != nil {
				return fmt.Errorf("%w: suspicious value for field %q (fingerprint %s)",
					apperrors.ErrInvalidQuery, res.Field, res.Fingerprint)
			}
		}
	}
	return nil
}
