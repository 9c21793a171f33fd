package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Masking rule identifiers referenced by field permissions.
const (
	MaskRuleEmail   = "email_mask"
	MaskRulePhone   = "phone_mask"
	MaskRulePartial = "partial_mask"
	MaskRuleHash    = "hash"
)

// ApplyMaskingRule returns the masked substitute for a value. Rules are pure
// functions of the original value with a fixed output shape; an unknown or
// empty rule fully redacts. Nil passes through so NULL stays NULL.
func ApplyMaskingRule(rule string, value any) any {
	if value == nil {
		return nil
	}
	s := fmt.Sprintf("%v", value)

	switch rule {
	case MaskRuleEmail:
		return maskEmail(s)
	case MaskRulePhone:
		return maskPhone(s)
	case MaskRulePartial:
		return maskPartial(s)
	case MaskRuleHash:
		return hashValue(s)
	default:
		return "****"
	}
}

// maskEmail keeps the first character of the local part and the full domain:
// "jane@example.com" -> "j***@example.com".
func maskEmail(s string) string {
	at := strings.Index(s, "@")
	if at <= 0 {
		return "****"
	}
	return s[:1] + "***" + s[at:]
}

// maskPhone keeps the last four digits: "555-867-5309" -> "***-***-5309".
func maskPhone(s string) string {
	digits := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return "****"
	}
	return "***-***-" + string(digits[len(digits)-4:])
}

// maskPartial keeps the first and last character: "sensitive" -> "s*******e".
func maskPartial(s string) string {
	runes := []rune(s)
	if len(runes) <= 2 {
		return "****"
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
}

// hashValue returns a 16-character sha256 hex prefix, stable per input.
func hashValue(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
