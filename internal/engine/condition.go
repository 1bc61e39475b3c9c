// Package engine implements the conversational flow execution engine: the
// condition evaluator, parameter interpolator, node step handlers, walk loop,
// and turn resolver that advance a session against a flow graph.
package engine

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/BotLoom/BotLoom/internal/models"
)

// Evaluate compares an observed runtime value against a configured target
// under the named operator. It is total: malformed numeric input degrades to
// false for numeric operators and to string comparison for the others, and an
// unknown operator falls back to case-insensitive equality.
func Evaluate(op models.Operator, observed, target string) bool {
	switch op {
	case models.OperatorGt, models.OperatorGte, models.OperatorLt, models.OperatorLte:
		a, okA := parseNumber(observed)
		b, okB := parseNumber(target)
		if !okA || !okB {
			return false
		}
		switch op {
		case models.OperatorGt:
			return a > b
		case models.OperatorGte:
			return a >= b
		case models.OperatorLt:
			return a < b
		default:
			return a <= b
		}
	case models.OperatorContains, models.OperatorCont:
		return containsEither(observed, target)
	case models.OperatorContainsAny:
		for _, token := range splitTokens(target) {
			if containsEither(observed, token) {
				return true
			}
		}
		return false
	case models.OperatorContainsAll:
		// Vacuously true when the target has no tokens.
		for _, token := range splitTokens(target) {
			if !containsEither(observed, token) {
				return false
			}
		}
		return true
	default:
		// eq, and the fallback for unknown operators.
		if a, okA := parseNumber(observed); okA {
			if b, okB := parseNumber(target); okB {
				return a == b
			}
		}
		return strings.EqualFold(strings.TrimSpace(observed), strings.TrimSpace(target))
	}
}

// parseNumber coerces the textual form of an operand to a number.
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// containsEither reports bidirectional containment of the lowercase string
// forms: a in b or b in a.
func containsEither(a, b string) bool {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return false
	}
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

// splitTokens splits a target on whitespace and commas into non-empty tokens.
func splitTokens(target string) []string {
	return strings.FieldsFunc(target, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}
