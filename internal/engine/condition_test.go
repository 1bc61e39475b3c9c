package engine

import (
	"testing"

	"github.com/BotLoom/BotLoom/internal/models"
)

func TestEvaluateEquality(t *testing.T) {
	tests := []struct {
		name     string
		observed string
		target   string
		expected bool
	}{
		{name: "exact match", observed: "yes", target: "yes", expected: true},
		{name: "case insensitive", observed: "YES", target: "yes", expected: true},
		{name: "surrounding whitespace ignored", observed: "  yes ", target: "yes", expected: true},
		{name: "different strings", observed: "yes", target: "no", expected: false},
		{name: "numeric forms compare as numbers", observed: "7.0", target: "7", expected: true},
		{name: "numeric inequality", observed: "7", target: "8", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(models.OperatorEq, tt.observed, tt.target); got != tt.expected {
				t.Errorf("Evaluate(eq, %q, %q) = %v, want %v", tt.observed, tt.target, got, tt.expected)
			}
		})
	}
}

func TestEvaluateNumericOperators(t *testing.T) {
	tests := []struct {
		name     string
		op       models.Operator
		observed string
		target   string
		expected bool
	}{
		{name: "gt true", op: models.OperatorGt, observed: "10", target: "5", expected: true},
		{name: "gt false on equal", op: models.OperatorGt, observed: "5", target: "5", expected: false},
		{name: "gte true on equal", op: models.OperatorGte, observed: "5", target: "5", expected: true},
		{name: "lt true", op: models.OperatorLt, observed: "3", target: "5", expected: true},
		{name: "lte true", op: models.OperatorLte, observed: "5", target: "5", expected: true},
		{name: "decimal comparison", op: models.OperatorGt, observed: "2.5", target: "2.4", expected: true},
		{name: "malformed observed degrades to false", op: models.OperatorGt, observed: "abc", target: "5", expected: false},
		{name: "malformed target degrades to false", op: models.OperatorLt, observed: "5", target: "ten", expected: false},
		{name: "empty operands degrade to false", op: models.OperatorGte, observed: "", target: "", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.op, tt.observed, tt.target); got != tt.expected {
				t.Errorf("Evaluate(%s, %q, %q) = %v, want %v", tt.op, tt.observed, tt.target, got, tt.expected)
			}
		})
	}
}

func TestEvaluateContains(t *testing.T) {
	tests := []struct {
		name     string
		op       models.Operator
		observed string
		target   string
		expected bool
	}{
		{name: "target inside observed", op: models.OperatorContains, observed: "I want pizza please", target: "pizza", expected: true},
		{name: "observed inside target", op: models.OperatorContains, observed: "pizza", target: "pizza margherita", expected: true},
		{name: "case insensitive", op: models.OperatorContains, observed: "PIZZA please", target: "pizza", expected: true},
		{name: "no overlap", op: models.OperatorContains, observed: "burger", target: "pizza", expected: false},
		{name: "empty observed never matches", op: models.OperatorContains, observed: "", target: "pizza", expected: false},
		{name: "legacy cont alias", op: models.OperatorCont, observed: "order pizza now", target: "pizza", expected: true},
		{name: "contains_any one token matches", op: models.OperatorContainsAny, observed: "I want sushi", target: "pizza, sushi, ramen", expected: true},
		{name: "contains_any none match", op: models.OperatorContainsAny, observed: "I want tacos", target: "pizza, sushi", expected: false},
		{name: "contains_any empty target", op: models.OperatorContainsAny, observed: "anything", target: "", expected: false},
		{name: "contains_all every token present", op: models.OperatorContainsAll, observed: "large pizza with extra cheese", target: "pizza cheese", expected: true},
		{name: "contains_all one token missing", op: models.OperatorContainsAll, observed: "large pizza", target: "pizza cheese", expected: false},
		{name: "contains_all vacuously true on empty target", op: models.OperatorContainsAll, observed: "anything", target: "", expected: true},
		{name: "contains_all vacuously true on separators only", op: models.OperatorContainsAll, observed: "anything", target: " , , ", expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.op, tt.observed, tt.target); got != tt.expected {
				t.Errorf("Evaluate(%s, %q, %q) = %v, want %v", tt.op, tt.observed, tt.target, got, tt.expected)
			}
		})
	}
}

func TestEvaluateUnknownOperatorFallsBackToEquality(t *testing.T) {
	if !Evaluate(models.Operator("between"), "yes", "YES") {
		t.Error("unknown operator should fall back to case-insensitive equality")
	}
	if Evaluate(models.Operator("between"), "yes", "no") {
		t.Error("unknown operator fallback should not match different strings")
	}
}
