package engine

import "testing"

func TestInterpolate(t *testing.T) {
	params := map[string]any{
		"name":  "Ana",
		"count": float64(3),
		"ok":    true,
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{name: "empty template", template: "", expected: ""},
		{name: "no placeholders", template: "hello there", expected: "hello there"},
		{name: "single placeholder", template: "Hi --name--!", expected: "Hi Ana!"},
		{name: "multiple placeholders", template: "--name-- ordered --count--", expected: "Ana ordered 3"},
		{name: "boolean parameter", template: "confirmed: --ok--", expected: "confirmed: true"},
		{name: "absent parameter becomes null", template: "Hi --missing--!", expected: "Hi null!"},
		{name: "adjacent placeholders", template: "--name----count--", expected: "Ana3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Interpolate(tt.template, params); got != tt.expected {
				t.Errorf("Interpolate(%q) = %q, want %q", tt.template, got, tt.expected)
			}
		})
	}
}

func TestInterpolateDoesNotRescanSubstitutions(t *testing.T) {
	params := map[string]any{"outer": "--inner--", "inner": "secret"}
	if got := Interpolate("value: --outer--", params); got != "value: --inner--" {
		t.Errorf("substituted text must not be re-scanned, got %q", got)
	}
}

func TestInterpolateNilParameters(t *testing.T) {
	if got := Interpolate("Hi --name--", nil); got != "Hi null" {
		t.Errorf("nil parameter map should yield null, got %q", got)
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{name: "nil", value: nil, expected: "null"},
		{name: "string", value: "txt", expected: "txt"},
		{name: "integral float prints without fraction", value: float64(42), expected: "42"},
		{name: "fractional float keeps fraction", value: 3.5, expected: "3.5"},
		{name: "bool", value: false, expected: "false"},
		{name: "int via fallback", value: 7, expected: "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValueString(tt.value); got != tt.expected {
				t.Errorf("ValueString(%v) = %q, want %q", tt.value, got, tt.expected)
			}
		})
	}
}
