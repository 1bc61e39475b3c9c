package engine

import (
	"fmt"
	"regexp"
	"strconv"
)

// placeholderPattern matches --name-- tokens non-greedily.
var placeholderPattern = regexp.MustCompile(`--(.+?)--`)

// Interpolate substitutes --name-- placeholders in a template with the string
// form of the matching conversation parameter. Absent names become the literal
// text "null"; downstream display layers strip residual null substrings, but
// the engine never swallows the markers itself. Interpolated results are not
// re-scanned.
func Interpolate(template string, parameters map[string]any) string {
	if template == "" {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[2 : len(token)-2]
		value, ok := parameters[name]
		if !ok {
			return "null"
		}
		return ValueString(value)
	})
}

// ValueString renders a parameter value in its canonical string form.
// Floats carrying integral values print without a trailing fraction.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(v)
	}
}
