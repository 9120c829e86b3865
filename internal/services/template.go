package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// placeholderPattern matches {{ expression }} placeholders. The
// expression is a dotted value path optionally followed by pipe
// filters, e.g. {{ entity.total | number }} or {{ due_at | date:Jan 2 }}.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// TemplateRenderer substitutes placeholders in message templates from
// a flat-plus-nested variable document. Unresolvable placeholders
// render empty rather than erroring: a notification with a blank slot
// beats a failed workflow step.
type TemplateRenderer struct{}

// NewTemplateRenderer creates a template renderer.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render substitutes every placeholder in the template.
func (r *TemplateRenderer) Render(template string, vars map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		expr := placeholderPattern.FindStringSubmatch(match)[1]
		return r.renderExpression(expr, vars)
	})
}

// renderExpression evaluates one "path | filter | filter" expression.
func (r *TemplateRenderer) renderExpression(expr string, vars map[string]interface{}) string {
	parts := strings.Split(expr, "|")
	value, ok := lookupPath(vars, strings.TrimSpace(parts[0]))

	for _, raw := range parts[1:] {
		filter := strings.TrimSpace(raw)
		name, arg := filter, ""
		if idx := strings.Index(filter, ":"); idx >= 0 {
			name, arg = filter[:idx], filter[idx+1:]
		}
		value, ok = applyFilter(name, arg, value, ok)
	}

	if !ok || value == nil {
		return ""
	}
	return formatValue(value)
}

// lookupPath resolves a dotted path against the variable document.
// A flat key containing dots wins over traversal, matching how
// context values are stored.
func lookupPath(vars map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := vars[path]; ok {
		return v, true
	}

	current := vars
	segments := strings.Split(path, ".")
	for i, segment := range segments {
		v, ok := current[segment]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return v, true
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// applyFilter applies one filter to a resolved value.
func applyFilter(name, arg string, value interface{}, ok bool) (interface{}, bool) {
	switch name {
	case "default":
		if !ok || value == nil || formatValue(value) == "" {
			return arg, true
		}
		return value, ok

	case "upper":
		return strings.ToUpper(formatValue(value)), ok

	case "lower":
		return strings.ToLower(formatValue(value)), ok

	case "date":
		if !ok {
			return value, ok
		}
		layout := arg
		if layout == "" {
			layout = "2006-01-02"
		}
		if t, err := parseTime(value); err == nil {
			return t.Format(layout), true
		}
		return value, ok

	default:
		// Unknown filters pass the value through untouched.
		return value, ok
	}
}

func parseTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		return time.Parse("2006-01-02", v)
	default:
		return time.Time{}, fmt.Errorf("not a time value: %T", value)
	}
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// JSON numbers arrive as float64; print integers without the
		// trailing ".00".
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}
