package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTemplateRenderer_Render(t *testing.T) {
	renderer := NewTemplateRenderer()

	vars := map[string]interface{}{
		"entity_name": "Q3 report",
		"actor_name":  "alice",
		"total":       150.0,
		"score":       99.5,
		"due_at":      "2026-09-15T10:00:00Z",
		"entity": map[string]interface{}{
			"title": "Q3 report",
			"owner": map[string]interface{}{"name": "bob"},
		},
		"step_results.step_1": "completed",
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain variable", "Document {{ entity_name }} submitted", "Document Q3 report submitted"},
		{"nested path", "Owner: {{ entity.owner.name }}", "Owner: bob"},
		{"flat dotted key wins over traversal", "{{ step_results.step_1 }}", "completed"},
		{"integer-valued float prints clean", "Total: {{ total }}", "Total: 150"},
		{"fractional float", "Score: {{ score }}", "Score: 99.5"},
		{"unresolvable renders empty", "Hello {{ nobody }}!", "Hello !"},
		{"default filter on missing value", "Hi {{ nobody | default:there }}", "Hi there"},
		{"default filter passes present value", "Hi {{ actor_name | default:there }}", "Hi alice"},
		{"upper filter", "{{ actor_name | upper }}", "ALICE"},
		{"lower filter", "{{ entity_name | lower }}", "q3 report"},
		{"date filter default layout", "Due {{ due_at | date }}", "Due 2026-09-15"},
		{"date filter custom layout", "Due {{ due_at | date:Jan 2 2006 }}", "Due Sep 15 2026"},
		{"chained filters", "{{ nobody | default:urgent | upper }}", "URGENT"},
		{"unknown filter passes through", "{{ actor_name | reverse }}", "alice"},
		{"multiple placeholders", "{{ actor_name }}: {{ entity_name }}", "alice: Q3 report"},
		{"no placeholders", "static text", "static text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, renderer.Render(tt.template, vars))
		})
	}
}
