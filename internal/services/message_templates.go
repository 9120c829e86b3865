package services

import "fmt"

// StaticTemplateStore is an in-memory template store seeded with the
// built-in engine templates. Custom templates registered under the
// same key override the defaults.
type StaticTemplateStore struct {
	templates map[string]*MessageTemplate
}

// NewStaticTemplateStore creates a store holding the built-in templates.
func NewStaticTemplateStore() *StaticTemplateStore {
	store := &StaticTemplateStore{templates: make(map[string]*MessageTemplate)}
	for _, tmpl := range builtinTemplates {
		store.templates[tmpl.Key] = tmpl
	}
	return store
}

// Register adds or replaces a template.
func (s *StaticTemplateStore) Register(tmpl *MessageTemplate) {
	s.templates[tmpl.Key] = tmpl
}

// Get implements TemplateStore.
func (s *StaticTemplateStore) Get(key string) (*MessageTemplate, error) {
	tmpl, ok := s.templates[key]
	if !ok {
		return nil, fmt.Errorf("unknown template key %q", key)
	}
	return tmpl, nil
}

// builtinTemplates are the messages the engine itself emits. Workflow
// authors reference them by key in notification step configs and can
// add their own alongside.
var builtinTemplates = []*MessageTemplate{
	{
		Key:     "approval_requested",
		Subject: "Approval needed: {{ entity_type }} {{ entity_id }}",
		Body: `An approval is waiting for your decision.

Document: {{ entity_type }} {{ entity_id }}
Requested by: {{ actor_name | default:system }}
{{ message }}`,
	},
	{
		Key:     "approval_granted",
		Subject: "Approved: {{ entity_type }} {{ entity_id }}",
		Body: `The approval on {{ entity_type }} {{ entity_id }} was granted.

Decided by: {{ decided_by }}
The workflow continues automatically.`,
	},
	{
		Key:     "approval_rejected",
		Subject: "Rejected: {{ entity_type }} {{ entity_id }}",
		Body: `The approval on {{ entity_type }} {{ entity_id }} was rejected.

Decided by: {{ decided_by }}
Reason: {{ reason | default:none given }}`,
	},
	{
		Key:     "approval_timeout",
		Subject: "Approval expired: {{ entity_type }} {{ entity_id }}",
		Body: `The approval on {{ entity_type }} {{ entity_id }} expired without a decision.

Timeout policy applied: {{ on_timeout }}`,
	},
	{
		Key:     "state_changed",
		Subject: "{{ entity_type }} {{ entity_id }} moved to {{ to_state }}",
		Body: `{{ entity_type }} {{ entity_id }} transitioned from {{ from_state | default:initial }} to {{ to_state }}.

Transition: {{ transition_name }}
By: {{ actor_name | default:system }}`,
	},
}
