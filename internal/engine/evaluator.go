package engine

import (
	"fmt"
	"strings"

	"github.com/docflowhq/docflow/internal/models"
)

// Evaluator handles condition evaluation
type Evaluator struct{}

// NewEvaluator creates a new condition evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate evaluates a condition tree against an event context. The
// four predicate families (trigger events, state conditions, field
// conditions, context conditions) are implicitly AND-ed; a nil or
// empty tree matches any event.
func (e *Evaluator) Evaluate(cond *models.Conditions, ec *models.EventContext) (bool, error) {
	if cond.IsEmpty() {
		return true, nil
	}

	if len(cond.TriggerEvents) > 0 && !containsString(cond.TriggerEvents, ec.EventName) {
		return false, nil
	}

	if cond.State != nil && !e.matchState(cond.State, ec) {
		return false, nil
	}

	for _, fc := range cond.Fields {
		ok, err := e.evaluateField(fc, ec.Snapshot, ec.Previous)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if len(cond.Context) > 0 {
		contextValues := models.JSONB(ec.ContextValues())
		for _, cc := range cond.Context {
			ok, err := e.evaluateField(cc, contextValues, nil)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}

	return true, nil
}

// matchState checks transition metadata; each absent field is a wildcard.
func (e *Evaluator) matchState(sc *models.StateConditions, ec *models.EventContext) bool {
	if sc.FromState != nil && *sc.FromState != ec.FromState {
		return false
	}
	if sc.ToState != nil && *sc.ToState != ec.ToState {
		return false
	}
	if sc.TransitionName != nil && *sc.TransitionName != ec.TransitionName {
		return false
	}
	return true
}

// evaluateField evaluates one {field, operator, value} predicate. A
// field absent from the document fails closed for every operator
// except not_exists. A malformed operator is a configuration bug and
// returns ErrInvalidCondition.
func (e *Evaluator) evaluateField(fc models.FieldCondition, doc, previous models.JSONB) (bool, error) {
	current, exists := lookupField(doc, fc.Field)
	prev, prevExists := lookupField(previous, fc.Field)

	switch fc.Operator {
	case models.OpExists:
		return exists && !isEmptyValue(current), nil

	case models.OpNotExists:
		return !exists || isEmptyValue(current), nil

	case models.OpChanged:
		return fieldChanged(current, exists, prev, prevExists), nil

	case models.OpChangedTo:
		return fieldChanged(current, exists, prev, prevExists) && exists && equalValues(current, fc.Value), nil

	case models.OpChangedFrom:
		return fieldChanged(current, exists, prev, prevExists) && prevExists && equalValues(prev, fc.Value), nil
	}

	// All remaining operators compare against the current value and
	// fail closed when it is missing.
	if !exists {
		return false, nil
	}

	switch fc.Operator {
	case models.OpEqual:
		return equalValues(current, fc.Value), nil

	case models.OpNotEqual:
		return !equalValues(current, fc.Value), nil

	case models.OpGreaterThan:
		return compareValues(current, fc.Value) > 0, nil

	case models.OpLessThan:
		return compareValues(current, fc.Value) < 0, nil

	case models.OpGreaterEqual:
		return compareValues(current, fc.Value) >= 0, nil

	case models.OpLessEqual:
		return compareValues(current, fc.Value) <= 0, nil

	case models.OpIn:
		return valueInList(current, fc.Value), nil

	case models.OpNotIn:
		return !valueInList(current, fc.Value), nil

	case models.OpContains:
		return valueContains(current, fc.Value), nil

	case models.OpStartsWith:
		return strings.HasPrefix(stringify(current), stringify(fc.Value)), nil

	case models.OpEndsWith:
		return strings.HasSuffix(stringify(current), stringify(fc.Value)), nil

	default:
		return false, fmt.Errorf("%w: unsupported operator %q for field %q", ErrInvalidCondition, fc.Operator, fc.Field)
	}
}

// lookupField extracts a field value using dot notation.
// Example: "order.total" retrieves doc["order"]["total"].
func lookupField(doc models.JSONB, field string) (interface{}, bool) {
	if doc == nil {
		return nil, false
	}

	// Flat keys (including dotted context keys) win over path traversal.
	if val, ok := doc[field]; ok {
		return val, true
	}

	parts := strings.Split(field, ".")
	current := map[string]interface{}(doc)

	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return nil, false
		}

		if i == len(parts)-1 {
			return val, true
		}

		next, ok := val.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}

	return nil, false
}

func fieldChanged(current interface{}, exists bool, prev interface{}, prevExists bool) bool {
	if exists != prevExists {
		return true
	}
	if !exists {
		return false
	}
	return !equalValues(current, prev)
}

// equalValues compares two values loosely: numerically when both are
// numeric, otherwise by string representation. JSON round-trips turn
// ints into float64, so strict type equality would be wrong here.
func equalValues(a, b interface{}) bool {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		return af == bf
	}
	return stringify(a) == stringify(b)
}

// compareValues orders two values: numerically when both are numeric,
// otherwise lexicographically on their string representation.
func compareValues(a, b interface{}) int {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

// valueInList checks membership of value in a list condition value.
func valueInList(value interface{}, list interface{}) bool {
	switch l := list.(type) {
	case []interface{}:
		for _, item := range l {
			if equalValues(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range l {
			if equalValues(value, item) {
				return true
			}
		}
	}
	return false
}

// valueContains checks substring match for strings and membership for lists.
func valueContains(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, stringify(needle))
	case []interface{}:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
	case []string:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
	}
	return false
}

func isEmptyValue(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// toFloat64 converts various numeric types to float64
func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
