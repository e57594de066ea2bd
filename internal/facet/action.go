package facet

import "github.com/rotisserie/eris"

// ErrUnknownAction is returned by Dispatch for unsupported action types.
var ErrUnknownAction = eris.New("facet: unknown action")

// ActionType names a state transition.
type ActionType string

// Action types accepted by Dispatch.
const (
	ActionSetFilter    ActionType = "SET_FILTER"
	ActionResetFilters ActionType = "RESET_FILTERS"
)

// Action is one ordered state transition issued by the presentation layer.
type Action struct {
	Type        ActionType `json:"type"`
	Field       string     `json:"field,omitempty"`
	FilterValue []string   `json:"filterValue,omitempty"`
	Fields      []string   `json:"fields,omitempty"`
}

// SetFilter builds a SET_FILTER action.
func SetFilter(field string, values ...string) Action {
	return Action{Type: ActionSetFilter, Field: field, FilterValue: values}
}

// ResetFilters builds a RESET_FILTERS action.
func ResetFilters(fields ...string) Action {
	return Action{Type: ActionResetFilters, Fields: fields}
}

// Dispatch applies a to the engine and returns the new snapshot. Errors
// leave the engine unchanged.
func (e *Engine) Dispatch(a Action) (*Snapshot, error) {
	switch a.Type {
	case ActionSetFilter:
		return e.SetFilter(a.Field, a.FilterValue)
	case ActionResetFilters:
		return e.ResetFilters(a.Fields...)
	default:
		return nil, eris.Wrapf(ErrUnknownAction, "type %q", a.Type)
	}
}
