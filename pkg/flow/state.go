package flow

// DefaultCondition is the condition label of every state whose IsDefault
// reports true. A node returning it with no outgoing default edge ends the
// run successfully.
const DefaultCondition = "default"

// ProcessState is the small protocol a node's state type must satisfy: it
// identifies its distinguished default variant and maps every variant to a
// stable string condition label used for edge lookup. The label, not the
// state value, is the routing key, so unrelated node types can share edges
// as long as their labels line up.
type ProcessState interface {
	// IsDefault reports whether this is the distinguished default variant.
	IsDefault() bool

	// Condition returns the stable condition label for this variant.
	Condition() string
}

// BaseState is the stock state enum for nodes that do not need their own.
type BaseState int

const (
	// StateDefault is the distinguished default variant
	StateDefault BaseState = iota

	// StateSuccess routes on the "success" condition
	StateSuccess

	// StateFailure routes on the "failure" condition
	StateFailure
)

// IsDefault reports whether the state is the default variant.
func (s BaseState) IsDefault() bool {
	return s == StateDefault
}

// Condition returns the condition label for the state.
func (s BaseState) Condition() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return DefaultCondition
	}
}

// ProcessResult is the outcome of a node's post-process step: a state value
// plus an optional human-readable message. It is produced per visit and
// consumed immediately by the transition loop.
type ProcessResult struct {
	State   ProcessState
	Message string
}

// NewResult creates a ProcessResult for the given state.
func NewResult(state ProcessState, message string) ProcessResult {
	return ProcessResult{State: state, Message: message}
}

// DefaultResult returns a ProcessResult carrying the default state.
func DefaultResult() ProcessResult {
	return ProcessResult{State: StateDefault}
}

// Condition returns the condition label derived from the result's state.
// A nil state maps to the default condition.
func (r ProcessResult) Condition() string {
	if r.State == nil {
		return DefaultCondition
	}
	return r.State.Condition()
}

// IsDefault reports whether the result carries the default state.
func (r ProcessResult) IsDefault() bool {
	return r.State == nil || r.State.IsDefault()
}
