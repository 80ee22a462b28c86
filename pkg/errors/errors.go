package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStartNode indicates that a flow was built without a start binding
	ErrNoStartNode = errors.New("no start node")

	// ErrUnknownNode indicates that an edge references an alias missing from the registry
	ErrUnknownNode = errors.New("unknown node alias")

	// ErrDuplicateNode indicates that the same alias was bound twice
	ErrDuplicateNode = errors.New("duplicate node alias")

	// ErrDuplicateEdge indicates that two edges share a (source, condition) pair
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrNoMatchingEdge indicates a non-default condition with no registered edge
	ErrNoMatchingEdge = errors.New("no matching edge")

	// ErrTransitionLimit indicates that a run exceeded its configured transition cap
	ErrTransitionLimit = errors.New("transition limit exceeded")

	// ErrInternal indicates an invariant violation that validated construction
	// should have made impossible
	ErrInternal = errors.New("internal invariant violation")
)

// Step names the lifecycle step a run-time error originated from.
const (
	StepPrepare = "prepare"
	StepExecute = "execute"
	StepPost    = "post_process"
)

// Error codes for machine-readable classification.
const (
	CodeConstruction   = "CONSTRUCTION"
	CodePrepare        = "PREPARE"
	CodeExecution      = "EXECUTION"
	CodeNoMatchingEdge = "NO_MATCHING_EDGE"
	CodeTransitionCap  = "TRANSITION_LIMIT"
	CodeInternal       = "INTERNAL"
)

// Error represents a structured flow engine error. Run-time errors carry the
// alias of the offending node and the lifecycle step that failed so callers
// can diagnose a run without digging through wrapped causes.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Node is the alias of the node the error originated from, if any
	Node string

	// Step is the lifecycle step that failed, if any
	Step string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Node != "" {
		prefix = fmt.Sprintf("%s node %q", prefix, e.Node)
	}
	if e.Step != "" {
		prefix = fmt.Sprintf("%s %s", prefix, e.Step)
	}
	if e.Message != "" {
		prefix = fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConstructionError creates an error for a failure while building a flow.
func NewConstructionError(message string, err error) *Error {
	return &Error{Code: CodeConstruction, Message: message, Err: err}
}

// NewPrepareError creates an error for a failed prepare step.
func NewPrepareError(node string, err error) *Error {
	return &Error{Code: CodePrepare, Node: node, Step: StepPrepare, Err: err}
}

// NewExecutionError creates an error for a fatal execute or post-process outcome.
func NewExecutionError(node, step string, err error) *Error {
	return &Error{Code: CodeExecution, Node: node, Step: step, Err: err}
}

// NewNoMatchingEdgeError creates an error for a non-default condition that has
// no registered edge from the given node.
func NewNoMatchingEdgeError(node, condition string) *Error {
	return &Error{
		Code:    CodeNoMatchingEdge,
		Node:    node,
		Message: fmt.Sprintf("condition %q", condition),
		Err:     ErrNoMatchingEdge,
	}
}

// NewTransitionLimitError creates an error for a run that hit its transition cap.
func NewTransitionLimitError(node string, limit int) *Error {
	return &Error{
		Code:    CodeTransitionCap,
		Node:    node,
		Message: fmt.Sprintf("after %d transitions", limit),
		Err:     ErrTransitionLimit,
	}
}

// NewInternalError creates an error for an invariant violation during a run.
func NewInternalError(node, message string) *Error {
	return &Error{Code: CodeInternal, Node: node, Message: message, Err: ErrInternal}
}

// IsConstruction checks if an error was raised while building a flow
func IsConstruction(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeConstruction
}

// IsNoMatchingEdge checks if an error is a missing-edge error
func IsNoMatchingEdge(err error) bool {
	return errors.Is(err, ErrNoMatchingEdge)
}

// IsTransitionLimit checks if an error is a transition cap error
func IsTransitionLimit(err error) bool {
	return errors.Is(err, ErrTransitionLimit)
}

// NodeOf returns the offending node alias carried by err, if any.
func NodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Node
	}
	return ""
}

// StepOf returns the lifecycle step carried by err, if any.
func StepOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}
