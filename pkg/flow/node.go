package flow

import "context"

// ResultKey is the context key the default post-process stores a node's
// execute output under.
const ResultKey = "result"

// Node is the polymorphic unit of work. The engine invokes the three steps
// in a fixed order per visit: Prepare stages inputs by mutating the context,
// Execute performs the node's primary work without touching the context, and
// PostProcess interprets the outcome into a routing decision.
//
// Execute's error is not automatically fatal: it is handed to PostProcess,
// which may reinterpret it into a routable state (a recovery edge) or return
// it to abort the run. Failure handling is a per-node routing decision, not
// a global policy.
type Node interface {
	// Prepare stages inputs for Execute by mutating the context. An error
	// aborts the run.
	Prepare(ctx context.Context, c *Context) error

	// Execute performs the node's primary work and returns a produced value.
	// It must not mutate the context; the value and error are handed to
	// PostProcess for interpretation.
	Execute(ctx context.Context, c *Context) (any, error)

	// PostProcess records the outcome into the context and returns the
	// ProcessResult that drives edge lookup. Returning an error aborts the
	// run.
	PostProcess(ctx context.Context, c *Context, output any, execErr error) (ProcessResult, error)
}

// BaseNode provides the default Prepare and PostProcess steps. Embed it in
// node implementations that only need Execute.
type BaseNode struct{}

// Prepare is a no-op.
func (BaseNode) Prepare(ctx context.Context, c *Context) error {
	return nil
}

// PostProcess stores a successful output under ResultKey and returns the
// default state. An execution failure is fatal; nodes that want to route on
// failure override this step.
func (BaseNode) PostProcess(ctx context.Context, c *Context, output any, execErr error) (ProcessResult, error) {
	if execErr != nil {
		return ProcessResult{}, execErr
	}
	c.Set(ResultKey, output)
	return DefaultResult(), nil
}

// NodeFunc adapts a plain function into a Node with default prepare and
// post-process behavior. Useful for tests and small glue steps.
type NodeFunc func(ctx context.Context, c *Context) (any, error)

// Prepare is a no-op.
func (NodeFunc) Prepare(ctx context.Context, c *Context) error {
	return nil
}

// Execute invokes the wrapped function.
func (f NodeFunc) Execute(ctx context.Context, c *Context) (any, error) {
	return f(ctx, c)
}

// PostProcess applies the default post-process behavior.
func (NodeFunc) PostProcess(ctx context.Context, c *Context, output any, execErr error) (ProcessResult, error) {
	return BaseNode{}.PostProcess(ctx, c, output, execErr)
}
