// Package flow implements a minimalist flow-based execution engine: a
// directed graph of processing nodes connected by state-conditioned edges,
// driven from a start node until no further transition applies. Each node
// visit runs the prepare/execute/post-process lifecycle and the returned
// condition label selects the next edge.
package flow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
)

// edgeKey identifies an edge by its source alias and condition label.
type edgeKey struct {
	from      string
	condition string
}

// Flow is an immutable graph of nodes and edges with a start alias. All
// mutable state lives in the Context passed to Run, so a single Flow may
// serve many concurrent runs.
type Flow struct {
	start          string
	nodes          map[string]Node
	edges          map[edgeKey]string
	maxTransitions int
	logger         *zap.Logger
	tracer         trace.Tracer
}

// Option configures a Flow at build time.
type Option func(*Flow)

// WithLogger sets the logger used by Run. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMaxTransitions caps the number of edge transitions a single run may
// take. Zero (the default) means unbounded: cycles are the engine's retry
// mechanism and are permitted to loop freely. Set a cap when a flow's
// regenerate-and-retry loop must not run away.
func WithMaxTransitions(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.maxTransitions = n
		}
	}
}

// Start returns the start alias.
func (f *Flow) Start() string {
	return f.start
}

// NodeCount returns the number of registered nodes.
func (f *Flow) NodeCount() int {
	return len(f.nodes)
}

// EdgeCount returns the number of registered edges.
func (f *Flow) EdgeCount() int {
	return len(f.edges)
}

// Run drives the transition loop over the given context until the flow
// reaches a natural end or a fatal error. The context is mutated in place
// and returned on success.
//
// Cancellation is cooperative: ctx is checked between lifecycle steps, never
// mid-step. The engine performs no retries of its own; a retry is a cycle in
// the edge graph.
func (f *Flow) Run(ctx context.Context, c *Context) (*Context, error) {
	f.logger.Debug("starting flow run", zap.String("start", f.start))

	current := f.start
	transitions := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok := f.nodes[current]
		if !ok {
			// Construction validation makes this unreachable.
			return nil, errors.NewInternalError(current, "alias missing from registry")
		}

		condition, err := f.visit(ctx, current, node, c)
		if err != nil {
			return nil, err
		}

		next, ok := f.edges[edgeKey{from: current, condition: condition}]
		if !ok {
			if condition == DefaultCondition {
				f.logger.Debug("flow run complete",
					zap.String("node", current),
					zap.Int("transitions", transitions))
				return c, nil
			}
			// A non-default condition signals the author intended a specific
			// continuation; surface the missing route instead of stopping.
			return nil, errors.NewNoMatchingEdgeError(current, condition)
		}

		f.logger.Debug("transition",
			zap.String("from", current),
			zap.String("condition", condition),
			zap.String("to", next))

		current = next
		transitions++
		if f.maxTransitions > 0 && transitions >= f.maxTransitions {
			return nil, errors.NewTransitionLimitError(current, f.maxTransitions)
		}
	}
}

// visit runs one node's lifecycle and returns the condition label to route on.
func (f *Flow) visit(ctx context.Context, alias string, node Node, c *Context) (string, error) {
	ctx, span := f.tracer.Start(ctx, "flow.visit",
		trace.WithAttributes(attribute.String("flow.node", alias)))
	defer span.End()

	if err := node.Prepare(ctx, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", errors.NewPrepareError(alias, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	output, execErr := node.Execute(ctx, c)
	if execErr != nil {
		// Not fatal yet: the node's post-process decides whether this routes
		// to a recovery state or aborts the run.
		span.RecordError(execErr)
		f.logger.Debug("execute failed, deferring to post_process",
			zap.String("node", alias),
			zap.Error(execErr))
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	result, err := node.PostProcess(ctx, c, output, execErr)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", errors.NewExecutionError(alias, errors.StepPost, err)
	}

	condition := result.Condition()
	span.SetAttributes(attribute.String("flow.condition", condition))
	span.SetStatus(codes.Ok, "")
	return condition, nil
}

// RunData is a convenience wrapper that builds a Context from a plain map,
// runs the flow, and returns the final context.
func (f *Flow) RunData(ctx context.Context, data map[string]any) (*Context, error) {
	return f.Run(ctx, FromData(data))
}

func newFlow(start string, nodes map[string]Node, edges map[edgeKey]string, opts ...Option) *Flow {
	f := &Flow{
		start:  start,
		nodes:  nodes,
		edges:  edges,
		logger: zap.NewNop(),
		tracer: otel.Tracer("daedalus/flow"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}
