// Package script provides a sandboxed JavaScript node. Scripts run in a
// goja runtime with Node.js globals removed, receive the flow context data
// as an `input` object, and their final expression value becomes the node
// output.
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// State is the script node's routing state.
type State int

const (
	// StateDefault ends the flow when no completed edge is declared
	StateDefault State = iota

	// StateCompleted routes on "completed" after a successful run
	StateCompleted

	// StateFailed routes on "script_error"
	StateFailed
)

// IsDefault reports whether the state is the default variant.
func (s State) IsDefault() bool { return s == StateDefault }

// Condition returns the condition label for the state.
func (s State) Condition() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "script_error"
	default:
		return flow.DefaultCondition
	}
}

// removedGlobals are Node.js globals a sandboxed script must not see.
var removedGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

// Node evaluates a JavaScript program against the flow context. The
// program is compiled once at construction; each execution gets a fresh
// runtime so scripts cannot leak state between runs.
type Node struct {
	flow.BaseNode
	program   *goja.Program
	outputKey string
	timeout   time.Duration
}

// New compiles source and creates a script node. timeout bounds a single
// evaluation; zero means 5 seconds.
func New(source, outputKey string, timeout time.Duration) (*Node, error) {
	program, err := goja.Compile("script", source, true)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Node{program: program, outputKey: outputKey, timeout: timeout}, nil
}

// Execute runs the program with the context data bound as `input`.
func (n *Node) Execute(ctx context.Context, c *flow.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during script execution: %v", r)
		}
	}()

	vm := goja.New()
	for _, name := range removedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, fmt.Errorf("sandbox setup: %w", err)
		}
	}
	if err := vm.Set("input", c.Data()); err != nil {
		return nil, fmt.Errorf("bind input: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("script timed out")
		case <-done:
		}
	}()

	value, err := vm.RunProgram(n.program)
	close(done)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return nil, fmt.Errorf("script timed out after %s", n.timeout)
		}
		return nil, fmt.Errorf("run script: %w", err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// PostProcess stores the script result and routes on the outcome.
func (n *Node) PostProcess(ctx context.Context, c *flow.Context, output any, execErr error) (flow.ProcessResult, error) {
	if execErr != nil {
		c.Set("error", execErr.Error())
		return flow.NewResult(StateFailed, execErr.Error()), nil
	}
	c.Set(n.outputKey, output)
	return flow.NewResult(StateCompleted, "script evaluated"), nil
}
