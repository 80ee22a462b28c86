package textops

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// Node applies a pipeline of named transforms to the string under
// SourceKey and writes the result to OutputKey. It uses the default
// routing of BaseNode: an unknown transform or missing source is fatal.
type Node struct {
	flow.BaseNode
	sourceKey string
	outputKey string
	ops       []string
}

// New creates a textops node applying ops in order.
func New(sourceKey, outputKey string, ops ...string) *Node {
	return &Node{sourceKey: sourceKey, outputKey: outputKey, ops: ops}
}

// Prepare validates the transform names up front.
func (n *Node) Prepare(ctx context.Context, c *flow.Context) error {
	for _, op := range n.ops {
		switch op {
		case OpUpper, OpLower, OpTitle, OpTrim:
		default:
			return fmt.Errorf("unknown transform %q", op)
		}
	}
	return nil
}

// Execute applies the transforms in order.
func (n *Node) Execute(ctx context.Context, c *flow.Context) (any, error) {
	v, ok := c.Get(n.sourceKey)
	if !ok {
		return nil, fmt.Errorf("no value under key %q", n.sourceKey)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("value under key %q is not a string", n.sourceKey)
	}
	for _, op := range n.ops {
		var err error
		s, err = Apply(op, s)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// PostProcess stores the transformed string under the output key.
func (n *Node) PostProcess(ctx context.Context, c *flow.Context, output any, execErr error) (flow.ProcessResult, error) {
	if execErr != nil {
		return flow.ProcessResult{}, execErr
	}
	c.Set(n.outputKey, output)
	return flow.DefaultResult(), nil
}
