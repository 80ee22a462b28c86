package flow

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/errors"
)

// edgeDef is a declared (source, condition, destination) triple.
type edgeDef struct {
	from      string
	condition string
	to        string
}

// Builder assembles alias→node bindings and edge triples into a Flow.
// Construction performs no execution; all validation happens in Build so a
// misdeclared graph fails before the first run, never during one.
type Builder struct {
	start string
	order []string
	nodes map[string]Node
	edges []edgeDef
	errs  []error
}

// NewBuilder creates an empty flow builder.
func NewBuilder() *Builder {
	return &Builder{nodes: make(map[string]Node)}
}

// Start binds the start node. The alias is registered like any other
// binding and must be unique.
func (b *Builder) Start(alias string, node Node) *Builder {
	b.start = alias
	return b.Node(alias, node)
}

// Node binds a node under the given alias.
func (b *Builder) Node(alias string, node Node) *Builder {
	if alias == "" {
		b.errs = append(b.errs, fmt.Errorf("empty node alias"))
		return b
	}
	if node == nil {
		b.errs = append(b.errs, fmt.Errorf("nil node for alias %q", alias))
		return b
	}
	if _, exists := b.nodes[alias]; exists {
		b.errs = append(b.errs, fmt.Errorf("alias %q: %w", alias, errors.ErrDuplicateNode))
		return b
	}
	b.nodes[alias] = node
	b.order = append(b.order, alias)
	return b
}

// Edge declares a default-condition edge from one alias to another.
func (b *Builder) Edge(from, to string) *Builder {
	return b.EdgeOn(from, DefaultCondition, to)
}

// EdgeOn declares an edge taken when the source node's post-process returns
// the given condition label.
func (b *Builder) EdgeOn(from, condition, to string) *Builder {
	if condition == "" {
		condition = DefaultCondition
	}
	b.edges = append(b.edges, edgeDef{from: from, condition: condition, to: to})
	return b
}

// Build validates the declared graph and returns an immutable Flow.
// It fails when the start binding is missing, an edge references an
// unregistered alias, or two edges share a (source, condition) pair.
func (b *Builder) Build(opts ...Option) (*Flow, error) {
	if len(b.errs) > 0 {
		return nil, errors.NewConstructionError("invalid bindings", b.errs[0])
	}
	if b.start == "" {
		return nil, errors.NewConstructionError("", errors.ErrNoStartNode)
	}

	edges := make(map[edgeKey]string, len(b.edges))
	for _, e := range b.edges {
		if _, ok := b.nodes[e.from]; !ok {
			return nil, errors.NewConstructionError(
				fmt.Sprintf("edge source %q", e.from), errors.ErrUnknownNode)
		}
		if _, ok := b.nodes[e.to]; !ok {
			return nil, errors.NewConstructionError(
				fmt.Sprintf("edge destination %q", e.to), errors.ErrUnknownNode)
		}
		key := edgeKey{from: e.from, condition: e.condition}
		if existing, dup := edges[key]; dup {
			return nil, errors.NewConstructionError(
				fmt.Sprintf("(%q, %q) already routes to %q", e.from, e.condition, existing),
				errors.ErrDuplicateEdge)
		}
		edges[key] = e.to
	}

	nodes := make(map[string]Node, len(b.nodes))
	for alias, node := range b.nodes {
		nodes[alias] = node
	}

	return newFlow(b.start, nodes, edges, opts...), nil
}
