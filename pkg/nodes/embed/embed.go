// Package embed provides an embedding node backed by the OpenAI API. It
// turns text chunks into vectors for storage and similarity search.
package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// State is the embed node's routing state.
type State int

const (
	// StateDefault ends the flow when no embedded edge is declared
	StateDefault State = iota

	// StateEmbedded routes on "embedded" after a successful call
	StateEmbedded

	// StateFailed routes on "embedding_error"
	StateFailed
)

// IsDefault reports whether the state is the default variant.
func (s State) IsDefault() bool { return s == StateDefault }

// Condition returns the condition label for the state.
func (s State) Condition() string {
	switch s {
	case StateEmbedded:
		return "embedded"
	case StateFailed:
		return "embedding_error"
	default:
		return flow.DefaultCondition
	}
}

// EmbeddingClient is the embedding surface the node depends on. The OpenAI
// client satisfies it; tests substitute a fake.
type EmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Node embeds the string values under SourceKey. The source may hold a
// single string or a string slice; the output is always a slice of
// float32 vectors under OutputKey, one per input, in input order.
type Node struct {
	flow.BaseNode
	client    EmbeddingClient
	sourceKey string
	outputKey string
	model     openai.EmbeddingModel
}

// New creates an embed node. model defaults to text-embedding-3-small.
func New(client EmbeddingClient, sourceKey, outputKey string, model openai.EmbeddingModel) *Node {
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &Node{client: client, sourceKey: sourceKey, outputKey: outputKey, model: model}
}

// Prepare verifies the node has a client to call.
func (n *Node) Prepare(ctx context.Context, c *flow.Context) error {
	if n.client == nil {
		return fmt.Errorf("embed node has no embedding client")
	}
	return nil
}

// Execute embeds the source texts in a single API call.
func (n *Node) Execute(ctx context.Context, c *flow.Context) (any, error) {
	inputs := n.inputs(c)
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no text under key %q", n.sourceKey)
	}

	resp, err := n.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: n.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: %d inputs, %d vectors", len(inputs), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// PostProcess stores the vectors and routes on the outcome.
func (n *Node) PostProcess(ctx context.Context, c *flow.Context, output any, execErr error) (flow.ProcessResult, error) {
	if execErr != nil {
		c.Set("error", execErr.Error())
		return flow.NewResult(StateFailed, execErr.Error()), nil
	}
	c.Set(n.outputKey, output)
	return flow.NewResult(StateEmbedded, fmt.Sprintf("%d vectors", len(output.([][]float32)))), nil
}

func (n *Node) inputs(c *flow.Context) []string {
	if s := c.GetString(n.sourceKey); s != "" {
		return []string{s}
	}
	return c.GetStringSlice(n.sourceKey)
}
