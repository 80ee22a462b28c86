package vectorstore

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// State is the vectorstore nodes' routing state.
type State int

const (
	// StateDefault ends the flow when no stored or retrieved edge is declared
	StateDefault State = iota

	// StateStored routes on "stored" after a successful upsert
	StateStored

	// StateRetrieved routes on "retrieved" after a successful search
	StateRetrieved

	// StateFailed routes on "storage_error"
	StateFailed
)

// IsDefault reports whether the state is the default variant.
func (s State) IsDefault() bool { return s == StateDefault }

// Condition returns the condition label for the state.
func (s State) Condition() string {
	switch s {
	case StateStored:
		return "stored"
	case StateRetrieved:
		return "retrieved"
	case StateFailed:
		return "storage_error"
	default:
		return flow.DefaultCondition
	}
}

// UpsertNode stores the chunks under ChunksKey with the vectors under
// VectorsKey. Chunks and vectors are matched by index.
type UpsertNode struct {
	flow.BaseNode
	store      Store
	chunksKey  string
	vectorsKey string
}

// NewUpsert creates an upsert node.
func NewUpsert(store Store, chunksKey, vectorsKey string) *UpsertNode {
	return &UpsertNode{store: store, chunksKey: chunksKey, vectorsKey: vectorsKey}
}

// Prepare verifies the node has a store.
func (n *UpsertNode) Prepare(ctx context.Context, c *flow.Context) error {
	if n.store == nil {
		return fmt.Errorf("upsert node has no store")
	}
	return nil
}

// Execute writes the chunk/vector pairs to the store.
func (n *UpsertNode) Execute(ctx context.Context, c *flow.Context) (any, error) {
	chunks := c.GetStringSlice(n.chunksKey)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks under key %q", n.chunksKey)
	}
	vectors, err := vectorsFrom(c, n.vectorsKey)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("chunk count %d does not match vector count %d", len(chunks), len(vectors))
	}

	docs := make([]Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = Document{Content: chunk, Metadata: map[string]any{"chunk_index": i}}
	}
	if err := n.store.Upsert(ctx, docs, vectors); err != nil {
		return nil, err
	}
	return len(docs), nil
}

// PostProcess records the stored count and routes on the outcome.
func (n *UpsertNode) PostProcess(ctx context.Context, c *flow.Context, output any, execErr error) (flow.ProcessResult, error) {
	if execErr != nil {
		c.Set("error", execErr.Error())
		return flow.NewResult(StateFailed, execErr.Error()), nil
	}
	c.Set("stored_count", output)
	return flow.NewResult(StateStored, fmt.Sprintf("%v documents stored", output)), nil
}

// SearchNode retrieves the documents most similar to the vector under
// QueryVectorKey and stores their contents under OutputKey.
type SearchNode struct {
	flow.BaseNode
	store          Store
	queryVectorKey string
	outputKey      string
	limit          int
	threshold      float64
}

// NewSearch creates a search node. limit defaults to 5.
func NewSearch(store Store, queryVectorKey, outputKey string, limit int, threshold float64) *SearchNode {
	if limit <= 0 {
		limit = 5
	}
	return &SearchNode{store: store, queryVectorKey: queryVectorKey, outputKey: outputKey, limit: limit, threshold: threshold}
}

// Prepare verifies the node has a store.
func (n *SearchNode) Prepare(ctx context.Context, c *flow.Context) error {
	if n.store == nil {
		return fmt.Errorf("search node has no store")
	}
	return nil
}

// Execute runs the similarity search.
func (n *SearchNode) Execute(ctx context.Context, c *flow.Context) (any, error) {
	vectors, err := vectorsFrom(c, n.queryVectorKey)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no query vector under key %q", n.queryVectorKey)
	}
	return n.store.Search(ctx, vectors[0], n.limit, n.threshold)
}

// PostProcess stores the matched contents and routes on the outcome.
func (n *SearchNode) PostProcess(ctx context.Context, c *flow.Context, output any, execErr error) (flow.ProcessResult, error) {
	if execErr != nil {
		c.Set("error", execErr.Error())
		return flow.NewResult(StateFailed, execErr.Error()), nil
	}
	matches := output.([]Match)
	contents := make([]any, len(matches))
	for i, m := range matches {
		contents[i] = m.Document.Content
	}
	c.Set(n.outputKey, contents)
	return flow.NewResult(StateRetrieved, fmt.Sprintf("%d matches", len(matches))), nil
}

// vectorsFrom reads vectors that may arrive either as [][]float32 set by
// the embed node in the same process, or as []any of []any of numbers
// after a trip through JSON.
func vectorsFrom(c *flow.Context, key string) ([][]float32, error) {
	v, ok := c.Get(key)
	if !ok {
		return nil, fmt.Errorf("no vectors under key %q", key)
	}
	switch vv := v.(type) {
	case [][]float32:
		return vv, nil
	case []float32:
		return [][]float32{vv}, nil
	case []any:
		vectors := make([][]float32, 0, len(vv))
		for _, elem := range vv {
			raw, ok := elem.([]any)
			if !ok {
				return nil, fmt.Errorf("value under key %q is not a vector list", key)
			}
			vec := make([]float32, len(raw))
			for i, num := range raw {
				f, ok := num.(float64)
				if !ok {
					return nil, fmt.Errorf("vector under key %q has non-numeric element", key)
				}
				vec[i] = float32(f)
			}
			vectors = append(vectors, vec)
		}
		return vectors, nil
	default:
		return nil, fmt.Errorf("value under key %q is not a vector list", key)
	}
}
