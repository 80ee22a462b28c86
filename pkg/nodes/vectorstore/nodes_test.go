package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

type fakeStore struct {
	docs    []Document
	vectors [][]float32
	matches []Match
	err     error

	lastQuery     []float32
	lastLimit     int
	lastThreshold float64
}

func (f *fakeStore) Upsert(ctx context.Context, docs []Document, vectors [][]float32) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, docs...)
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastQuery = vector
	f.lastLimit = limit
	f.lastThreshold = threshold
	return f.matches, nil
}

func TestUpsertStoresChunksWithVectors(t *testing.T) {
	store := &fakeStore{}
	n := NewUpsert(store, "chunks", "vectors")

	c := flow.NewContext()
	c.Set("chunks", []any{"alpha", "beta"})
	c.Set("vectors", [][]float32{{1, 2}, {3, 4}})

	if err := n.Prepare(context.Background(), c); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	out, execErr := n.Execute(context.Background(), c)
	result, err := n.PostProcess(context.Background(), c, out, execErr)
	if err != nil {
		t.Fatalf("PostProcess failed: %v", err)
	}

	if result.State.Condition() != "stored" {
		t.Errorf("Expected 'stored', got %q", result.State.Condition())
	}
	if len(store.docs) != 2 || store.docs[0].Content != "alpha" {
		t.Errorf("Unexpected stored documents: %v", store.docs)
	}
	if c.GetInt("stored_count") != 2 {
		t.Errorf("Expected stored_count 2, got %d", c.GetInt("stored_count"))
	}
}

func TestUpsertCountMismatch(t *testing.T) {
	n := NewUpsert(&fakeStore{}, "chunks", "vectors")

	c := flow.NewContext()
	c.Set("chunks", []any{"alpha", "beta"})
	c.Set("vectors", [][]float32{{1, 2}})

	if _, err := n.Execute(context.Background(), c); err == nil {
		t.Error("Expected a count mismatch error")
	}
}

func TestUpsertFailureRoutesRecoverably(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	n := NewUpsert(store, "chunks", "vectors")

	c := flow.NewContext()
	c.Set("chunks", []any{"alpha"})
	c.Set("vectors", [][]float32{{1}})

	out, execErr := n.Execute(context.Background(), c)
	result, err := n.PostProcess(context.Background(), c, out, execErr)
	if err != nil {
		t.Fatalf("PostProcess must translate the failure: %v", err)
	}
	if result.State.Condition() != "storage_error" {
		t.Errorf("Expected 'storage_error', got %q", result.State.Condition())
	}
}

func TestSearchRetrievesContents(t *testing.T) {
	store := &fakeStore{matches: []Match{
		{Document: Document{ID: "1", Content: "relevant text"}, Similarity: 0.9},
		{Document: Document{ID: "2", Content: "also relevant"}, Similarity: 0.8},
	}}
	n := NewSearch(store, "query_vector", "documents", 3, 0.5)

	c := flow.NewContext()
	c.Set("query_vector", [][]float32{{0.1, 0.2}})

	out, execErr := n.Execute(context.Background(), c)
	result, err := n.PostProcess(context.Background(), c, out, execErr)
	if err != nil {
		t.Fatalf("PostProcess failed: %v", err)
	}

	if result.State.Condition() != "retrieved" {
		t.Errorf("Expected 'retrieved', got %q", result.State.Condition())
	}
	docs := c.GetStringSlice("documents")
	if len(docs) != 2 || docs[0] != "relevant text" {
		t.Errorf("Unexpected retrieved documents: %v", docs)
	}
	if store.lastLimit != 3 || store.lastThreshold != 0.5 {
		t.Errorf("Search parameters not passed through: limit=%d threshold=%v",
			store.lastLimit, store.lastThreshold)
	}
}

func TestVectorsFromJSONShapes(t *testing.T) {
	// After a trip through JSON, vectors arrive as []any of []any of float64.
	c := flow.NewContext()
	c.Set("vectors", []any{[]any{0.1, 0.2}, []any{0.3, 0.4}})

	vectors, err := vectorsFrom(c, "vectors")
	if err != nil {
		t.Fatalf("vectorsFrom failed: %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != float32(0.3) {
		t.Errorf("Unexpected decoded vectors: %v", vectors)
	}

	c.Set("bad", []any{"not a vector"})
	if _, err := vectorsFrom(c, "bad"); err == nil {
		t.Error("Expected an error for a malformed vector list")
	}
	if _, err := vectorsFrom(c, "missing"); err == nil {
		t.Error("Expected an error for a missing key")
	}
}

func TestSearchAcceptsSingleVector(t *testing.T) {
	store := &fakeStore{}
	n := NewSearch(store, "query_vector", "documents", 0, 0)

	c := flow.NewContext()
	c.Set("query_vector", []float32{1, 2, 3})

	if _, err := n.Execute(context.Background(), c); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(store.lastQuery) != 3 {
		t.Errorf("Expected the single vector passed through, got %v", store.lastQuery)
	}
	if store.lastLimit != 5 {
		t.Errorf("Expected the defaulted limit 5, got %d", store.lastLimit)
	}
}
