package flow

import (
	"encoding/json"
	"testing"
)

func TestContextInsertionOrder(t *testing.T) {
	c := NewContext()
	c.Set("zebra", 1)
	c.Set("apple", 2)
	c.Set("mango", 3)

	keys := c.Keys()
	want := []string{"zebra", "apple", "mango"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, keys)
		}
	}
}

func TestContextSetPreservesPosition(t *testing.T) {
	c := NewContext()
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	keys := c.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Expected [a b], got %v", keys)
	}
	v, _ := c.Get("a")
	if v != 10 {
		t.Errorf("Expected overwritten value 10, got %v", v)
	}
}

func TestContextRemove(t *testing.T) {
	c := NewContext()
	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Remove("a")
	if !ok || v != 1 {
		t.Errorf("Expected removed value 1, got %v (ok=%v)", v, ok)
	}
	if c.Has("a") {
		t.Error("Key should be gone after Remove")
	}
	if _, ok := c.Remove("a"); ok {
		t.Error("Removing a missing key should report false")
	}
	if c.Len() != 1 {
		t.Errorf("Expected length 1, got %d", c.Len())
	}
}

func TestContextFromDataLexicalOrder(t *testing.T) {
	c := FromData(map[string]any{"b": 2, "a": 1, "c": 3})
	keys := c.Keys()
	want := []string{"a", "b", "c"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, keys)
		}
	}
}

func TestContextMerge(t *testing.T) {
	base := NewContext()
	base.Set("a", 1)
	base.Set("b", 2)
	base.SetMetadata("source", "base")

	other := NewContext()
	other.Set("b", 20)
	other.Set("c", 30)
	other.SetMetadata("source", "other")

	base.Merge(other)

	if v, _ := base.Get("b"); v != 20 {
		t.Errorf("Expected merge to overwrite b with 20, got %v", v)
	}
	if v, _ := base.Get("c"); v != 30 {
		t.Errorf("Expected merged key c=30, got %v", v)
	}
	keys := base.Keys()
	want := []string{"a", "b", "c"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, keys)
		}
	}
	if v, _ := base.GetMetadata("source"); v != "other" {
		t.Errorf("Expected metadata overwritten, got %v", v)
	}

	base.Merge(nil) // no-op
	if base.Len() != 3 {
		t.Errorf("Merging nil changed the context")
	}
}

func TestContextClone(t *testing.T) {
	c := NewContext()
	c.Set("a", 1)
	c.SetMetadata("m", "x")

	clone := c.Clone()
	clone.Set("a", 2)
	clone.Set("b", 3)

	if v, _ := c.Get("a"); v != 1 {
		t.Errorf("Mutating the clone changed the original: %v", v)
	}
	if c.Has("b") {
		t.Error("Clone key leaked into the original")
	}
	if v, _ := clone.GetMetadata("m"); v != "x" {
		t.Errorf("Expected metadata to be cloned, got %v", v)
	}
}

func TestContextTypedAccessors(t *testing.T) {
	c := NewContext()
	c.Set("s", "hello")
	c.Set("b", true)
	c.Set("i", 42)
	c.Set("f", 3.5)
	c.Set("slice", []any{"x", 1, "y"})
	c.Set("m", map[string]any{"k": "v"})

	if c.GetString("s") != "hello" {
		t.Errorf("GetString: got %q", c.GetString("s"))
	}
	if c.GetString("i") != "" {
		t.Errorf("GetString on non-string should be empty, got %q", c.GetString("i"))
	}
	if c.GetStringWithDefault("missing", "fallback") != "fallback" {
		t.Error("GetStringWithDefault should return the default for missing keys")
	}
	if !c.GetBool("b") {
		t.Error("GetBool: expected true")
	}
	if c.GetInt("i") != 42 {
		t.Errorf("GetInt: got %d", c.GetInt("i"))
	}
	if c.GetInt("f") != 3 {
		t.Errorf("GetInt on float should truncate, got %d", c.GetInt("f"))
	}
	if c.GetFloat("f") != 3.5 {
		t.Errorf("GetFloat: got %v", c.GetFloat("f"))
	}
	ss := c.GetStringSlice("slice")
	if len(ss) != 2 || ss[0] != "x" || ss[1] != "y" {
		t.Errorf("GetStringSlice should skip non-strings, got %v", ss)
	}
	if m := c.GetMap("m"); m["k"] != "v" {
		t.Errorf("GetMap: got %v", m)
	}
}

func TestContextJSONRoundTripPreservesOrder(t *testing.T) {
	c := NewContext()
	c.Set("zebra", "z")
	c.Set("apple", float64(1))
	c.Set("nested", map[string]any{"k": "v"})
	c.SetMetadata("run", "abc")

	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"data":{"zebra":"z","apple":1,"nested":{"k":"v"}},"metadata":{"run":"abc"}}`
	if string(b) != want {
		t.Errorf("Expected %s, got %s", want, b)
	}

	restored := NewContext()
	if err := json.Unmarshal(b, restored); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	keys := restored.Keys()
	wantKeys := []string{"zebra", "apple", "nested"}
	for i := range wantKeys {
		if keys[i] != wantKeys[i] {
			t.Fatalf("Order lost in round trip: expected %v, got %v", wantKeys, keys)
		}
	}
	if restored.GetString("zebra") != "z" {
		t.Errorf("Value lost in round trip")
	}
	if v, _ := restored.GetMetadata("run"); v != "abc" {
		t.Errorf("Metadata lost in round trip: %v", v)
	}
}

func TestContextString(t *testing.T) {
	c := NewContext()
	c.Set("a", 1)
	if c.String() != `{"data":{"a":1},"metadata":{}}` {
		t.Errorf("Unexpected String output: %s", c.String())
	}
}
