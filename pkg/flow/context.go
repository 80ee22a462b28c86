package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Context is the shared mutable state passed through a flow run. It is an
// insertion-ordered mapping from string keys to JSON-like values (nil, bool,
// float64, string, []any, map[string]any), with a parallel metadata store for
// values that travel alongside the data without being part of it.
//
// A Context is exclusively owned by the single run processing it. Node visits
// within one run never overlap, so no locking is performed; do not share a
// Context between concurrent runs.
type Context struct {
	keys     []string
	data     map[string]any
	metaKeys []string
	meta     map[string]any
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{
		data: make(map[string]any),
		meta: make(map[string]any),
	}
}

// FromData creates a context pre-populated with the given data. Keys are
// ordered lexically since the source map carries no order of its own.
func FromData(data map[string]any) *Context {
	c := NewContext()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Set(k, data[k])
	}
	return c
}

// Set stores a value under key, preserving the key's original position when
// the key already exists.
func (c *Context) Set(key string, value any) {
	if _, ok := c.data[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.data[key] = value
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Remove deletes key and returns its previous value.
func (c *Context) Remove(key string) (any, bool) {
	v, ok := c.data[key]
	if !ok {
		return nil, false
	}
	delete(c.data, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Keys returns the data keys in insertion order.
func (c *Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of data entries.
func (c *Context) Len() int {
	return len(c.keys)
}

// Data returns a shallow copy of the data as a plain map.
func (c *Context) Data() map[string]any {
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// SetMetadata stores a metadata value under key.
func (c *Context) SetMetadata(key string, value any) {
	if _, ok := c.meta[key]; !ok {
		c.metaKeys = append(c.metaKeys, key)
	}
	c.meta[key] = value
}

// GetMetadata returns the metadata value stored under key.
func (c *Context) GetMetadata(key string) (any, bool) {
	v, ok := c.meta[key]
	return v, ok
}

// RemoveMetadata deletes a metadata key and returns its previous value.
func (c *Context) RemoveMetadata(key string) (any, bool) {
	v, ok := c.meta[key]
	if !ok {
		return nil, false
	}
	delete(c.meta, key)
	for i, k := range c.metaKeys {
		if k == key {
			c.metaKeys = append(c.metaKeys[:i], c.metaKeys[i+1:]...)
			break
		}
	}
	return v, true
}

// Merge copies all data and metadata entries from other into c, overwriting
// existing keys.
func (c *Context) Merge(other *Context) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		c.Set(k, other.data[k])
	}
	for _, k := range other.metaKeys {
		c.SetMetadata(k, other.meta[k])
	}
}

// Clone returns a copy of the context. Values are copied shallowly; nested
// maps and slices are shared with the original.
func (c *Context) Clone() *Context {
	out := NewContext()
	out.Merge(c)
	return out
}

// GetString returns the value under key as a string.
func (c *Context) GetString(key string) string {
	if v, ok := c.data[key].(string); ok {
		return v
	}
	return ""
}

// GetStringWithDefault returns the value under key as a string with default.
func (c *Context) GetStringWithDefault(key, defaultVal string) string {
	if v, ok := c.data[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// GetBool returns the value under key as a bool.
func (c *Context) GetBool(key string) bool {
	if v, ok := c.data[key].(bool); ok {
		return v
	}
	return false
}

// GetInt returns the value under key as an int.
func (c *Context) GetInt(key string) int {
	switch v := c.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}

// GetFloat returns the value under key as a float64.
func (c *Context) GetFloat(key string) float64 {
	switch v := c.data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}

// GetSlice returns the value under key as a slice.
func (c *Context) GetSlice(key string) []any {
	if v, ok := c.data[key].([]any); ok {
		return v
	}
	return nil
}

// GetStringSlice returns the value under key as a string slice, skipping
// non-string elements.
func (c *Context) GetStringSlice(key string) []string {
	slice := c.GetSlice(key)
	if slice == nil {
		return nil
	}
	result := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// GetMap returns the value under key as a map.
func (c *Context) GetMap(key string) map[string]any {
	if v, ok := c.data[key].(map[string]any); ok {
		return v
	}
	return nil
}

// MarshalJSON serializes the context as {"data": {...}, "metadata": {...}},
// writing the data object's keys in insertion order.
func (c *Context) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"data":`)
	if err := writeOrderedObject(&buf, c.keys, c.data); err != nil {
		return nil, err
	}
	buf.WriteString(`,"metadata":`)
	if err := writeOrderedObject(&buf, c.metaKeys, c.meta); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeOrderedObject(buf *bytes.Buffer, keys []string, values map[string]any) error {
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(values[k])
		if err != nil {
			return err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return nil
}

// UnmarshalJSON restores a context serialized by MarshalJSON. Key order is
// recovered from the document's object order.
func (c *Context) UnmarshalJSON(b []byte) error {
	var envelope struct {
		Data     json.RawMessage `json:"data"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return err
	}
	c.keys = nil
	c.data = make(map[string]any)
	c.metaKeys = nil
	c.meta = make(map[string]any)
	if len(envelope.Data) > 0 {
		if err := decodeOrdered(envelope.Data, c.Set); err != nil {
			return err
		}
	}
	if len(envelope.Metadata) > 0 {
		if err := decodeOrdered(envelope.Metadata, c.SetMetadata); err != nil {
			return err
		}
	}
	return nil
}

// decodeOrdered walks a JSON object token by token so insertion order
// survives the round trip.
func decodeOrdered(raw json.RawMessage, set func(string, any)) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string key, got %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		set(key, value)
	}
	_, err = dec.Token() // closing brace
	return err
}

// String renders the context for logging and debugging.
func (c *Context) String() string {
	b, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Context(marshal error: %v)", err)
	}
	return string(b)
}
