package stepflow

import (
	"encoding/json"
	"strings"
	"sync"
)

// DataBag is the execution-scoped key-value store mutated by step executors.
// All access goes through the lock, so parallel branches share one bag with
// last-write-wins semantics per key instead of racing on a bare map.
type DataBag struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewDataBag(initial map[string]any) *DataBag {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}

	return &DataBag{values: values}
}

func (b *DataBag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	val, ok := b.values[key]

	return val, ok
}

func (b *DataBag) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
}

func (b *DataBag) Merge(values map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range values {
		b.values[k] = v
	}
}

// Lookup resolves a dot path ("order.amount") against the bag. A missing
// intermediate key yields (nil, false), never an error.
func (b *DataBag) Lookup(path string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return lookupPath(b.values, path)
}

// Snapshot returns a shallow copy of the top-level map.
func (b *DataBag) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}

	return out
}

func (b *DataBag) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.values)
}

func (b *DataBag) clone() *DataBag {
	return NewDataBag(b.Snapshot())
}

func (b *DataBag) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

func (b *DataBag) UnmarshalJSON(data []byte) error {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = values
	if b.values == nil {
		b.values = make(map[string]any)
	}

	return nil
}

func lookupPath(values map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = values
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
