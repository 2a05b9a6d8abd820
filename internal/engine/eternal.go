package engine

import (
	"fmt"

	"github.com/nvandessel/worldline/internal/fact"
)

// Eternal is the key/value map that exists outside of time: values do not
// depend on the branch or tick and survive restarts.
type Eternal struct {
	e *Engine
}

// Eternal returns the engine's eternal map.
func (e *Engine) Eternal() Eternal { return Eternal{e: e} }

// Get returns the value stored under key.
func (x Eternal) Get(key string) (any, bool) {
	if err := x.e.lock(); err != nil {
		return nil, false
	}
	defer x.e.mu.Unlock()
	f, err := x.e.facts.GetExact(TableEternal, fact.Key{key}, 0, 0)
	if err != nil || f.Tombstone() {
		return nil, false
	}
	return f.Value, true
}

// Set stores v under key. A nil value deletes the key.
func (x Eternal) Set(key string, v any) error {
	if key == "" {
		return fmt.Errorf("eternal key is required")
	}
	if err := x.e.lock(); err != nil {
		return err
	}
	defer x.e.mu.Unlock()
	return x.e.facts.Put(TableEternal, fact.Key{key}, 0, 0, v)
}

// Delete removes key.
func (x Eternal) Delete(key string) error {
	return x.Set(key, nil)
}

// Keys lists the keys that hold a value, sorted.
func (x Eternal) Keys() []string {
	if err := x.e.lock(); err != nil {
		return nil
	}
	defer x.e.mu.Unlock()
	var out []string
	for _, k := range x.e.facts.Keys(TableEternal, nil) {
		if f, err := x.e.facts.GetExact(TableEternal, k, 0, 0); err == nil && !f.Tombstone() {
			out = append(out, k[0])
		}
	}
	return out
}

// All returns every key with its value.
func (x Eternal) All() map[string]any {
	out := make(map[string]any)
	for _, k := range x.Keys() {
		if v, ok := x.Get(k); ok {
			out[k] = v
		}
	}
	return out
}
