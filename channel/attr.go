// File: channel/attr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"sort"
	"sync"
)

// AttributeKey names a typed value stored on a channel.
type AttributeKey[T any] struct{ name string }

// NewAttributeKey returns the key for name. Keys with the same name refer
// to the same slot regardless of T.
func NewAttributeKey[T any](name string) AttributeKey[T] { return AttributeKey[T]{name: name} }

func (k AttributeKey[T]) Name() string { return k.name }

// Attributes is a thread-safe set of named values. Unlike the rest of the
// channel it may be used from any goroutine.
type Attributes struct {
	mu    sync.RWMutex
	store map[string]any
}

// Get returns the value for name.
func (a *Attributes) Get(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.store[name]
	return v, ok
}

// Set stores v under name.
func (a *Attributes) Set(name string, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		a.store = make(map[string]any)
	}
	a.store[name] = v
}

// SetIfAbsent stores v unless name is present. It returns the value held
// afterwards and whether it was already there.
func (a *Attributes) SetIfAbsent(name string, v any) (actual any, loaded bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.store[name]; ok {
		return cur, true
	}
	if a.store == nil {
		a.store = make(map[string]any)
	}
	a.store[name] = v
	return v, false
}

// Delete removes name and returns the value it held.
func (a *Attributes) Delete(name string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.store[name]
	delete(a.store, name)
	return v, ok
}

// Keys returns the names in use, sorted.
func (a *Attributes) Keys() []string {
	a.mu.RLock()
	keys := make([]string, 0, len(a.store))
	for k := range a.store {
		keys = append(keys, k)
	}
	a.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Attrs returns the attribute set of the channel.
func (c *Channel) Attrs() *Attributes { return &c.attrs }

// Attr returns the value under k. A value of another type reports false.
func Attr[T any](c *Channel, k AttributeKey[T]) (T, bool) {
	v, ok := c.attrs.Get(k.name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// SetAttr stores v under k.
func SetAttr[T any](c *Channel, k AttributeKey[T], v T) { c.attrs.Set(k.name, v) }
