// Package cache provides the in-process image cache used by the slot binder.
package cache

import "reflect"

// Store is the contract the binder and the slot registry need from a cache.
// Both methods are pure in-memory operations and must be safe for concurrent use.
type Store[K comparable, V any] interface {
	// Get retrieves a value, reporting whether it was resident.
	Get(key K) (V, bool)
	// Put inserts or overwrites a value. Empty values are ignored.
	Put(key K, value V)
}

// Emptier can be implemented by cached values that have their own notion of
// "nothing to store", e.g. an image handle with no decoded pixels.
type Emptier interface {
	Empty() bool
}

// isEmpty reports whether a value should be refused by Put.
func isEmpty[V any](v V) bool {
	if e, ok := any(v).(Emptier); ok {
		return e.Empty()
	}
	return reflect.ValueOf(&v).Elem().IsZero()
}
