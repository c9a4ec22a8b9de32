// Package index provides in-memory keyed sets whose keys are derived from the
// stored values. None of the types here are safe for concurrent use; callers
// serialize access themselves.
package index

import (
	"errors"
	"iter"
	"maps"
)

// ErrNoKey is returned when a value cannot produce a key.
var ErrNoKey = errors.New("value has no key")

// KeyFunc derives the key of a value. It returns ok=false when the value is
// not eligible for indexing.
type KeyFunc[K comparable, E any] func(E) (K, bool)

// Keyed stores at most one value per derived key. The key is computed once,
// on Put; changing whatever the key was derived from afterwards leaves the
// value filed under its old key.
type Keyed[K comparable, E any] struct {
	keyOf KeyFunc[K, E]
	items map[K]E
}

func NewKeyed[K comparable, E any](keyOf KeyFunc[K, E]) *Keyed[K, E] {
	return &Keyed[K, E]{
		keyOf: keyOf,
		items: make(map[K]E),
	}
}

// KeyOf exposes the key derivation so callers can test it in isolation.
func (k *Keyed[K, E]) KeyOf(e E) (K, bool) {
	return k.keyOf(e)
}

// Put stores e under its derived key, replacing any value already there.
// The replaced value, if any, is returned.
func (k *Keyed[K, E]) Put(e E) (prev E, replaced bool, err error) {
	key, ok := k.keyOf(e)
	if !ok {
		return prev, false, ErrNoKey
	}
	prev, replaced = k.items[key]
	k.items[key] = e
	return prev, replaced, nil
}

func (k *Keyed[K, E]) Get(key K) (E, bool) {
	e, ok := k.items[key]
	return e, ok
}

// Delete removes the value stored under key and reports whether one existed.
func (k *Keyed[K, E]) Delete(key K) bool {
	if _, ok := k.items[key]; !ok {
		return false
	}
	delete(k.items, key)
	return true
}

// Clear drops every entry.
func (k *Keyed[K, E]) Clear() {
	clear(k.items)
}

func (k *Keyed[K, E]) Len() int {
	return len(k.items)
}

// All yields the stored values in unspecified order. Each call starts a new
// pass over the current contents.
func (k *Keyed[K, E]) All() iter.Seq[E] {
	return maps.Values(k.items)
}

func (k *Keyed[K, E]) Keys() iter.Seq[K] {
	return maps.Keys(k.items)
}
