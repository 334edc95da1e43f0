// Package store holds the normalized entity state of the console.
//
// State is immutable per version: every operation returns a new value and
// never mutates a map that a previous version handed out. Readers can keep a
// State for as long as they like without locking.
package store

import (
	"encoding/json"
	"sort"
)

// Entity is any record keyed by an integer identifier.
type Entity interface {
	Key() int
}

// Table is a copy-on-write collection of entities keyed by id.
type Table[T Entity] struct {
	items map[int]T
}

// NewTable builds a table from items. Later items win on duplicate ids.
func NewTable[T Entity](items ...T) Table[T] {
	return Table[T]{}.UpsertMany(items)
}

// Get returns the entity stored under id.
func (t Table[T]) Get(id int) (T, bool) {
	v, ok := t.items[id]
	return v, ok
}

// Has reports whether id is present.
func (t Table[T]) Has(id int) bool {
	_, ok := t.items[id]
	return ok
}

func (t Table[T]) Len() int { return len(t.items) }

// List returns all entities ordered by id.
func (t Table[T]) List() []T {
	out := make([]T, 0, len(t.items))
	for _, v := range t.items {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// UpsertMany replaces or inserts each item by id, keeping every other entry.
func (t Table[T]) UpsertMany(items []T) Table[T] {
	if len(items) == 0 {
		return t
	}
	next := t.clone(len(items))
	for _, it := range items {
		next[it.Key()] = it
	}
	return Table[T]{items: next}
}

// UpsertOne replaces or inserts a single item.
func (t Table[T]) UpsertOne(item T) Table[T] {
	next := t.clone(1)
	next[item.Key()] = item
	return Table[T]{items: next}
}

// RemoveOne deletes id. Removing an absent id returns the table unchanged.
func (t Table[T]) RemoveOne(id int) Table[T] {
	if !t.Has(id) {
		return t
	}
	next := t.clone(0)
	delete(next, id)
	return Table[T]{items: next}
}

// Clear returns an empty table.
func (t Table[T]) Clear() Table[T] {
	return Table[T]{}
}

// Update applies fn to the entity under id. The second result is false, and
// the table is returned unchanged, when id is absent.
func (t Table[T]) Update(id int, fn func(T) T) (Table[T], bool) {
	cur, ok := t.items[id]
	if !ok {
		return t, false
	}
	next := t.clone(0)
	next[id] = fn(cur)
	return Table[T]{items: next}, true
}

func (t Table[T]) clone(extra int) map[int]T {
	next := make(map[int]T, len(t.items)+extra)
	for k, v := range t.items {
		next[k] = v
	}
	return next
}

// MarshalJSON encodes the table as an id-ordered list.
func (t Table[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.List())
}

// UnmarshalJSON decodes a list produced by MarshalJSON.
func (t *Table[T]) UnmarshalJSON(b []byte) error {
	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*t = NewTable(items...)
	return nil
}
