// internal/state/table.go
package state

import (
	"cmp"
	"slices"
)

// Transactional is implemented by every piece of mutable engine state.
// The core opens a transaction on all of them before dispatching a command
// and either commits or rolls back all of them afterwards.
type Transactional interface {
	Begin()
	Commit()
	Rollback()
}

// Group fans Begin/Commit/Rollback out to its members in order.
type Group []Transactional

func (g Group) Begin() {
	for _, t := range g {
		t.Begin()
	}
}

func (g Group) Commit() {
	for _, t := range g {
		t.Commit()
	}
}

// Rollback undoes members in reverse order.
func (g Group) Rollback() {
	for i := len(g) - 1; i >= 0; i-- {
		g[i].Rollback()
	}
}

type undoEntry[V any] struct {
	value   V
	existed bool
}

// Table is a keyed in-memory store with copy-on-write undo.
// The first write to a key inside a transaction saves the prior value, so
// Rollback restores the table exactly. V must be a plain value type: a V
// holding maps, slices or pointers would alias its saved copy.
//
// Writes outside a transaction apply directly. NOT thread-safe: the core's
// single sequencer goroutine owns every table.
type Table[K comparable, V any] struct {
	name string
	rows map[K]V
	undo map[K]undoEntry[V]
	inTx bool
}

func NewTable[K comparable, V any](name string) *Table[K, V] {
	return &Table[K, V]{
		name: name,
		rows: make(map[K]V),
	}
}

func (t *Table[K, V]) Name() string { return t.name }

func (t *Table[K, V]) Get(k K) (V, bool) {
	v, ok := t.rows[k]
	return v, ok
}

// GetOrZero returns the stored row or the zero value.
func (t *Table[K, V]) GetOrZero(k K) V {
	return t.rows[k]
}

func (t *Table[K, V]) Has(k K) bool {
	_, ok := t.rows[k]
	return ok
}

func (t *Table[K, V]) Put(k K, v V) {
	t.record(k)
	t.rows[k] = v
}

func (t *Table[K, V]) Delete(k K) {
	if _, ok := t.rows[k]; !ok {
		return
	}
	t.record(k)
	delete(t.rows, k)
}

func (t *Table[K, V]) Len() int { return len(t.rows) }

// Range visits rows in unspecified order until fn returns false.
func (t *Table[K, V]) Range(fn func(K, V) bool) {
	for k, v := range t.rows {
		if !fn(k, v) {
			return
		}
	}
}

func (t *Table[K, V]) record(k K) {
	if !t.inTx {
		return
	}
	if _, saved := t.undo[k]; saved {
		return
	}
	prev, existed := t.rows[k]
	t.undo[k] = undoEntry[V]{value: prev, existed: existed}
}

func (t *Table[K, V]) Begin() {
	if t.inTx {
		panic("FATAL: nested transaction on table " + t.name)
	}
	t.inTx = true
	t.undo = make(map[K]undoEntry[V])
}

func (t *Table[K, V]) Commit() {
	t.inTx = false
	t.undo = nil
}

func (t *Table[K, V]) Rollback() {
	for k, u := range t.undo {
		if u.existed {
			t.rows[k] = u.value
		} else {
			delete(t.rows, k)
		}
	}
	t.inTx = false
	t.undo = nil
}

// Touched returns the keys written in the open transaction.
func (t *Table[K, V]) Touched() []K {
	keys := make([]K, 0, len(t.undo))
	for k := range t.undo {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys returns every key ordered by the given comparison.
func SortedKeys[K comparable, V any](t *Table[K, V], less func(a, b K) int) []K {
	keys := make([]K, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, less)
	return keys
}

// StringKeys is SortedKeys for string-keyed tables.
func StringKeys[V any](t *Table[string, V]) []string {
	return SortedKeys(t, cmp.Compare[string])
}

// Cell is a single transactional value.
type Cell[T any] struct {
	value T
	saved T
	dirty bool
	inTx  bool
}

func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

func (c *Cell[T]) Get() T { return c.value }

func (c *Cell[T]) Set(v T) {
	if c.inTx && !c.dirty {
		c.saved = c.value
		c.dirty = true
	}
	c.value = v
}

func (c *Cell[T]) Dirty() bool { return c.dirty }

func (c *Cell[T]) Begin() {
	c.inTx = true
	c.dirty = false
}

func (c *Cell[T]) Commit() {
	c.inTx = false
	c.dirty = false
}

func (c *Cell[T]) Rollback() {
	if c.dirty {
		c.value = c.saved
	}
	c.inTx = false
	c.dirty = false
}
