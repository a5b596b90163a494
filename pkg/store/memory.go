package store

import (
	"bytes"
	"sync"
)

// Memory is an in-memory ordered store backed by a skip list. It satisfies
// Store and is safe for concurrent use. Flush is a no-op.
type Memory struct {
	mu   sync.RWMutex
	list *skipList
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{list: newSkipList()}
}

// Get fetches a value by key.
func (m *Memory) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.list.search(key)
	if !ok {
		return nil, false, nil
	}
	return clone(value), true, nil
}

// Set stores a value for a key.
func (m *Memory) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.list.insert(clone(key), clone(value))
	return nil
}

// Delete removes a key.
func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.list.delete(key)
	return nil
}

// Scan returns a double-ended iterator over the range. The iterator does
// not pin a snapshot of the store: each step re-seeks from its remaining
// bounds under the read lock, so writes between steps are observed. Callers
// that need stable iteration coordinate above this layer.
func (m *Memory) Scan(r Range) Iterator {
	return &memoryIterator{store: m, bounds: cloneRange(r)}
}

// Flush is a no-op for the in-memory store.
func (m *Memory) Flush() error {
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list.len()
}

// memoryIterator walks a range by narrowing its bounds after every step.
// The two ends share the bounds, so they terminate when they cross.
type memoryIterator struct {
	store  *Memory
	bounds Range
}

// Next yields the next pair from the front of the range.
func (it *memoryIterator) Next() ([]byte, []byte, bool) {
	it.store.mu.RLock()
	defer it.store.mu.RUnlock()

	var node *skipListNode
	switch it.bounds.Start.Kind {
	case BoundUnbounded:
		node = it.store.list.seekGE(nil)
	case BoundIncluded:
		node = it.store.list.seekGE(it.bounds.Start.Key)
	case BoundExcluded:
		node = it.store.list.seekGT(it.bounds.Start.Key)
	}
	if node == nil || !withinEnd(node.key, it.bounds.End) {
		return nil, nil, false
	}

	key := clone(node.key)
	it.bounds.Start = Exclude(key)
	return key, clone(node.value), true
}

// NextBack yields the next pair from the back of the range.
func (it *memoryIterator) NextBack() ([]byte, []byte, bool) {
	it.store.mu.RLock()
	defer it.store.mu.RUnlock()

	var node *skipListNode
	switch it.bounds.End.Kind {
	case BoundUnbounded:
		node = it.store.list.last()
	case BoundIncluded:
		node = it.store.list.seekLT(it.bounds.End.Key, true)
	case BoundExcluded:
		node = it.store.list.seekLT(it.bounds.End.Key, false)
	}
	if node == nil || !withinStart(node.key, it.bounds.Start) {
		return nil, nil, false
	}

	key := clone(node.key)
	it.bounds.End = Exclude(key)
	return key, clone(node.value), true
}

// Err always reports nil: the in-memory store cannot fail mid-scan.
func (it *memoryIterator) Err() error {
	return nil
}

func withinStart(key []byte, b Bound) bool {
	switch b.Kind {
	case BoundIncluded:
		return bytes.Compare(key, b.Key) >= 0
	case BoundExcluded:
		return bytes.Compare(key, b.Key) > 0
	default:
		return true
	}
}

func withinEnd(key []byte, b Bound) bool {
	switch b.Kind {
	case BoundIncluded:
		return bytes.Compare(key, b.Key) <= 0
	case BoundExcluded:
		return bytes.Compare(key, b.Key) < 0
	default:
		return true
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneRange(r Range) Range {
	if r.Start.Kind != BoundUnbounded {
		r.Start.Key = clone(r.Start.Key)
	}
	if r.End.Kind != BoundUnbounded {
		r.End.Key = clone(r.End.Key)
	}
	return r
}
