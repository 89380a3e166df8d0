package queue

import (
	"context"
	"fmt"
	"sync"
)

// Memory is the in-process Channel backend. Items are held in a mutex-guarded
// slice; Get swaps the slice out, so a drain is O(1) regardless of depth.
type Memory struct {
	mu     sync.Mutex
	items  []Item
	closed bool
}

var _ Channel = (*Memory)(nil)

// NewMemory creates an empty in-process channel.
func NewMemory() *Memory {
	return &Memory{}
}

// Put appends one item.
func (m *Memory) Put(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("queue is closed")
	}
	m.items = append(m.items, item)
	return nil
}

// Get removes and returns up to max pending items in arrival order.
func (m *Memory) Get(_ context.Context, max int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return nil, nil
	}
	if max <= 0 || max >= len(m.items) {
		drained := m.items
		m.items = nil
		return drained, nil
	}
	drained := m.items[:max:max]
	m.items = m.items[max:]
	return drained, nil
}

// Depth reports the number of pending items.
func (m *Memory) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close rejects further puts. Pending items remain readable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
