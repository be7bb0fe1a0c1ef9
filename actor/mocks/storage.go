package mocks

import (
	"context"
	"sync"
)

// MemoryDataset keeps pushed items in memory.
type MemoryDataset struct {
	Err error

	mu    sync.Mutex
	items []any
}

func (d *MemoryDataset) PushData(ctx context.Context, item any) error {
	if d.Err != nil {
		return d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, item)
	return nil
}

func (d *MemoryDataset) Close() error { return nil }

// Items returns the pushed items in order.
func (d *MemoryDataset) Items() []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]any(nil), d.items...)
}

// MemoryKeyValueStore keeps values in memory.
type MemoryKeyValueStore struct {
	Err error

	mu     sync.Mutex
	values map[string]any
}

func (s *MemoryKeyValueStore) SetValue(ctx context.Context, key string, value any) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
	return nil
}

func (s *MemoryKeyValueStore) Close() error { return nil }

// Value returns the value stored under key.
func (s *MemoryKeyValueStore) Value(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Len is the number of stored keys.
func (s *MemoryKeyValueStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}
