package store

import (
	"context"
	"sort"
	"sync"
)

type memoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]Entry
}

// NewMemory constructs an in-process partition store. Writes are whole-value
// overwrites, so concurrent fetches for the same key resolve last-write-wins.
func NewMemory() Store {
	return &memoryStore{partitions: make(map[string]map[string]Entry)}
}

func (s *memoryStore) Get(_ context.Context, partition, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.partitions[partition]
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return entry.Clone(), true, nil
}

func (s *memoryStore) Put(_ context.Context, partition, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.partitions[partition]
	if !ok {
		entries = make(map[string]Entry)
		s.partitions[partition] = entries
	}
	entries[key] = entry.Clone()
	return nil
}

func (s *memoryStore) Keys(_ context.Context, partition string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.partitions[partition]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memoryStore) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) DeletePartition(_ context.Context, partition string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[partition]; !ok {
		return false, nil
	}
	delete(s.partitions, partition)
	return true, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
