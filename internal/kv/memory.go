package kv

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory. A positive quota caps the
// total size of keys plus values in bytes.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
	used    int
	quota   int
}

func NewMemoryStore(quotaBytes int) *MemoryStore {
	return &MemoryStore{entries: make(map[string]string), quota: quotaBytes}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.used + len(key) + len(value)
	if old, ok := s.entries[key]; ok {
		used -= len(key) + len(old)
	}
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}
	s.entries[key] = value
	s.used = used
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.entries, key)
	}
	return nil
}

// Used returns the bytes currently accounted against the quota.
func (s *MemoryStore) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}
