package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. It is correct only for a single
// instance and exists for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[Key]*Counter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[Key]*Counter), now: time.Now}
}

func (s *MemoryStore) Reserve(_ context.Context, key Key, limit int64) (int64, bool, error) {
	if err := key.validate(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &Counter{Key: key}
	}
	if c.Count >= limit {
		return c.Count, false, nil
	}
	c.Count++
	c.UpdatedAt = s.now()
	s.counters[key] = c
	return c.Count, true, nil
}

func (s *MemoryStore) Count(_ context.Context, key Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[key]; ok {
		return c.Count, nil
	}
	return 0, nil
}

func (s *MemoryStore) ListBefore(_ context.Context, beforeDay string) ([]Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Counter
	for k, c := range s.counters {
		if k.Day < beforeDay {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, beforeDay string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.counters {
		if k.Day < beforeDay {
			delete(s.counters, k)
			n++
		}
	}
	return n, nil
}
