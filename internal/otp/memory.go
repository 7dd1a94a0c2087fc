package otp

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store with an injectable clock.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns an in-memory Store. nowF may be nil to use the wall clock.
func NewMemoryStore(nowF func() time.Time) *MemoryStore {
	if nowF == nil {
		nowF = time.Now
	}
	return &MemoryStore{m: make(map[string]entry), nowF: nowF}
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{value: value, expiresAt: s.nowF().Add(ttl)}
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, key string, accept func(string) bool) (found, accepted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return false, false, nil
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.m, key)
		return false, false, nil
	}
	if !accept(e.value) {
		return true, false, nil
	}
	delete(s.m, key)
	return true, true, nil
}

type window struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is an in-memory fixed-window Counter with an injectable clock.
type MemoryCounter struct {
	mu   sync.Mutex
	m    map[string]window
	nowF func() time.Time
}

// NewMemoryCounter returns an in-memory Counter. nowF may be nil to use the wall clock.
func NewMemoryCounter(nowF func() time.Time) *MemoryCounter {
	if nowF == nil {
		nowF = time.Now
	}
	return &MemoryCounter{m: make(map[string]window), nowF: nowF}
}

func (c *MemoryCounter) Incr(ctx context.Context, key string, d time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowF()
	w, ok := c.m[key]
	if !ok || !w.expiresAt.After(now) {
		w = window{expiresAt: now.Add(d)}
	}
	w.count++
	c.m[key] = w
	return w.count, nil
}
