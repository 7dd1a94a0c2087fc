// Package devotp holds plain OTP codes by phone number for dev OTP mode (GET /dev/otp/{phone}).
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds the last plain code per phone number for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores code for phoneNumber until expiresAt, replacing any earlier code.
	Put(ctx context.Context, phoneNumber, code string, expiresAt time.Time)
	// Get returns the code for phoneNumber if present and not expired.
	Get(ctx context.Context, phoneNumber string) (code string, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Put(ctx context.Context, phoneNumber, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[phoneNumber] = entry{code: code, expiresAt: expiresAt}
}

// Get drops the entry once it has expired.
func (s *MemoryStore) Get(ctx context.Context, phoneNumber string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[phoneNumber]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, phoneNumber)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}
