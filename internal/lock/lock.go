// Package lock provides short-lived exclusive locks keyed by name.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned by TryAcquire when another owner holds the key.
var ErrLocked = errors.New("lock is held")

// Unlock releases a lock. It is safe to call after the lock expired; it never removes another owner's lock.
type Unlock func(ctx context.Context) error

// Locker acquires locks without waiting.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// MemoryLocker is an in-process Locker with the same owner-token semantics as RedisLocker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
	nowF func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

func NewMemoryLocker(nowF func() time.Time) *MemoryLocker {
	if nowF == nil {
		nowF = time.Now
	}
	return &MemoryLocker{held: make(map[string]memoryLease), nowF: nowF}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease, ok := l.held[key]; ok && l.nowF().Before(lease.expires) {
		return nil, ErrLocked
	}
	l.held[key] = memoryLease{token: token, expires: l.nowF().Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[key]; ok && lease.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
