package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client), mr
}

func TestRedisLocker_Exclusive(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.TryAcquire(ctx, "sessionRefundMutexLock:s1", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if ttl := mr.TTL("sessionRefundMutexLock:s1"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
	if _, err := l.TryAcquire(ctx, "sessionRefundMutexLock:s1", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second TryAcquire err = %v, want ErrLocked", err)
	}
	if _, err := l.TryAcquire(ctx, "sessionRefundMutexLock:s2", time.Minute); err != nil {
		t.Errorf("other key: %v", err)
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if mr.Exists("sessionRefundMutexLock:s1") {
		t.Error("key still exists after unlock")
	}
	if _, err := l.TryAcquire(ctx, "sessionRefundMutexLock:s1", time.Minute); err != nil {
		t.Errorf("TryAcquire after unlock: %v", err)
	}
}

func TestRedisLocker_ExpiredUnlockKeepsNewOwner(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	stale, err := l.TryAcquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	mr.FastForward(61 * time.Second)
	if _, err := l.TryAcquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("TryAcquire after expiry: %v", err)
	}
	if err := stale(ctx); err != nil {
		t.Fatalf("stale unlock: %v", err)
	}
	if !mr.Exists("k") {
		t.Error("stale unlock removed the new owner's lock")
	}
}

func TestMemoryLocker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLocker(func() time.Time { return now })
	ctx := context.Background()

	stale, err := l.TryAcquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if _, err := l.TryAcquire(ctx, "k", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	now = now.Add(2 * time.Minute)
	fresh, err := l.TryAcquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire after expiry: %v", err)
	}
	_ = stale(ctx)
	if _, err := l.TryAcquire(ctx, "k", time.Minute); !errors.Is(err, ErrLocked) {
		t.Error("stale unlock released the new owner's lock")
	}
	_ = fresh(ctx)
	if _, err := l.TryAcquire(ctx, "k", time.Minute); err != nil {
		t.Errorf("TryAcquire after release: %v", err)
	}
}

func TestMemoryLocker_ConcurrentOneWinner(t *testing.T) {
	l := NewMemoryLocker(nil)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryAcquire(context.Background(), "k", time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
}
