package devotp

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, "+15555550100", "123456", time.Now().UTC().Add(5*time.Minute))

	code, ok := store.Get(ctx, "+15555550100")
	if !ok {
		t.Fatal("Get should return the code after Put")
	}
	if code != "123456" {
		t.Errorf("code = %q, want %q", code, "123456")
	}
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().UTC().Add(time.Minute)
	store.Put(ctx, "+15555550100", "111111", exp)
	store.Put(ctx, "+15555550100", "222222", exp)
	if code, _ := store.Get(ctx, "+15555550100"); code != "222222" {
		t.Errorf("code = %q, want latest %q", code, "222222")
	}
}

func TestMemoryStore_Get_Missing(t *testing.T) {
	store := NewMemoryStore()
	code, ok := store.Get(context.Background(), "+15555550199")
	if ok || code != "" {
		t.Errorf("Get = %q, %v; want empty, false", code, ok)
	}
}

func TestMemoryStore_Get_Expired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.nowF = func() time.Time { return now }
	ctx := context.Background()

	store.Put(ctx, "+15555550100", "123456", now.Add(time.Minute))
	now = now.Add(time.Minute)
	if _, ok := store.Get(ctx, "+15555550100"); ok {
		t.Error("Get should return false at expiry")
	}
	store.mu.RLock()
	_, present := store.m["+15555550100"]
	store.mu.RUnlock()
	if present {
		t.Error("expired entry should be removed")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().UTC().Add(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Put(ctx, "+15555550100", "123456", exp)
		}()
		go func() {
			defer wg.Done()
			store.Get(ctx, "+15555550100")
		}()
	}
	wg.Wait()
}
