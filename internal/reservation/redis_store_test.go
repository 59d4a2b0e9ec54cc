package reservation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestAcquire_FirstWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "saree-1", "ORD-A", DefaultWindow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	ok, err = store.Acquire(ctx, "saree-1", "ORD-B", DefaultWindow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second acquire to be rejected")
	}

	holder, found, err := store.Peek(ctx, "saree-1")
	if err != nil || !found {
		t.Fatalf("peek: found=%v err=%v", found, err)
	}
	if holder != "ORD-A" {
		t.Errorf("expected holder ORD-A, got %s", holder)
	}
}

func TestAcquire_Concurrent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.Acquire(ctx, "hot-saree", fmt.Sprintf("ORD-%d", i), DefaultWindow)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestAcquire_AfterExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if ok, _ := store.Acquire(ctx, "saree-1", "ORD-A", DefaultWindow); !ok {
		t.Fatal("expected acquire to succeed")
	}

	mr.FastForward(DefaultWindow)

	if _, found, _ := store.Peek(ctx, "saree-1"); found {
		t.Error("expected reservation to be gone after the window")
	}
	ok, err := store.Acquire(ctx, "saree-1", "ORD-B", DefaultWindow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected acquire to succeed after expiry")
	}
}

func TestAcquire_RejectsNonPositiveTTL(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Acquire(context.Background(), "saree-1", "ORD-A", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestRelease_OnlyHolder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Acquire(ctx, "saree-1", "ORD-A", DefaultWindow)

	if err := store.Release(ctx, "saree-1", "ORD-B"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if holder, found, _ := store.Peek(ctx, "saree-1"); !found || holder != "ORD-A" {
		t.Fatalf("foreign release must not drop the entry, got %q found=%v", holder, found)
	}

	if err := store.Release(ctx, "saree-1", "ORD-A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, found, _ := store.Peek(ctx, "saree-1"); found {
		t.Error("expected entry to be released")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.Acquire(ctx, "saree-1", "ORD-A", time.Minute)
	mr.FastForward(2 * time.Minute)

	for i := 0; i < 2; i++ {
		if err := store.Release(ctx, "saree-1", "ORD-A"); err != nil {
			t.Fatalf("release #%d: unexpected error: %v", i+1, err)
		}
	}
}

func TestExtend(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.Acquire(ctx, "saree-1", "ORD-A", DefaultWindow)
	mr.FastForward(10 * time.Minute)

	remaining, ok, err := store.Extend(ctx, "saree-1", "ORD-A", DefaultExtension)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected holder to extend")
	}
	if remaining != 15*time.Minute {
		t.Errorf("expected 15m remaining, got %s", remaining)
	}

	// 5m left of the original window plus 10m extension.
	mr.FastForward(14 * time.Minute)
	if _, found, _ := store.Peek(ctx, "saree-1"); !found {
		t.Error("expected reservation to outlive its original window")
	}
	mr.FastForward(time.Minute)
	if _, found, _ := store.Peek(ctx, "saree-1"); found {
		t.Error("expected reservation to expire after the extension")
	}
}

func TestExtend_NotHolder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Acquire(ctx, "saree-1", "ORD-A", DefaultWindow)

	if _, ok, err := store.Extend(ctx, "saree-1", "ORD-B", DefaultExtension); err != nil || ok {
		t.Errorf("expected foreign extend to be refused, ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Extend(ctx, "missing", "ORD-A", DefaultExtension); err != nil || ok {
		t.Errorf("expected extend on missing key to be refused, ok=%v err=%v", ok, err)
	}
}
