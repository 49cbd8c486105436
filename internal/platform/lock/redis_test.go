package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-lessons/internal/platform/lock"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	ctr, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}

	addr, err := ctr.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		t.Fatalf("PortEndpoint() error = %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedis_CancelledContextIsNotAcquired(t *testing.T) {
	// Nothing listens on this address; the cancelled context wins first.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	locker := lock.NewRedis(client, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Lock(ctx, "k"); !errors.Is(err, lock.ErrNotAcquired) {
		t.Errorf("Lock() error = %v, want ErrNotAcquired", err)
	}
}

func TestRedis_SerialisesSameKey(t *testing.T) {
	client := newRedisClient(t)
	locker := lock.NewRedis(client, 5*time.Second)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "u1|L1")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max holders = %d, want 1", maxSeen)
	}
}

func TestRedis_TimesOutWhileHeld(t *testing.T) {
	client := newRedisClient(t)
	locker := lock.NewRedis(client, 5*time.Second)

	unlock, err := locker.Lock(context.Background(), "u1|L1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "u1|L1"); !errors.Is(err, lock.ErrNotAcquired) {
		t.Errorf("Lock() error = %v, want ErrNotAcquired", err)
	}
}

func TestRedis_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	client := newRedisClient(t)
	locker := lock.NewRedis(client, 50*time.Millisecond)
	ctx := context.Background()

	unlockOld, err := locker.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	other := lock.NewRedis(client, 5*time.Second)
	unlockNew, err := other.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("Lock() after expiry error = %v", err)
	}
	defer unlockNew()

	// The stale holder must not delete the new holder's key.
	unlockOld()
	n, err := client.Exists(ctx, "lesson-lock:k").Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if n != 1 {
		t.Error("stale unlock released a lock it no longer held")
	}
}
