package cron

import (
	"context"
	"strings"
	"testing"
	"time"
)

type memoryStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) CompareAndExpire(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

const testLockKey = "foodops:cron_lock:cron-worker"

func TestRedisLockExcludesSecondWorker(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	first, err := NewRedisLock(store, testLockKey, 0, "worker-a")
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, testLockKey, 0, "worker-b")

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	if store.ttls[testLockKey] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", store.ttls[testLockKey])
	}
	if !strings.HasPrefix(store.values[testLockKey], "worker-a:") {
		t.Fatalf("expected owner token to carry instance id, got %q", store.values[testLockKey])
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("expected second worker to be excluded")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := store.values[testLockKey]; !ok {
		t.Fatal("lock released by non-owner")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected acquire after owner release")
	}
}

func TestRedisLockRefreshDetectsLostLease(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	lock, _ := NewRedisLock(store, testLockKey, time.Minute, "")

	if held, _ := lock.Refresh(ctx); held {
		t.Fatal("refresh without acquire should report not held")
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	store.ttls[testLockKey] = time.Second
	if held, err := lock.Refresh(ctx); err != nil || !held {
		t.Fatalf("expected refresh, held=%v err=%v", held, err)
	}
	if store.ttls[testLockKey] != time.Minute {
		t.Fatalf("expected ttl reset to 1m, got %s", store.ttls[testLockKey])
	}

	// lease expired and another replica took it
	store.values[testLockKey] = "worker-z:other"
	if held, _ := lock.Refresh(ctx); held {
		t.Fatal("expected lost lease")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if store.values[testLockKey] != "worker-z:other" {
		t.Fatal("release must not drop another replica's lease")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0, ""); err == nil {
		t.Fatal("expected nil client error")
	}
	if _, err := NewRedisLock(newMemoryStore(), "", 0, ""); err == nil {
		t.Fatal("expected empty key error")
	}
}
