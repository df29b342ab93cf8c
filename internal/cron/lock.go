package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 5 * time.Minute

// Lock elects the single cron-worker replica allowed to run sweeps.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	// Refresh extends a held lease; false means leadership was lost.
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a leader lease keyed per worker kind. The owner token lets
// only the replica that took the lease extend or drop it.
type RedisLock struct {
	store  leaseStore
	key    string
	ttl    time.Duration
	prefix string
	owner  string
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration, instanceID string) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl, prefix: instanceID}, nil
}

func (l *RedisLock) TTL() time.Duration { return l.ttl }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	if l.prefix != "" {
		owner = l.prefix + ":" + owner
	}
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

func (l *RedisLock) Refresh(ctx context.Context) (bool, error) {
	if l.owner == "" {
		return false, nil
	}
	ok, err := l.store.CompareAndExpire(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("refresh lease: %w", err)
	}
	if !ok {
		l.owner = ""
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	if _, err := l.store.CompareAndDelete(ctx, l.key, owner); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
