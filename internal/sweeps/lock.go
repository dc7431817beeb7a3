package sweeps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Lock guards a sweep cycle so only one worker replica reconciles at a time.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// Lock TTL outlasts the longest realistic cycle so a crashed holder cannot
// wedge the worker fleet for more than one interval.
const defaultLockTTL = 2 * time.Hour

// RedisLock is a SETNX lock with an owner token so a replica only ever
// releases its own lock.
type RedisLock struct {
	store redisStore
	key   string
	owner string
	ttl   time.Duration
}

func NewRedisLock(store redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, fmt.Errorf("redis store required")
	}
	if key == "" {
		return nil, fmt.Errorf("lock key required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{
		store: store,
		key:   key,
		owner: uuid.NewString(),
		ttl:   ttl,
	}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	acquired, err := l.store.SetNX(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquiring sweep lock: %w", err)
	}
	return acquired, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	holder, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return fmt.Errorf("reading sweep lock: %w", err)
	}
	if holder != l.owner {
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("releasing sweep lock: %w", err)
	}
	return nil
}
