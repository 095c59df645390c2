// Package lock serializes stock-count submissions per shop. A lock never
// spans more than one store transaction and is not retried on contention.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

var ErrLocked = errors.New("another stock count is in progress for this shop")

// ShopLocker hands out one exclusive lock per shop and scope.
type ShopLocker interface {
	Acquire(ctx context.Context, scope string, shopID string) (release func(), err error)
}

type NoopLocker struct{}

func (NoopLocker) Acquire(_ context.Context, _ string, _ string) (func(), error) {
	return func() {}, nil
}

// LocalLocker is an in-process try-lock used with the memory store.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, scope string, shopID string) (func(), error) {
	key := lockKey(scope, shopID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// RedisLocker shares the lock across server replicas. The TTL bounds how long
// a crashed holder can block the shop.
type RedisLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{locker: redislock.New(client), ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, scope string, shopID string) (func(), error) {
	obtained, err := l.locker.Obtain(ctx, lockKey(scope, shopID), l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain shop lock: %w", err)
	}
	return func() {
		// A detached context so the release still runs after the request is cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obtained.Release(releaseCtx)
	}, nil
}

func lockKey(scope string, shopID string) string {
	return fmt.Sprintf("lock:%s:%s", scope, shopID)
}
