package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ExecutionLocker serializes processing of a single execution:
// at most one in-flight process call per execution ID. Acquire returns
// ErrLockContention when another holder is active; the caller retries
// with backoff rather than treating it as failure.
type ExecutionLocker interface {
	Acquire(ctx context.Context, executionID uuid.UUID) (release func(), err error)
}

// releaseScript deletes the lock key only if we still own it, so an
// expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements ExecutionLocker with SET NX PX on a shared
// Redis instance, making the mutual exclusion hold across processes.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a Redis-backed execution locker. The TTL
// bounds how long a crashed holder can block an execution.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, executionID uuid.UUID) (func(), error) {
	key := fmt.Sprintf("docflow:execlock:%s", executionID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire execution lock: %w", err)
	}
	if !ok {
		return nil, ErrLockContention
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release must not be tied to the caller's (possibly
			// cancelled) context.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
		})
	}

	return release, nil
}

// MemoryLocker is a process-local ExecutionLocker for tests and
// single-node deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]bool
}

// NewMemoryLocker creates an in-process execution locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[uuid.UUID]bool)}
}

func (l *MemoryLocker) Acquire(_ context.Context, executionID uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks[executionID] {
		return nil, ErrLockContention
	}
	l.locks[executionID] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.locks, executionID)
			l.mu.Unlock()
		})
	}

	return release, nil
}
