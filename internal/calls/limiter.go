package calls

import (
	"context"
	"sync"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ConcurrencyLimiter caps simultaneous authorized calls per account.
type ConcurrencyLimiter interface {
	Acquire(ctx context.Context, accountID string, limit int) (bool, error)
	Release(ctx context.Context, accountID string) error
}

const limiterKeyPrefix = "billing:concurrent_calls:"

// RedisLimiter enforces the cap across processes with an atomic Lua
// acquire/release; the TTL releases slots leaked by a crash.
type RedisLimiter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLimiter(rdb *redis.Client, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 45 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, accountID string, limit int) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, limiterKeyPrefix+accountID, limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, accountID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, limiterKeyPrefix+accountID)
}

// MemoryLimiter is a single-process limiter for tests and redis-less runs.
type MemoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counts: make(map[string]int)}
}

func (l *MemoryLimiter) Acquire(ctx context.Context, accountID string, limit int) (bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit > 0 && l.counts[accountID] >= limit {
		return false, nil
	}
	l.counts[accountID]++
	return true, nil
}

func (l *MemoryLimiter) Release(ctx context.Context, accountID string) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[accountID] > 0 {
		l.counts[accountID]--
	}
	if l.counts[accountID] == 0 {
		delete(l.counts, accountID)
	}
	return nil
}
