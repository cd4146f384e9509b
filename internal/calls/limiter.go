package calls

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sagar-j-gurav/whatsapp-calling/pkg/utils"
)

// activeCallsKey is the shared counter for in-flight calls. The gateway mixes
// every call, so the cap is process-global, not per number.
const activeCallsKey = "calls:active"

// activeCallTTL bounds how long a leaked slot can linger after a crash.
const activeCallTTL = 4 * time.Hour

// ConcurrencyLimiter guards gateway capacity. Acquire returns false when the
// cap is reached.
type ConcurrencyLimiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLimiter implements ConcurrencyLimiter on the shared Redis counter.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
}

func NewRedisLimiter(rdb *redis.Client, limit int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit}
}

func (l *RedisLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, activeCallsKey, l.limit, activeCallTTL)
}

func (l *RedisLimiter) Release(ctx context.Context) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, activeCallsKey)
}
