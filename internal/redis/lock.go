package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lock is a distributed mutex on top of SETNX. The TTL bounds how long
// a crashed holder can block other instances.
type Lock struct {
	client *redis.Client
	logger *zap.Logger
}

func NewLock(client *redis.Client, logger *zap.Logger) *Lock {
	return &Lock{client: client, logger: logger}
}

// Acquire takes the lock for key. Returns false when another holder
// has it.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, "locked", ttl).Result()
}

// Release drops the lock. Failure here is tolerable, the TTL expires
// the key anyway.
func (l *Lock) Release(ctx context.Context, key string) {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		l.logger.Warn("Failed to release lock",
			zap.String("key", key),
			zap.Error(err))
	}
}
