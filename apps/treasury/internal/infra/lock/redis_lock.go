package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/logger"
	"stakex.com/pkg/xredis"
)

const DefaultRedisKey = "stakex:treasury:batch_lock"

// RedisLock 多实例部署时用 Redis 做批次互斥
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ domain.BatchLocker = (*RedisLock)(nil)

func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (domain.BatchLease, error) {
	dl := xredis.NewDistLock(l.client, l.key, l.ttl)
	ok, err := dl.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrBatchInProgress
	}
	return &redisLease{key: l.key, dl: dl}, nil
}

// InFlight key 还在就说明有批次持有锁，过期由 Redis 负责
func (l *RedisLock) InFlight(ctx context.Context) (bool, error) {
	n, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type redisLease struct {
	key string
	dl  *xredis.DistLock
}

func (le *redisLease) Renew(ctx context.Context) error {
	ok, err := le.dl.Refresh(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn(ctx, "🚨 批次锁已过期或被接管", zap.String("key", le.key))
		return domain.ErrBatchLeaseLost
	}
	return nil
}

func (le *redisLease) Release(ctx context.Context) error {
	released, err := le.dl.Unlock(ctx)
	if err != nil {
		return err
	}
	if !released {
		logger.Warn(ctx, "批次锁已过期，跳过释放", zap.String("key", le.key))
	}
	return nil
}
