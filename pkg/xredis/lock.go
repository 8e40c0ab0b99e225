package xredis

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 释放锁：只有 token 对得上才删，防止误删别人的锁
// KEYS[1]: 锁的 key
// ARGV[1]: 锁的 token
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// 续期：同样要求 token 一致
// ARGV[2]: 过期时间（毫秒）
const refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`

type DistLock struct {
	client     *redis.Client
	key        string
	token      string        // 谁加锁谁解锁
	expiration time.Duration // 自动过期，持有者挂掉后锁也会释放
}

// NewDistLock 每次调用生成新的 token，同一个实例不要并发复用
func NewDistLock(client *redis.Client, key string, expiration time.Duration) *DistLock {
	return &DistLock{
		client:     client,
		key:        key,
		token:      uuid.New().String(),
		expiration: expiration,
	}
}

func (l *DistLock) Token() string { return l.token }

// TryLock 非阻塞，一次性 (SET NX PX)
func (l *DistLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
}

// Lock 自旋重试 retryTimes 次，带随机抖动
func (l *DistLock) Lock(ctx context.Context, retryTimes int, retryInterval time.Duration) (bool, error) {
	for i := 0; i < retryTimes; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return false, err
		}
		if success {
			return true, nil
		}

		sleepTime := retryInterval + time.Duration(rand.Intn(10))*time.Millisecond
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleepTime):
		}
	}
	return false, nil
}

// Unlock 返回 false 表示锁已过期或已被别人持有
func (l *DistLock) Unlock(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Refresh 延长过期时间，返回 false 表示锁已经不是自己的
func (l *DistLock) Refresh(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.token, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
