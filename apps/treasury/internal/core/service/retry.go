package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/logger"
)

// withVersionRetry 乐观锁冲突时整笔事务重跑，其他错误直接返回
func withVersionRetry(ctx context.Context, attempts int, backoff time.Duration, op string, fn func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		err = fn()
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		logger.Warn(ctx, "账本版本冲突，重试",
			zap.String("op", op),
			zap.Int("attempt", i),
			zap.Int("max", attempts))

		if i < attempts && backoff > 0 {
			// 线性退避加随机抖动
			wait := backoff*time.Duration(i) + time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return err
}
