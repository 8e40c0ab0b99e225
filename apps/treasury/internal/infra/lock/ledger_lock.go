package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/logger"
)

// leaseStore 国库行上的租约字段
type leaseStore interface {
	GetTreasury(ctx context.Context) (*domain.Treasury, error)
	SwapBatchLock(ctx context.Context, expect, next string, until *time.Time) (bool, error)
}

// LedgerLock 把批次租约记在国库行上，不依赖外部组件
// 租约过期后（持有者崩溃）下一个批次可以直接接管
type LedgerLock struct {
	store leaseStore
	clock clockwork.Clock
	ttl   time.Duration
}

var _ domain.BatchLocker = (*LedgerLock)(nil)

func NewLedgerLock(store leaseStore, clock clockwork.Clock, ttl time.Duration) *LedgerLock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LedgerLock{store: store, clock: clock, ttl: ttl}
}

func (l *LedgerLock) Acquire(ctx context.Context) (domain.BatchLease, error) {
	t, err := l.store.GetTreasury(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrTreasuryNotInitialized
	}

	now := l.clock.Now().UTC()
	if t.BatchInFlight(now) {
		return nil, domain.ErrBatchInProgress
	}
	if t.BatchLockToken != "" {
		logger.Warn(ctx, "⚠️ 接管过期的批次租约",
			zap.String("stale_token", t.BatchLockToken),
			zap.Timep("stale_until", t.BatchLockUntil))
	}

	token := uuid.NewString()
	until := now.Add(l.ttl)
	ok, err := l.store.SwapBatchLock(ctx, t.BatchLockToken, token, &until)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrBatchInProgress
	}
	return &ledgerLease{lock: l, token: token}, nil
}

func (l *LedgerLock) InFlight(ctx context.Context) (bool, error) {
	t, err := l.store.GetTreasury(ctx)
	if err != nil || t == nil {
		return false, err
	}
	return t.BatchInFlight(l.clock.Now().UTC()), nil
}

// ledgerLease 所有写入都以 token 为条件，被接管后续期和释放都会落空
type ledgerLease struct {
	lock  *LedgerLock
	token string
}

// Renew 传事务 ctx 时和账本写入同一个事务，token 变了整个事务回滚
func (le *ledgerLease) Renew(ctx context.Context) error {
	until := le.lock.clock.Now().UTC().Add(le.lock.ttl)
	ok, err := le.lock.store.SwapBatchLock(ctx, le.token, le.token, &until)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn(ctx, "🚨 批次租约已被接管", zap.String("token", le.token))
		return domain.ErrBatchLeaseLost
	}
	return nil
}

func (le *ledgerLease) Release(ctx context.Context) error {
	released, err := le.lock.store.SwapBatchLock(ctx, le.token, "", nil)
	if err != nil {
		return err
	}
	if !released {
		logger.Warn(ctx, "批次租约已被接管，跳过释放", zap.String("token", le.token))
	}
	return nil
}
