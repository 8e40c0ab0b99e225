package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/apps/treasury/internal/infra/lock"
	"stakex.com/apps/treasury/internal/infra/persistence"
	"stakex.com/pkg/orm"
)

func newLedgerLock(t *testing.T, withTreasury bool) (*lock.LedgerLock, *persistence.Repo, *clockwork.FakeClock) {
	t.Helper()
	db, err := orm.NewSQLiteMemory()
	require.NoError(t, err)
	require.NoError(t, persistence.AutoMigrate(db))
	repo := persistence.New(db)

	if withTreasury {
		require.NoError(t, repo.CreateTreasury(context.Background(), &domain.Treasury{
			TreasuryID:       domain.MainTreasuryID,
			TotalFunded:      decimal.Zero,
			TotalDistributed: decimal.Zero,
			AvailableBalance: decimal.Zero,
			Status:           domain.TreasuryActive,
		}))
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	return lock.NewLedgerLock(repo, clock, 10*time.Minute), repo, clock
}

func TestLedgerLock_Exclusive(t *testing.T) {
	l, repo, _ := newLedgerLock(t, true)
	ctx := context.Background()

	lease, err := l.Acquire(ctx)
	require.NoError(t, err)

	inFlight, err := l.InFlight(ctx)
	require.NoError(t, err)
	assert.True(t, inFlight)

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, domain.ErrBatchInProgress, "同一时刻只能有一个批次")

	require.NoError(t, lease.Release(ctx))
	tr, _ := repo.GetTreasury(ctx)
	assert.Equal(t, "", tr.BatchLockToken)

	inFlight, err = l.InFlight(ctx)
	require.NoError(t, err)
	assert.False(t, inFlight)

	lease2, err := l.Acquire(ctx)
	require.NoError(t, err, "释放后可以再次获取")
	require.NoError(t, lease2.Release(ctx))
}

func TestLedgerLock_RenewExtendsLease(t *testing.T) {
	l, repo, clock := newLedgerLock(t, true)
	ctx := context.Background()

	lease, err := l.Acquire(ctx)
	require.NoError(t, err)

	// 长批次：每过一段就续期，始终不会被接管
	for i := 0; i < 3; i++ {
		clock.Advance(8 * time.Minute)
		require.NoError(t, lease.Renew(ctx))

		_, err = l.Acquire(ctx)
		assert.ErrorIs(t, err, domain.ErrBatchInProgress)
	}

	tr, _ := repo.GetTreasury(ctx)
	require.NotNil(t, tr.BatchLockUntil)
	assert.True(t, tr.BatchLockUntil.Equal(clock.Now().UTC().Add(10*time.Minute)))
	require.NoError(t, lease.Release(ctx))
}

func TestLedgerLock_ExpiredLeaseTakenOver(t *testing.T) {
	l, repo, clock := newLedgerLock(t, true)
	ctx := context.Background()

	stale, err := l.Acquire(ctx)
	require.NoError(t, err)

	// 持有者卡住，租约过期
	clock.Advance(11 * time.Minute)

	inFlight, err := l.InFlight(ctx)
	require.NoError(t, err)
	assert.False(t, inFlight, "过期租约不算在执行")

	lease, err := l.Acquire(ctx)
	require.NoError(t, err)

	// 旧持有者续期失败，释放也不影响新租约
	assert.ErrorIs(t, stale.Renew(ctx), domain.ErrBatchLeaseLost)
	require.NoError(t, stale.Release(ctx))
	tr, _ := repo.GetTreasury(ctx)
	assert.NotEmpty(t, tr.BatchLockToken)
	assert.True(t, tr.BatchInFlight(clock.Now()))

	require.NoError(t, lease.Renew(ctx))
	require.NoError(t, lease.Release(ctx))
}

func TestLedgerLock_ExpiredButNotTakenOverCanRenew(t *testing.T) {
	l, _, clock := newLedgerLock(t, true)
	ctx := context.Background()

	lease, err := l.Acquire(ctx)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	require.NoError(t, lease.Renew(ctx), "没人接管时 token 还是自己的")

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, domain.ErrBatchInProgress)
	require.NoError(t, lease.Release(ctx))
}

func TestLedgerLock_NotInitialized(t *testing.T) {
	l, _, _ := newLedgerLock(t, false)
	_, err := l.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrTreasuryNotInitialized)

	inFlight, err := l.InFlight(context.Background())
	require.NoError(t, err)
	assert.False(t, inFlight)
}
