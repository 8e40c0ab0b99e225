package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stakex.com/apps/treasury/internal/core/service"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/apps/treasury/internal/infra/lock"
	"stakex.com/apps/treasury/internal/infra/persistence"
)

func TestDistribute_InsufficientBalanceAbortsWholeBatch(t *testing.T) {
	h := newHarness(t, harnessOpt{})
	ctx := context.Background()

	h.addStake(t, "a", "5517", false) // 一年约 400
	h.addStake(t, "b", "2759", false) // 一年约 200
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(500))
	require.NoError(t, err)
	h.clock.Advance(oneYear)

	owed := h.expectedReward(t, "5517", false, oneYear).Add(h.expectedReward(t, "2759", false, oneYear))
	require.True(t, owed.GreaterThan(decimal.NewFromInt(500)))

	res, err := h.distributor.Distribute(ctx)
	assert.Nil(t, res)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	var ib *domain.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, "500", ib.Available.String())
	assert.True(t, ib.Required.Equal(owed))
	assert.True(t, ib.Shortfall().Equal(owed.Sub(decimal.NewFromInt(500))))

	// 账本、质押、发放记录都不动
	tr := h.ledger(t)
	assert.Equal(t, "500", tr.AvailableBalance.String())
	assert.True(t, tr.TotalDistributed.IsZero())
	assert.Empty(t, tr.BatchLockToken, "中止后释放租约")
	for _, id := range []string{"a", "b"} {
		s := h.stake(t, id)
		assert.Nil(t, s.LastRewardTime)
		assert.True(t, s.TotalRewardsEarned.IsZero())
	}
	recent, err := h.repo.RecentDistributions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	last, err := h.repo.LastBatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, domain.BatchAborted, last.Outcome)
	assert.Contains(t, last.AbortReason, "shortfall")

	// 补足资金后重试可以结算；两笔都低于门槛 1000，全部跳过
	_, err = h.treasury.Fund(ctx, decimal.NewFromInt(1000), "top-up")
	require.NoError(t, err)
	res, err = h.distributor.Distribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, "1500", res.RemainingBalance.String())
}

func TestDistribute_ThresholdSkipIsNonDestructive(t *testing.T) {
	h := newHarness(t, harnessOpt{})
	ctx := context.Background()

	h.addStake(t, "big", "16552", false)  // 一年约 1200
	h.addStake(t, "small", "5517", false) // 一年约 400，低于门槛 1000
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(2000))
	require.NoError(t, err)
	h.clock.Advance(oneYear)

	bigReward := h.expectedReward(t, "16552", false, oneYear)

	res, err := h.distributor.Distribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Failed)
	require.Len(t, res.Distributions, 1)
	assert.Equal(t, "big", res.Distributions[0].StakeID)
	assert.True(t, res.TotalDistributed.Equal(bigReward))
	assert.True(t, res.RemainingBalance.Equal(decimal.NewFromInt(2000).Sub(bigReward)))

	tr := h.ledger(t)
	assert.True(t, tr.AvailableBalance.Equal(decimal.NewFromInt(2000).Sub(bigReward)))
	assert.True(t, tr.TotalDistributed.Equal(bigReward))
	assert.True(t, tr.Balanced())

	big := h.stake(t, "big")
	require.NotNil(t, big.LastRewardTime)
	assert.True(t, big.LastRewardTime.Equal(genesis.Add(oneYear)))
	assert.True(t, big.TotalRewardsEarned.Equal(bigReward))

	small := h.stake(t, "small")
	assert.Nil(t, small.LastRewardTime, "低于门槛的质押不推进时间")
	assert.True(t, small.TotalRewardsEarned.IsZero())

	// 再过一年，small 从原基准累计两年
	h.clock.Advance(oneYear)
	scan, err := h.scanner.Scan(ctx)
	require.NoError(t, err)
	for _, e := range scan.Entries {
		if e.StakeID == "small" {
			assert.True(t, e.Baseline.Equal(genesis))
			assert.Equal(t, "730", e.DaysElapsed.String())
		}
		if e.StakeID == "big" {
			assert.Equal(t, "365", e.DaysElapsed.String())
		}
	}
}

func TestDistribute_FailedStakeIsIsolated(t *testing.T) {
	h := newHarness(t, harnessOpt{
		stakes: func(repo *persistence.Repo) domain.StakeRegistry {
			return &flakyRegistry{Repo: repo, failStake: "s2"}
		},
		tweak: func(s *service.Settings) { s.MinimumClaimThreshold = decimal.Zero },
	})
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		h.addStake(t, id, "1000", false)
	}
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(1000))
	require.NoError(t, err)
	h.clock.Advance(oneYear)

	each := h.expectedReward(t, "1000", false, oneYear)

	res, err := h.distributor.Distribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.FailedDistributions, 1)
	assert.Equal(t, "s2", res.FailedDistributions[0].StakeID)
	assert.NotEmpty(t, res.FailedDistributions[0].Error)
	assert.True(t, res.TotalOwed.Equal(each.Mul(decimal.NewFromInt(3))))
	assert.True(t, res.TotalDistributed.Equal(each.Mul(decimal.NewFromInt(2))))

	// 失败的质押保持原基准，下次重试
	assert.Nil(t, h.stake(t, "s2").LastRewardTime)
	assert.NotNil(t, h.stake(t, "s1").LastRewardTime)

	tr := h.ledger(t)
	assert.True(t, tr.TotalDistributed.Equal(each.Mul(decimal.NewFromInt(2))))
	assert.True(t, tr.Balanced())

	last, err := h.repo.LastBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchSettled, last.Outcome)
	assert.Equal(t, 1, last.Failed)
}

func TestDistribute_LedgerConservation(t *testing.T) {
	h := newHarness(t, harnessOpt{tweak: func(s *service.Settings) {
		s.MinimumClaimThreshold = decimal.RequireFromString("0.5")
	}})
	ctx := context.Background()

	h.addStake(t, "m1", "12000", true)
	h.addStake(t, "n1", "8000", false)
	h.addStake(t, "n2", "30", false)
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(3000))
	require.NoError(t, err)

	steps := []struct {
		advance time.Duration
		fund    string
	}{
		{24 * time.Hour, ""},
		{7 * 24 * time.Hour, "250"},
		{90 * 24 * time.Hour, ""},
		{6 * time.Hour, "10.125"},
		{200 * 24 * time.Hour, ""},
	}
	for i, st := range steps {
		h.clock.Advance(st.advance)
		if st.fund != "" {
			_, err := h.treasury.Fund(ctx, decimal.RequireFromString(st.fund), "ops")
			require.NoError(t, err)
			assert.True(t, h.ledger(t).Balanced(), "step %d after fund", i)
		}
		_, err := h.distributor.Distribute(ctx)
		require.NoError(t, err, "step %d", i)
		assert.True(t, h.ledger(t).Balanced(), "step %d after distribute", i)
	}

	// 发放记录之和 == total_distributed，注资记录之和 == total_funded
	tr := h.ledger(t)
	all, err := h.repo.RecentDistributions(ctx, 0)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, d := range all {
		sum = sum.Add(d.Amount)
	}
	assert.True(t, sum.Equal(tr.TotalDistributed), "sum=%s total=%s", sum, tr.TotalDistributed)

	fundings, err := h.repo.ListFundings(ctx)
	require.NoError(t, err)
	funded := decimal.Zero
	for _, f := range fundings {
		funded = funded.Add(f.Amount)
	}
	assert.True(t, funded.Equal(tr.TotalFunded))

	// 每个质押的累计奖励等于它名下发放记录之和
	for _, id := range []string{"m1", "n1", "n2"} {
		own := decimal.Zero
		for _, d := range all {
			if d.StakeID == id {
				own = own.Add(d.Amount)
			}
		}
		assert.True(t, h.stake(t, id).TotalRewardsEarned.Equal(own), id)
	}
}

func TestDistribute_BatchInProgress(t *testing.T) {
	h := newHarness(t, harnessOpt{tweak: func(s *service.Settings) { s.MinimumClaimThreshold = decimal.Zero }})
	ctx := context.Background()

	h.addStake(t, "s1", "1000", false)
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(1000))
	require.NoError(t, err)
	h.clock.Advance(oneYear)

	// 另一个批次持有租约
	lease, err := h.locker.Acquire(ctx)
	require.NoError(t, err)

	_, err = h.distributor.Distribute(ctx)
	assert.ErrorIs(t, err, domain.ErrBatchInProgress)
	assert.Nil(t, h.stake(t, "s1").LastRewardTime)

	// 注资不受批次影响
	_, err = h.treasury.Fund(ctx, decimal.NewFromInt(5), "ops")
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	res, err := h.distributor.Distribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestDistribute_PausedAndUninitialized(t *testing.T) {
	h := newHarness(t, harnessOpt{tweak: func(s *service.Settings) { s.MinimumClaimThreshold = decimal.Zero }})
	ctx := context.Background()

	_, err := h.distributor.Distribute(ctx)
	assert.ErrorIs(t, err, domain.ErrTreasuryNotInitialized)

	h.addStake(t, "s1", "1000", false)
	_, err = h.treasury.Initialize(ctx, decimal.NewFromInt(1000))
	require.NoError(t, err)
	h.clock.Advance(oneYear)
	require.NoError(t, h.treasury.Pause(ctx))

	_, err = h.distributor.Distribute(ctx)
	assert.ErrorIs(t, err, domain.ErrTreasuryPaused)
	assert.Nil(t, h.stake(t, "s1").LastRewardTime)
	last, err := h.repo.LastBatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "暂停时不写任何记录")

	require.NoError(t, h.treasury.Resume(ctx))
	res, err := h.distributor.Distribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestDistribute_NothingOwed(t *testing.T) {
	h := newHarness(t, harnessOpt{})
	ctx := context.Background()
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)

	res, err := h.distributor.Distribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Succeeded)
	assert.True(t, res.TotalDistributed.IsZero())
	assert.Equal(t, "10", res.RemainingBalance.String())
}

func TestDistribute_LeaseTakenOverDuringScan(t *testing.T) {
	var (
		h     *harness
		rival domain.BatchLease
	)
	h = newHarness(t, harnessOpt{
		tweak: func(s *service.Settings) { s.MinimumClaimThreshold = decimal.Zero },
		stakes: func(repo *persistence.Repo) domain.StakeRegistry {
			return &slowRegistry{Repo: repo, beforeList: func(ctx context.Context) {
				// 扫描超过租约时长，另一个批次接管
				h.clock.Advance(11 * time.Minute)
				lease, err := h.locker.Acquire(ctx)
				require.NoError(t, err)
				rival = lease
			}}
		},
	})
	ctx := context.Background()

	h.addStake(t, "s1", "1000", false)
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(1000))
	require.NoError(t, err)
	h.clock.Advance(oneYear)

	_, err = h.distributor.Distribute(ctx)
	assert.ErrorIs(t, err, domain.ErrBatchLeaseLost)
	require.NotNil(t, rival)

	// 失去租约的批次什么都没写
	assert.Nil(t, h.stake(t, "s1").LastRewardTime)
	tr := h.ledger(t)
	assert.Equal(t, "1000", tr.AvailableBalance.String())
	assert.True(t, tr.TotalDistributed.IsZero())

	// 旧批次退出时不会释放新持有者的租约
	inFlight, err := h.locker.InFlight(ctx)
	require.NoError(t, err)
	assert.True(t, inFlight)

	require.NoError(t, rival.Release(ctx))
	res, err := h.distributor.Distribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestDistribute_SlowScanRenewsLease(t *testing.T) {
	var (
		h        *harness
		rivalErr error
	)
	h = newHarness(t, harnessOpt{
		tweak: func(s *service.Settings) { s.MinimumClaimThreshold = decimal.Zero },
		stakes: func(repo *persistence.Repo) domain.StakeRegistry {
			return &slowRegistry{Repo: repo, beforeList: func(context.Context) {
				h.clock.Advance(11 * time.Minute)
			}}
		},
		locker: func(l *lock.LedgerLock) domain.BatchLocker {
			return &hookedLocker{LedgerLock: l, afterRenew: func(ctx context.Context, n int) {
				if n == 2 {
					// 发放期间别的批次拿不到租约
					_, rivalErr = l.Acquire(ctx)
				}
			}}
		},
	})
	ctx := context.Background()

	h.addStake(t, "s1", "1000", false)
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(1000))
	require.NoError(t, err)
	h.clock.Advance(oneYear)

	res, err := h.distributor.Distribute(ctx)
	require.NoError(t, err, "扫描超时但没人接管，续租后照常完成")
	assert.Equal(t, 1, res.Succeeded)
	assert.ErrorIs(t, rivalErr, domain.ErrBatchInProgress)

	tr := h.ledger(t)
	assert.True(t, tr.TotalDistributed.Equal(res.TotalDistributed))
	assert.True(t, tr.Balanced())
	assert.Empty(t, tr.BatchLockToken, "结束后租约已释放")
}

func TestDistribute_SettleRefusedAfterTakeover(t *testing.T) {
	var (
		h     *harness
		rival domain.BatchLease
	)
	h = newHarness(t, harnessOpt{
		tweak: func(s *service.Settings) { s.MinimumClaimThreshold = decimal.Zero },
		locker: func(l *lock.LedgerLock) domain.BatchLocker {
			return &hookedLocker{LedgerLock: l, afterRenew: func(ctx context.Context, n int) {
				if n == 2 {
					// 派发第一笔之后批次卡住超过租约时长，另一个批次接管
					h.clock.Advance(11 * time.Minute)
					lease, err := l.Acquire(ctx)
					require.NoError(t, err)
					rival = lease
				}
			}}
		},
	})
	ctx := context.Background()

	h.addStake(t, "s1", "1000", false)
	_, err := h.treasury.Initialize(ctx, decimal.NewFromInt(1000))
	require.NoError(t, err)
	h.clock.Advance(oneYear)

	_, err = h.distributor.Distribute(ctx)
	assert.ErrorIs(t, err, domain.ErrBatchLeaseLost)
	require.NotNil(t, rival)

	// 不是持有者就不能动账本，也没有 settled 批次
	tr := h.ledger(t)
	assert.True(t, tr.TotalDistributed.IsZero())
	assert.Equal(t, "1000", tr.AvailableBalance.String())
	last, err := h.repo.LastBatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	inFlight, err := h.locker.InFlight(ctx)
	require.NoError(t, err)
	assert.True(t, inFlight, "新持有者的租约还在")
	require.NoError(t, rival.Release(ctx))
}
