package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/logger"
	"stakex.com/pkg/metrics"
	"stakex.com/pkg/trace"
	"stakex.com/pkg/xerr"
)

// DistributionResult 一个批次的结果
type DistributionResult struct {
	BatchID             string                `json:"batch_id"`
	TotalOwed           decimal.Decimal       `json:"total_owed"`
	TotalDistributed    decimal.Decimal       `json:"total_distributed"`
	Succeeded           int                   `json:"succeeded"`
	Failed              int                   `json:"failed"`
	Skipped             int                   `json:"skipped"`
	FailedDistributions []FailedDistribution  `json:"failed_distributions"`
	Distributions       []domain.Distribution `json:"distributions"`
	RemainingBalance    decimal.Decimal       `json:"remaining_balance"`
	DistributedAt       time.Time             `json:"distributed_at"`
}

// FailedDistribution 单笔失败，下个批次会从同一基准重新计算
type FailedDistribution struct {
	StakeID string          `json:"stake_id"`
	Amount  decimal.Decimal `json:"amount"`
	Error   string          `json:"error"`
}

// Distributor 分发引擎：SCANNING -> SOLVENCY_CHECK -> {ABORTED | DISTRIBUTING -> SETTLED}
type Distributor struct {
	repo     domain.TreasuryRepo
	stakes   domain.StakeRegistry
	ledger   domain.LedgerRepo
	scanner  *Scanner
	locker   domain.BatchLocker
	clock    clockwork.Clock
	settings Settings
}

func NewDistributor(repo domain.TreasuryRepo, stakes domain.StakeRegistry, ledger domain.LedgerRepo,
	scanner *Scanner, locker domain.BatchLocker, clock clockwork.Clock, settings Settings) *Distributor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Distributor{
		repo:     repo,
		stakes:   stakes,
		ledger:   ledger,
		scanner:  scanner,
		locker:   locker,
		clock:    clock,
		settings: settings,
	}
}

// Distribute 跑一个完整批次
// 整批偿付不足时不动账本和质押，只留一条 aborted 批次，返回 *domain.InsufficientBalanceError
// 单笔失败只记录在结果里，不影响其他质押
func (d *Distributor) Distribute(ctx context.Context) (res *DistributionResult, err error) {
	startedAt := d.clock.Now().UTC()
	batchID := fmt.Sprintf("batch_%d_%s", startedAt.Unix(), uuid.NewString()[:8])
	ctx = logger.WithBatchID(ctx, batchID)

	ctx, span := trace.Tracer().Start(ctx, "treasury.distribute")
	span.SetAttributes(attribute.String("batch_id", batchID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.BatchDuration.Observe(d.clock.Since(startedAt).Seconds())
	}()

	t, err := d.repo.GetTreasury(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrTreasuryNotInitialized
	}
	if t.Status == domain.TreasuryPaused {
		metrics.BatchTotal.WithLabelValues(string(domain.BatchAborted), "paused").Inc()
		return nil, domain.ErrTreasuryPaused
	}

	lease, err := d.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrBatchInProgress) {
			metrics.BatchTotal.WithLabelValues(string(domain.BatchAborted), "in_progress").Inc()
			logger.Warn(ctx, "已有批次在执行，本次跳过")
		}
		return nil, err
	}
	defer func() {
		// 批次结束一定释放，调用方取消也要释放
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.Error(ctx, "❌ 释放批次锁失败", zap.Error(relErr))
		}
	}()

	logger.Info(ctx, "🚀 分发批次开始")

	// 1. SCANNING
	scan, err := d.scanner.Scan(ctx)
	if err != nil {
		metrics.BatchTotal.WithLabelValues(string(domain.BatchAborted), "scan_failure").Inc()
		logger.Error(ctx, "❌ 扫描失败，批次中止", zap.Error(err))
		return nil, err
	}
	// 扫描可能很慢，确认租约还在再往下走
	if err := lease.Renew(ctx); err != nil {
		metrics.BatchTotal.WithLabelValues(string(domain.BatchAborted), "lease_lost").Inc()
		logger.Error(ctx, "❌ 扫描后租约已失效，批次中止", zap.Error(err))
		return nil, err
	}

	// 2. SOLVENCY_CHECK：拿锁之后重新读账本
	t, err = d.repo.GetTreasury(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrTreasuryNotInitialized
	}
	if t.AvailableBalance.LessThan(scan.TotalRewardsOwed) {
		ib := &domain.InsufficientBalanceError{Required: scan.TotalRewardsOwed, Available: t.AvailableBalance}
		d.recordAbort(ctx, batchID, startedAt, scan, ib)
		return nil, ib
	}

	// 3. DISTRIBUTING
	res = &DistributionResult{
		BatchID:             batchID,
		TotalOwed:           scan.TotalRewardsOwed,
		TotalDistributed:    decimal.Zero,
		FailedDistributions: make([]FailedDistribution, 0),
		Distributions:       make([]domain.Distribution, 0),
	}
	if err := d.payoutAll(ctx, batchID, lease, scan, res); err != nil {
		// 已经发出去的照常结算，没发的下个批次重算
		logger.Error(ctx, "❌ 发放中途续租失败，停止派发", zap.Error(err))
	}

	// 4. SETTLED
	finishedAt := d.clock.Now().UTC()
	remaining, err := d.settle(ctx, batchID, lease, startedAt, finishedAt, res)
	if err != nil {
		if errors.Is(err, domain.ErrBatchLeaseLost) {
			metrics.BatchTotal.WithLabelValues(string(domain.BatchAborted), "lease_lost").Inc()
		}
		// 质押已经入账但账本没扣，必须人工介入
		logger.Error(ctx, "🚨 账本结算失败，质押奖励已发放",
			zap.String("distributed", res.TotalDistributed.String()),
			zap.Error(err))
		return nil, err
	}
	res.RemainingBalance = remaining
	res.DistributedAt = finishedAt

	metrics.BatchTotal.WithLabelValues(string(domain.BatchSettled), "").Inc()
	observeBalance(remaining)
	logger.Info(ctx, "✅ 分发批次完成",
		zap.String("total_owed", res.TotalOwed.String()),
		zap.String("distributed", res.TotalDistributed.String()),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.String("remaining", remaining.String()))
	return res, nil
}

// payoutAll 每个质押一个独立事务，并发数受 PayoutWorkers 限制
// 每派发一笔前续租，续租失败剩下的记为失败并返回该错误
func (d *Distributor) payoutAll(ctx context.Context, batchID string, lease domain.BatchLease, scan *ScanResult, res *DistributionResult) error {
	var (
		mu       sync.Mutex
		g        errgroup.Group
		leaseErr error
	)
	g.SetLimit(d.settings.PayoutWorkers)

	for _, entry := range scan.Entries {
		if entry.Reward.LessThan(d.settings.MinimumClaimThreshold) {
			// 灰尘奖励：不发，也不推进 last_reward_time
			res.Skipped++
			metrics.PayoutTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if leaseErr == nil {
			leaseErr = lease.Renew(ctx)
		}
		if leaseErr != nil {
			mu.Lock()
			res.Failed++
			res.FailedDistributions = append(res.FailedDistributions, FailedDistribution{
				StakeID: entry.StakeID,
				Amount:  entry.Reward,
				Error:   leaseErr.Error(),
			})
			mu.Unlock()
			metrics.PayoutTotal.WithLabelValues("failed").Inc()
			continue
		}

		entry := entry
		g.Go(func() error {
			record, err := d.payout(ctx, batchID, entry, scan.CalculatedAt)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.FailedDistributions = append(res.FailedDistributions, FailedDistribution{
					StakeID: entry.StakeID,
					Amount:  entry.Reward,
					Error:   err.Error(),
				})
				metrics.PayoutTotal.WithLabelValues("failed").Inc()
				logger.Warn(ctx, "⚠️ 单笔发放失败", zap.String("stake_id", entry.StakeID), zap.Error(err))
				return nil
			}
			res.Succeeded++
			res.TotalDistributed = res.TotalDistributed.Add(entry.Reward)
			res.Distributions = append(res.Distributions, *record)
			metrics.PayoutTotal.WithLabelValues("distributed").Inc()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.FailedDistributions, func(i, j int) bool {
		return res.FailedDistributions[i].StakeID < res.FailedDistributions[j].StakeID
	})
	sort.Slice(res.Distributions, func(i, j int) bool {
		return res.Distributions[i].StakeID < res.Distributions[j].StakeID
	})
	return leaseErr
}

// payout 条件更新质押 + 写发放记录，同一个事务
// last_reward_time 推进到扫描时刻，下一次从这里继续计息
func (d *Distributor) payout(ctx context.Context, batchID string, e RewardEntry, paidAt time.Time) (*domain.Distribution, error) {
	record := &domain.Distribution{
		DistributionID:   fmt.Sprintf("dist_%s_%s", e.StakeID, batchID),
		BatchID:          batchID,
		StakeID:          e.StakeID,
		StakerWallet:     e.StakerWallet,
		Amount:           e.Reward,
		APYApplied:       e.APYApplied,
		IsMemberBonus:    e.IsMember,
		DistributionTime: paidAt,
		Status:           domain.DistributionStatusDistributed,
	}

	err := d.repo.Transaction(ctx, func(txCtx context.Context) error {
		if err := d.stakes.CreditReward(txCtx, domain.RewardCredit{
			StakeID:        e.StakeID,
			PrevRewardTime: e.PrevRewardTime,
			Amount:         e.Reward,
			PaidAt:         paidAt,
		}); err != nil {
			return err
		}
		return d.ledger.CreateDistribution(txCtx, record)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPerStakeUpdate) {
			err = xerr.Wrap(xerr.PerStakeUpdateFailure, "payout failed", err)
		}
		return nil, domain.StakeFailure{StakeID: e.StakeID, Err: err}
	}
	return record, nil
}

// settle 账本只更新一次，和批次审计记录同一个事务；版本冲突（并发注资）重试
// 事务内先确认租约仍归本批次，被接管就整体回滚
func (d *Distributor) settle(ctx context.Context, batchID string, lease domain.BatchLease, startedAt, finishedAt time.Time, res *DistributionResult) (decimal.Decimal, error) {
	var remaining decimal.Decimal
	err := withVersionRetry(ctx, d.settings.MaxRetries, d.settings.RetryBackoff, "settle", func() error {
		return d.repo.Transaction(ctx, func(txCtx context.Context) error {
			t, err := d.repo.GetTreasury(txCtx)
			if err != nil {
				return err
			}
			if t == nil {
				return domain.ErrTreasuryNotInitialized
			}
			if err := lease.Renew(txCtx); err != nil {
				return err
			}
			if t.AvailableBalance.LessThan(res.TotalDistributed) {
				return &domain.InsufficientBalanceError{Required: res.TotalDistributed, Available: t.AvailableBalance}
			}

			t.AvailableBalance = t.AvailableBalance.Sub(res.TotalDistributed)
			t.TotalDistributed = t.TotalDistributed.Add(res.TotalDistributed)
			t.LastUpdated = finishedAt
			if err := d.repo.UpdateBalances(txCtx, t); err != nil {
				return err
			}

			if err := d.ledger.CreateBatch(txCtx, &domain.DistributionBatch{
				BatchID:          batchID,
				Outcome:          domain.BatchSettled,
				TotalOwed:        res.TotalOwed,
				TotalDistributed: res.TotalDistributed,
				Succeeded:        res.Succeeded,
				Failed:           res.Failed,
				Skipped:          res.Skipped,
				StartedAt:        startedAt,
				FinishedAt:       finishedAt,
			}); err != nil {
				return err
			}
			remaining = t.AvailableBalance
			return nil
		})
	})
	return remaining, err
}

// recordAbort 偿付不足：只写一条 aborted 审计记录，质押和账本都不动
func (d *Distributor) recordAbort(ctx context.Context, batchID string, startedAt time.Time, scan *ScanResult, ib *domain.InsufficientBalanceError) {
	metrics.BatchTotal.WithLabelValues(string(domain.BatchAborted), "insufficient_balance").Inc()
	logger.Warn(ctx, "🛑 国库余额不足，整批中止",
		zap.String("required", ib.Required.String()),
		zap.String("available", ib.Available.String()),
		zap.String("shortfall", ib.Shortfall().String()),
		zap.Int("entries", scan.StakerCount))

	err := d.ledger.CreateBatch(ctx, &domain.DistributionBatch{
		BatchID:          batchID,
		Outcome:          domain.BatchAborted,
		AbortReason:      ib.Error(),
		TotalOwed:        scan.TotalRewardsOwed,
		TotalDistributed: decimal.Zero,
		Skipped:          scan.StakerCount,
		StartedAt:        startedAt,
		FinishedAt:       d.clock.Now().UTC(),
	})
	if err != nil {
		logger.Error(ctx, "❌ 写入中止批次记录失败", zap.Error(err))
	}
}
