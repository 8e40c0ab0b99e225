package service

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"stakex.com/apps/treasury/internal/core/accrual"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/logger"
	"stakex.com/pkg/trace"
	"stakex.com/pkg/xerr"
)

// RewardEntry 一个质押本次应得的奖励
type RewardEntry struct {
	StakeID        string          `json:"stake_id"`
	StakerWallet   string          `json:"staker_wallet"`
	Principal      decimal.Decimal `json:"principal"`
	Reward         decimal.Decimal `json:"reward"`
	APYApplied     decimal.Decimal `json:"apy_applied"`
	IsMember       bool            `json:"is_member"`
	DaysElapsed    decimal.Decimal `json:"days_elapsed"`
	Baseline       time.Time       `json:"baseline"`
	PrevRewardTime *time.Time      `json:"-"`
}

type ScanResult struct {
	Entries          []RewardEntry   `json:"entries"`
	TotalRewardsOwed decimal.Decimal `json:"total_rewards_owed"`
	StakerCount      int             `json:"staker_count"`
	CalculatedAt     time.Time       `json:"calculated_at"`
}

// Scanner 只读：列出 active 质押并计算应发奖励
type Scanner struct {
	stakes  domain.StakeRegistry
	members domain.MembershipDirectory // 可为 nil，此时用质押上的 IsMember
	rates   accrual.Rates
	clock   clockwork.Clock
}

func NewScanner(stakes domain.StakeRegistry, members domain.MembershipDirectory, rates accrual.Rates, clock clockwork.Clock) *Scanner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scanner{stakes: stakes, members: members, rates: rates, clock: clock}
}

func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	ctx, span := trace.Tracer().Start(ctx, "treasury.scan")
	defer span.End()

	stakes, err := s.stakes.ListActiveStakes(ctx)
	if err != nil {
		logger.Error(ctx, "❌ 拉取质押列表失败", zap.Error(err))
		return nil, xerr.Wrap(xerr.ScanFailure, "list active stakes failed", err)
	}

	now := s.clock.Now().UTC()
	result := &ScanResult{
		Entries:          make([]RewardEntry, 0, len(stakes)),
		TotalRewardsOwed: decimal.Zero,
		CalculatedAt:     now,
	}

	for i := range stakes {
		st := &stakes[i]
		if st.Status != domain.StakeActive {
			continue
		}

		isMember, err := s.isMember(ctx, st)
		if err != nil {
			logger.Error(ctx, "❌ 查询会员失败", zap.String("wallet", st.StakerWallet), zap.Error(err))
			return nil, xerr.Wrap(xerr.ScanFailure, "membership lookup failed", err)
		}

		baseline := st.RewardBaseline()
		days := accrual.DaysBetween(baseline, now)
		reward, err := s.rates.Accrue(st.AmountStaked, isMember, days)
		if err != nil {
			// 负本金是登记数据错误，跳过这一条不影响整批
			logger.Warn(ctx, "⚠️ 质押数据异常，跳过", zap.String("stake_id", st.StakeID), zap.Error(err))
			continue
		}
		if !reward.IsPositive() {
			continue
		}

		result.Entries = append(result.Entries, RewardEntry{
			StakeID:        st.StakeID,
			StakerWallet:   st.StakerWallet,
			Principal:      st.AmountStaked,
			Reward:         reward,
			APYApplied:     s.rates.APY(isMember),
			IsMember:       isMember,
			DaysElapsed:    days,
			Baseline:       baseline,
			PrevRewardTime: st.LastRewardTime,
		})
		result.TotalRewardsOwed = result.TotalRewardsOwed.Add(reward)
	}
	result.StakerCount = len(result.Entries)

	span.SetAttributes(
		attribute.Int("stakes", len(stakes)),
		attribute.Int("entries", result.StakerCount),
		attribute.String("total_owed", result.TotalRewardsOwed.String()),
	)
	logger.Debug(ctx, "扫描完成",
		zap.Int("active", len(stakes)),
		zap.Int("owed", result.StakerCount),
		zap.String("total", result.TotalRewardsOwed.String()))
	return result, nil
}

func (s *Scanner) isMember(ctx context.Context, st *domain.Stake) (bool, error) {
	if s.members == nil {
		return st.IsMember, nil
	}
	return s.members.IsMember(ctx, st.StakerWallet)
}
