package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/logger"
	"stakex.com/pkg/trace"
)

// StatusReport 国库状态快照，只读，可以频繁轮询
type StatusReport struct {
	TreasuryID             string                    `json:"treasury_id"`
	WalletAddress          string                    `json:"wallet_address"`
	TokenMint              string                    `json:"token_mint"`
	Status                 domain.TreasuryStatus     `json:"status"`
	TotalFunded            decimal.Decimal           `json:"total_funded"`
	TotalDistributed       decimal.Decimal           `json:"total_distributed"`
	AvailableBalance       decimal.Decimal           `json:"available_balance"`
	ReservedForRewards     decimal.Decimal           `json:"reserved_for_rewards"`
	UtilizationRate        decimal.Decimal           `json:"utilization_rate"`
	ActiveStakes           int64                     `json:"active_stakes"`
	PendingRewards         decimal.Decimal           `json:"pending_rewards"`
	DistributionInProgress bool                      `json:"distribution_in_progress"`
	LastUpdated            time.Time                 `json:"last_updated"`
	LastBatch              *domain.DistributionBatch `json:"last_batch,omitempty"`
	RecentDistributions    []domain.Distribution     `json:"recent_distributions"`
}

type Reporter struct {
	repo     domain.TreasuryRepo
	stakes   domain.StakeRegistry
	ledger   domain.LedgerRepo
	scanner  *Scanner
	locker   domain.BatchLocker
	settings Settings
}

func NewReporter(repo domain.TreasuryRepo, stakes domain.StakeRegistry, ledger domain.LedgerRepo,
	scanner *Scanner, locker domain.BatchLocker, settings Settings) *Reporter {
	return &Reporter{
		repo:     repo,
		stakes:   stakes,
		ledger:   ledger,
		scanner:  scanner,
		locker:   locker,
		settings: settings,
	}
}

func (r *Reporter) Status(ctx context.Context) (*StatusReport, error) {
	ctx, span := trace.Tracer().Start(ctx, "treasury.status")
	defer span.End()

	t, err := r.repo.GetTreasury(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrTreasuryNotInitialized
	}

	active, err := r.stakes.CountActiveStakes(ctx)
	if err != nil {
		return nil, err
	}

	// 扫描失败不影响状态查询，待发奖励按 0 展示
	pending := decimal.Zero
	if scan, err := r.scanner.Scan(ctx); err != nil {
		logger.Warn(ctx, "⚠️ 状态查询时扫描失败，待发奖励按 0 处理", zap.Error(err))
	} else {
		pending = scan.TotalRewardsOwed
	}

	recent, err := r.ledger.RecentDistributions(ctx, r.settings.RecentLimit)
	if err != nil {
		return nil, err
	}
	lastBatch, err := r.ledger.LastBatch(ctx)
	if err != nil {
		return nil, err
	}

	// 租约在哪个后端就问哪个后端
	inFlight, err := r.locker.InFlight(ctx)
	if err != nil {
		logger.Warn(ctx, "⚠️ 查询批次租约失败，按未执行处理", zap.Error(err))
		inFlight = false
	}

	return &StatusReport{
		TreasuryID:             t.TreasuryID,
		WalletAddress:          t.WalletAddress,
		TokenMint:              t.TokenMint,
		Status:                 t.Status,
		TotalFunded:            t.TotalFunded,
		TotalDistributed:       t.TotalDistributed,
		AvailableBalance:       t.AvailableBalance,
		ReservedForRewards:     t.ReservedForRewards,
		UtilizationRate:        t.UtilizationRate().Round(4),
		ActiveStakes:           active,
		PendingRewards:         pending,
		DistributionInProgress: inFlight,
		LastUpdated:            t.LastUpdated,
		LastBatch:              lastBatch,
		RecentDistributions:    recent,
	}, nil
}
