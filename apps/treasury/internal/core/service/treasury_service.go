package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"stakex.com/apps/treasury/internal/core/accrual"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/logger"
	"stakex.com/pkg/metrics"
	"stakex.com/pkg/trace"
	"stakex.com/pkg/xerr"
)

const initialFundingSource = "initial"

// TreasuryService 国库的初始化、注资、暂停
type TreasuryService struct {
	repo     domain.TreasuryRepo
	ledger   domain.LedgerRepo
	clock    clockwork.Clock
	settings Settings
}

func NewTreasuryService(repo domain.TreasuryRepo, ledger domain.LedgerRepo, clock clockwork.Clock, settings Settings) *TreasuryService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TreasuryService{repo: repo, ledger: ledger, clock: clock, settings: settings}
}

// FundResult 注资结果
type FundResult struct {
	Funding    *domain.Funding `json:"funding"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// Initialize 创建国库单例并记一笔 initial 注资，只能调用一次
func (s *TreasuryService) Initialize(ctx context.Context, amount decimal.Decimal) (*domain.Treasury, error) {
	ctx, span := trace.Tracer().Start(ctx, "treasury.initialize")
	defer span.End()

	if !amount.IsPositive() {
		return nil, xerr.Wrap(xerr.InvalidAmount, fmt.Sprintf("initial amount %s must be positive", amount), nil)
	}

	now := s.clock.Now().UTC()
	var created *domain.Treasury
	err := s.repo.Transaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.GetTreasury(txCtx)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyInitialized
		}

		t := &domain.Treasury{
			TreasuryID:         domain.MainTreasuryID,
			WalletAddress:      s.settings.WalletAddress,
			TokenMint:          s.settings.TokenMint,
			TotalFunded:        amount,
			TotalDistributed:   decimal.Zero,
			AvailableBalance:   amount,
			ReservedForRewards: decimal.Zero,
			Status:             domain.TreasuryActive,
			CreatedAt:          now,
			LastUpdated:        now,
		}
		if err := s.repo.CreateTreasury(txCtx, t); err != nil {
			return err
		}
		if err := s.ledger.CreateFunding(txCtx, newFunding(now, amount, initialFundingSource, amount)); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		logger.Error(ctx, "❌ 国库初始化失败", zap.Error(err))
		return nil, err
	}

	metrics.FundingTotal.Inc()
	observeBalance(created.AvailableBalance)
	logger.Info(ctx, "✅ 国库初始化完成",
		zap.String("amount", amount.String()),
		zap.String("wallet", created.WalletAddress),
		zap.String("token", created.TokenMint))
	return created, nil
}

// Fund 注资：账本 + 流水同一个事务，版本冲突整笔重试
// 暂停中或有批次在跑都允许注资，只会让余额变多
func (s *TreasuryService) Fund(ctx context.Context, amount decimal.Decimal, source string) (*FundResult, error) {
	ctx, span := trace.Tracer().Start(ctx, "treasury.fund")
	defer span.End()
	span.SetAttributes(attribute.String("amount", amount.String()), attribute.String("source", source))

	if !amount.IsPositive() {
		return nil, xerr.Wrap(xerr.InvalidAmount, fmt.Sprintf("funding amount %s must be positive", amount), nil)
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "manual"
	}

	var result *FundResult
	err := withVersionRetry(ctx, s.settings.MaxRetries, s.settings.RetryBackoff, "fund", func() error {
		return s.repo.Transaction(ctx, func(txCtx context.Context) error {
			t, err := s.repo.GetTreasury(txCtx)
			if err != nil {
				return err
			}
			if t == nil {
				return domain.ErrTreasuryNotInitialized
			}

			now := s.clock.Now().UTC()
			t.TotalFunded = t.TotalFunded.Add(amount)
			t.AvailableBalance = t.AvailableBalance.Add(amount)
			t.LastUpdated = now
			if err := s.repo.UpdateBalances(txCtx, t); err != nil {
				return err
			}

			f := newFunding(now, amount, source, t.AvailableBalance)
			if err := s.ledger.CreateFunding(txCtx, f); err != nil {
				return err
			}
			result = &FundResult{Funding: f, NewBalance: t.AvailableBalance}
			return nil
		})
	})
	if err != nil {
		logger.Error(ctx, "❌ 注资失败", zap.String("amount", amount.String()), zap.Error(err))
		return nil, err
	}

	metrics.FundingTotal.Inc()
	observeBalance(result.NewBalance)
	logger.Info(ctx, "💰 注资成功",
		zap.String("funding_id", result.Funding.FundingID),
		zap.String("amount", amount.String()),
		zap.String("source", source),
		zap.String("balance", result.NewBalance.String()))
	return result, nil
}

// Pause 暂停后分发会被拒绝，注资不受影响
func (s *TreasuryService) Pause(ctx context.Context) error {
	if err := s.repo.SetStatus(ctx, domain.TreasuryPaused); err != nil {
		return err
	}
	logger.Warn(ctx, "⏸️ 国库已暂停分发")
	return nil
}

func (s *TreasuryService) Resume(ctx context.Context) error {
	if err := s.repo.SetStatus(ctx, domain.TreasuryActive); err != nil {
		return err
	}
	logger.Info(ctx, "▶️ 国库恢复分发")
	return nil
}

// RecommendFunding 按预估质押量给出注资建议，不读写任何状态
func (s *TreasuryService) RecommendFunding(p accrual.Projection) decimal.Decimal {
	return s.settings.Rates.RecommendedFunding(p)
}

func newFunding(now time.Time, amount decimal.Decimal, source string, balanceAfter decimal.Decimal) *domain.Funding {
	return &domain.Funding{
		FundingID:            fmt.Sprintf("funding_%d_%s", now.Unix(), uuid.NewString()[:8]),
		Amount:               amount,
		Source:               source,
		Timestamp:            now,
		TreasuryBalanceAfter: balanceAfter,
	}
}

func observeBalance(balance decimal.Decimal) {
	f, _ := balance.Float64()
	metrics.AvailableBalance.Set(f)
}
