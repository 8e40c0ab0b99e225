package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"stakex.com/apps/treasury/internal/core/accrual"
)

// Settings 业务参数，由 config 转换而来
type Settings struct {
	Rates                 accrual.Rates
	MinimumClaimThreshold decimal.Decimal // 低于该值的奖励本批不发，留待下次
	WalletAddress         string
	TokenMint             string

	PayoutWorkers int           // 单批内并发发放的协程数
	MaxRetries    int           // 账本版本冲突的重试次数
	RetryBackoff  time.Duration // 重试间隔
	RecentLimit   int           // 状态报告里展示的最近发放条数
}

func DefaultSettings() Settings {
	return Settings{
		Rates:                 accrual.DefaultRates(),
		MinimumClaimThreshold: decimal.NewFromInt(1000),
		PayoutWorkers:         8,
		MaxRetries:            3,
		RetryBackoff:          20 * time.Millisecond,
		RecentLimit:           10,
	}
}

func (s Settings) Validate() error {
	if err := s.Rates.Validate(); err != nil {
		return err
	}
	if s.MinimumClaimThreshold.IsNegative() {
		return errors.New("minimum claim threshold must not be negative")
	}
	if s.PayoutWorkers <= 0 {
		return errors.New("payout workers must be positive")
	}
	if s.MaxRetries <= 0 {
		return errors.New("max retries must be positive")
	}
	return nil
}
