package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Funding 注资流水，只追加
type Funding struct {
	ID                   int64           `json:"-"`
	FundingID            string          `gorm:"uniqueIndex;size:64" json:"funding_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(36,18)" json:"amount"`
	Source               string          `gorm:"size:128" json:"source"`
	Timestamp            time.Time       `gorm:"index" json:"timestamp"`
	TreasuryBalanceAfter decimal.Decimal `gorm:"type:decimal(36,18)" json:"treasury_balance_after"`
}

func (Funding) TableName() string { return "treasury_fundings" }

const DistributionStatusDistributed = "distributed"

// Distribution 单笔奖励发放记录，只追加
type Distribution struct {
	ID               int64           `json:"-"`
	DistributionID   string          `gorm:"uniqueIndex;size:160" json:"distribution_id"`
	BatchID          string          `gorm:"index;size:64" json:"batch_id"`
	StakeID          string          `gorm:"index;size:64" json:"stake_id"`
	StakerWallet     string          `gorm:"size:64" json:"staker_wallet"`
	Amount           decimal.Decimal `gorm:"type:decimal(36,18)" json:"amount"`
	APYApplied       decimal.Decimal `gorm:"type:decimal(10,6)" json:"apy_applied"`
	IsMemberBonus    bool            `json:"is_member_bonus"`
	DistributionTime time.Time       `gorm:"index" json:"distribution_time"`
	Status           string          `gorm:"size:16" json:"status"`
}

func (Distribution) TableName() string { return "reward_distributions" }

type BatchOutcome string

const (
	BatchSettled BatchOutcome = "settled"
	BatchAborted BatchOutcome = "aborted"
)

// DistributionBatch 每次分发的审计记录
type DistributionBatch struct {
	ID               int64           `json:"-"`
	BatchID          string          `gorm:"uniqueIndex;size:64" json:"batch_id"`
	Outcome          BatchOutcome    `gorm:"size:16" json:"outcome"`
	AbortReason      string          `gorm:"size:255" json:"abort_reason"`
	TotalOwed        decimal.Decimal `gorm:"type:decimal(36,18)" json:"total_owed"`
	TotalDistributed decimal.Decimal `gorm:"type:decimal(36,18)" json:"total_distributed"`
	Succeeded        int             `json:"succeeded"`
	Failed           int             `json:"failed"`
	Skipped          int             `json:"skipped"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
}

// LedgerRepo 流水类记录
type LedgerRepo interface {
	CreateFunding(ctx context.Context, f *Funding) error
	CreateDistribution(ctx context.Context, d *Distribution) error
	CreateBatch(ctx context.Context, b *DistributionBatch) error
	RecentDistributions(ctx context.Context, limit int) ([]Distribution, error)
	ListFundings(ctx context.Context) ([]Funding, error)
	// LastBatch 没有批次时返回 nil, nil
	LastBatch(ctx context.Context) (*DistributionBatch, error)
}

// BatchLease 一次批次持有的租约
type BatchLease interface {
	// Renew 续期并确认仍是持有者，被接管返回 ErrBatchLeaseLost
	Renew(ctx context.Context) error
	// Release 批次结束必须调用，已被接管时不动新持有者
	Release(ctx context.Context) error
}

// BatchLocker 分发批次互斥
type BatchLocker interface {
	// Acquire 拿不到锁返回 ErrBatchInProgress
	Acquire(ctx context.Context) (BatchLease, error)
	// InFlight 当前是否有未过期的租约
	InFlight(ctx context.Context) (bool, error)
}
