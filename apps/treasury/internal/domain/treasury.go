package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MainTreasuryID 国库是单例，只有这一行
const MainTreasuryID = "main_treasury"

type TreasuryStatus string

const (
	TreasuryActive TreasuryStatus = "active"
	TreasuryPaused TreasuryStatus = "paused"
)

// Treasury 奖励池账本
// 不变量：AvailableBalance == TotalFunded - TotalDistributed，TotalDistributed 只增不减
type Treasury struct {
	ID                 int64           `json:"-"`
	TreasuryID         string          `gorm:"uniqueIndex;size:32" json:"treasury_id"`
	WalletAddress      string          `gorm:"size:64" json:"wallet_address"`
	TokenMint          string          `gorm:"size:64" json:"token_mint"`
	TotalFunded        decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"total_funded"`
	TotalDistributed   decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"total_distributed"`
	AvailableBalance   decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"available_balance"`
	ReservedForRewards decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"reserved_for_rewards"` // 保留字段，恒为 0
	Status             TreasuryStatus  `gorm:"size:16" json:"status"`
	Version            int64           `gorm:"default:0" json:"version"` // 乐观锁

	// 分发批次租约，同一时刻只允许一个批次
	BatchLockToken string     `gorm:"size:64;default:''" json:"-"`
	BatchLockUntil *time.Time `json:"batch_lock_until"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// UtilizationRate 已分发 / 已注资 * 100
func (t *Treasury) UtilizationRate() decimal.Decimal {
	if !t.TotalFunded.IsPositive() {
		return decimal.Zero
	}
	return t.TotalDistributed.Div(t.TotalFunded).Mul(decimal.NewFromInt(100))
}

// BatchInFlight 租约未过期就算有批次在跑
func (t *Treasury) BatchInFlight(now time.Time) bool {
	return t.BatchLockToken != "" && t.BatchLockUntil != nil && t.BatchLockUntil.After(now)
}

// Balanced 检查账本守恒
func (t *Treasury) Balanced() bool {
	return t.AvailableBalance.Equal(t.TotalFunded.Sub(t.TotalDistributed))
}

// TreasuryRepo 国库账本仓储
type TreasuryRepo interface {
	// Transaction 事务内的 ctx 会带着 tx，仓储方法自动复用
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error
	// GetTreasury 不存在时返回 nil, nil
	GetTreasury(ctx context.Context) (*Treasury, error)
	CreateTreasury(ctx context.Context, t *Treasury) error
	// UpdateBalances 带版本号更新余额，版本不匹配返回 VersionConflict
	UpdateBalances(ctx context.Context, t *Treasury) error
	SetStatus(ctx context.Context, status TreasuryStatus) error
}
