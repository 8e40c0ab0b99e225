package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type StakeStatus string

const (
	StakePending      StakeStatus = "pending"
	StakeActive       StakeStatus = "active"
	StakeDeactivating StakeStatus = "deactivating"
	StakeInactive     StakeStatus = "inactive"
)

// Stake 归质押登记模块所有，本服务只读 active 质押并回写奖励相关字段
// 不会修改 Status / AmountStaked / IsMember
type Stake struct {
	ID                 int64           `json:"-"`
	StakeID            string          `gorm:"uniqueIndex;size:64" json:"stake_id"`
	StakerWallet       string          `gorm:"index;size:64" json:"staker_wallet"`
	AmountStaked       decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"amount_staked"`
	IsMember           bool            `json:"is_member"`
	Status             StakeStatus     `gorm:"index;size:16" json:"status"`
	LastRewardTime     *time.Time      `json:"last_reward_time"`
	TotalRewardsEarned decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"total_rewards_earned"`
	LastRewardAmount   decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"last_reward_amount"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// RewardBaseline 上次发放时间，从未发放过则是创建时间
func (s *Stake) RewardBaseline() time.Time {
	if s.LastRewardTime != nil {
		return *s.LastRewardTime
	}
	return s.CreatedAt
}

// RewardCredit 一笔发放要写回质押的内容
type RewardCredit struct {
	StakeID        string
	PrevRewardTime *time.Time // 扫描时读到的 last_reward_time，用于检测并发修改
	Amount         decimal.Decimal
	PaidAt         time.Time
}

// StakeRegistry 质押登记（外部协作方）
type StakeRegistry interface {
	ListActiveStakes(ctx context.Context) ([]Stake, error)
	CountActiveStakes(ctx context.Context) (int64, error)
	// CreditReward 累加 total_rewards_earned 并推进 last_reward_time
	// 质押已不是 active 或 last_reward_time 已变化时返回 PerStakeUpdateFailure
	CreditReward(ctx context.Context, credit RewardCredit) error
}

// MembershipDirectory 会员目录（外部协作方），只读
type MembershipDirectory interface {
	IsMember(ctx context.Context, stakerWallet string) (bool, error)
}
