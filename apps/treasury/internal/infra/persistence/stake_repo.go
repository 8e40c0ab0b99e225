package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/xerr"
)

// ========== StakeRegistry 接口实现 ==========

func (r *Repo) ListActiveStakes(ctx context.Context) ([]domain.Stake, error) {
	stakes := make([]domain.Stake, 0)
	err := r.getDb(ctx).
		Where("status = ?", domain.StakeActive).
		Order("id ASC").
		Find(&stakes).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, "list active stakes failed", err)
	}
	return stakes, nil
}

func (r *Repo) CountActiveStakes(ctx context.Context) (int64, error) {
	var n int64
	err := r.getDb(ctx).Model(&domain.Stake{}).
		Where("status = ?", domain.StakeActive).
		Count(&n).Error
	if err != nil {
		return 0, xerr.Wrap(xerr.DbError, "count active stakes failed", err)
	}
	return n, nil
}

// CreditReward 条件更新：status 仍是 active 且 last_reward_time 和扫描时一致
// 金额在 Go 里用 decimal 相加，不依赖数据库的数值运算
func (r *Repo) CreditReward(ctx context.Context, credit domain.RewardCredit) error {
	db := r.getDb(ctx)

	var stake domain.Stake
	q := db
	if inTx(ctx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("stake_id = ?", credit.StakeID).First(&stake).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return xerr.Wrap(xerr.PerStakeUpdateFailure, "stake not found", err)
		}
		return xerr.Wrap(xerr.DbError, "load stake failed", err)
	}
	if stake.Status != domain.StakeActive {
		return xerr.Wrap(xerr.PerStakeUpdateFailure, fmt.Sprintf("stake status is %s", stake.Status), nil)
	}
	if !sameTime(stake.LastRewardTime, credit.PrevRewardTime) {
		return xerr.Wrap(xerr.PerStakeUpdateFailure, "stake was rewarded concurrently", nil)
	}

	paidAt := credit.PaidAt
	updates := map[string]interface{}{
		"total_rewards_earned": stake.TotalRewardsEarned.Add(credit.Amount),
		"last_reward_amount":   credit.Amount,
		"last_reward_time":     &paidAt,
		"updated_at":           paidAt,
	}

	// 🔒 再用 WHERE 兜一次，防止读和写之间被改
	cond := db.Model(&domain.Stake{}).Where("stake_id = ? AND status = ?", stake.StakeID, domain.StakeActive)
	if stake.LastRewardTime == nil {
		cond = cond.Where("last_reward_time IS NULL")
	} else {
		cond = cond.Where("last_reward_time = ?", *stake.LastRewardTime)
	}
	res := cond.Updates(updates)
	if res.Error != nil {
		return xerr.Wrap(xerr.DbError, "credit reward failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return xerr.Wrap(xerr.PerStakeUpdateFailure, "stake changed during update", nil)
	}
	return nil
}

// ========== 质押登记的维护入口，给命令行和测试用 ==========

func (r *Repo) CreateStake(ctx context.Context, s *domain.Stake) error {
	if err := r.getDb(ctx).Create(s).Error; err != nil {
		return xerr.Wrap(xerr.DbError, "create stake failed", err)
	}
	return nil
}

// GetStake 不存在时返回 nil, nil
func (r *Repo) GetStake(ctx context.Context, stakeID string) (*domain.Stake, error) {
	var s domain.Stake
	err := r.getDb(ctx).Where("stake_id = ?", stakeID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "get stake failed", err)
	}
	return &s, nil
}

func (r *Repo) SetStakeStatus(ctx context.Context, stakeID string, status domain.StakeStatus) error {
	return r.getDb(ctx).Model(&domain.Stake{}).
		Where("stake_id = ?", stakeID).
		Update("status", status).Error
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
