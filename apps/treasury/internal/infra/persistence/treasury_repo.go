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

// ========== TreasuryRepo 接口实现 ==========

// GetTreasury 事务内会加 FOR UPDATE（sqlite 忽略）
func (r *Repo) GetTreasury(ctx context.Context) (*domain.Treasury, error) {
	db := r.getDb(ctx)
	if inTx(ctx) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var t domain.Treasury
	err := db.Where("treasury_id = ?", domain.MainTreasuryID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "get treasury failed", err)
	}
	return &t, nil
}

func (r *Repo) CreateTreasury(ctx context.Context, t *domain.Treasury) error {
	err := r.getDb(ctx).Create(t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrAlreadyInitialized
		}
		// 部分驱动不翻译唯一键错误，回查一次
		if existing, getErr := r.GetTreasury(ctx); getErr == nil && existing != nil {
			return domain.ErrAlreadyInitialized
		}
		return xerr.Wrap(xerr.DbError, "create treasury failed", err)
	}
	return nil
}

// UpdateBalances 乐观锁更新三个余额字段
// SQL: UPDATE treasuries SET ..., version = version + 1 WHERE treasury_id = ? AND version = ?
func (r *Repo) UpdateBalances(ctx context.Context, t *domain.Treasury) error {
	updates := map[string]interface{}{
		"total_funded":      t.TotalFunded,
		"total_distributed": t.TotalDistributed,
		"available_balance": t.AvailableBalance,
		"version":           t.Version + 1,
		"last_updated":      t.LastUpdated,
	}

	res := r.getDb(ctx).Model(&domain.Treasury{}).
		Where("treasury_id = ? AND version = ?", t.TreasuryID, t.Version).
		Updates(updates)
	if res.Error != nil {
		return xerr.Wrap(xerr.DbError, "update treasury balances failed", res.Error)
	}
	if res.RowsAffected == 0 {
		// 版本号被别人推进了
		return xerr.Wrap(xerr.VersionConflict, fmt.Sprintf("treasury version %d is stale", t.Version), nil)
	}
	t.Version++
	return nil
}

func (r *Repo) SetStatus(ctx context.Context, status domain.TreasuryStatus) error {
	res := r.getDb(ctx).Model(&domain.Treasury{}).
		Where("treasury_id = ?", domain.MainTreasuryID).
		Updates(map[string]interface{}{
			"status":       status,
			"last_updated": r.db.NowFunc(),
		})
	if res.Error != nil {
		return xerr.Wrap(xerr.DbError, "set treasury status failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrTreasuryNotInitialized
	}
	return nil
}

// ========== 批次租约 ==========

// SwapBatchLock 租约 CAS：只有当前 token 仍是 expect 时才写入 next
// 时间比较放在调用方，SQL 里只比 token，mysql 和 sqlite 行为一致
func (r *Repo) SwapBatchLock(ctx context.Context, expect, next string, until *time.Time) (bool, error) {
	res := r.getDb(ctx).Model(&domain.Treasury{}).
		Where("treasury_id = ? AND batch_lock_token = ?", domain.MainTreasuryID, expect).
		Updates(map[string]interface{}{
			"batch_lock_token": next,
			"batch_lock_until": until,
		})
	if res.Error != nil {
		return false, xerr.Wrap(xerr.DbError, "swap batch lock failed", res.Error)
	}
	if res.RowsAffected == 1 || expect != next {
		return res.RowsAffected == 1, nil
	}

	// 续期时值可能没变，mysql 这时 RowsAffected 为 0，按 token 再确认一次
	var n int64
	if err := r.getDb(ctx).Model(&domain.Treasury{}).
		Where("treasury_id = ? AND batch_lock_token = ?", domain.MainTreasuryID, expect).
		Count(&n).Error; err != nil {
		return false, xerr.Wrap(xerr.DbError, "check batch lock failed", err)
	}
	return n == 1, nil
}
