package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"stakex.com/apps/treasury/internal/domain"
	"stakex.com/pkg/orm"
	"stakex.com/pkg/xerr"
)

// ========== LedgerRepo 接口实现 ==========

func (r *Repo) CreateFunding(ctx context.Context, f *domain.Funding) error {
	if err := r.getDb(ctx).Create(f).Error; err != nil {
		return xerr.Wrap(xerr.DbError, "create funding record failed", err)
	}
	return nil
}

// CreateDistribution distribution_id 唯一，重复写入说明同一批次重放
func (r *Repo) CreateDistribution(ctx context.Context, d *domain.Distribution) error {
	if err := r.getDb(ctx).Create(d).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return xerr.Wrap(xerr.PerStakeUpdateFailure, "distribution already recorded", err)
		}
		return xerr.Wrap(xerr.DbError, "create distribution record failed", err)
	}
	return nil
}

func (r *Repo) CreateBatch(ctx context.Context, b *domain.DistributionBatch) error {
	if err := r.getDb(ctx).Create(b).Error; err != nil {
		return xerr.Wrap(xerr.DbError, "create distribution batch failed", err)
	}
	return nil
}

// RecentDistributions 按发放时间倒序，同一时间按写入顺序倒序
func (r *Repo) RecentDistributions(ctx context.Context, limit int) ([]domain.Distribution, error) {
	list := make([]domain.Distribution, 0)
	err := orm.Latest(r.getDb(ctx), "distribution_time", limit).
		Order("id DESC").
		Find(&list).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, "query recent distributions failed", err)
	}
	return list, nil
}

func (r *Repo) ListFundings(ctx context.Context) ([]domain.Funding, error) {
	list := make([]domain.Funding, 0)
	if err := r.getDb(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, xerr.Wrap(xerr.DbError, "list fundings failed", err)
	}
	return list, nil
}

// ListBatchDistributions 某个批次写下的全部发放记录
func (r *Repo) ListBatchDistributions(ctx context.Context, batchID string) ([]domain.Distribution, error) {
	list := make([]domain.Distribution, 0)
	err := r.getDb(ctx).Where("batch_id = ?", batchID).Order("id ASC").Find(&list).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, "list batch distributions failed", err)
	}
	return list, nil
}

// LastBatch 最近一次批次审计记录，没有时返回 nil, nil
func (r *Repo) LastBatch(ctx context.Context) (*domain.DistributionBatch, error) {
	var b domain.DistributionBatch
	err := orm.Latest(r.getDb(ctx), "id", 1).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "get last batch failed", err)
	}
	return &b, nil
}
