package persistence

import (
	"context"

	"gorm.io/gorm"
	"stakex.com/apps/treasury/internal/domain"
)

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// 确保 Repo 实现了所有接口
var (
	_ domain.TreasuryRepo        = (*Repo)(nil)
	_ domain.StakeRegistry       = (*Repo)(nil)
	_ domain.LedgerRepo          = (*Repo)(nil)
	_ domain.MembershipDirectory = (*Repo)(nil)
)

type txKey struct{}

// Transaction 把 tx 注入到 context，仓储方法通过 getDb 自动复用
// 已经在事务里时直接复用外层事务
func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// AutoMigrate 建表，本地 sqlite 和测试用；线上走 deploy 下的 DDL
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Treasury{},
		&domain.Funding{},
		&domain.Distribution{},
		&domain.DistributionBatch{},
		&domain.Stake{},
		&ClubMember{},
	)
}
