package persistence

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
	"stakex.com/pkg/xerr"
)

// ClubMember 会员目录，由会员系统写入，命令行也可以手工维护
type ClubMember struct {
	ID            int64
	WalletAddress string `gorm:"uniqueIndex;size:64"`
	Active        bool
	JoinedAt      time.Time
}

func (ClubMember) TableName() string { return "club_members" }

// IsMember 实现 domain.MembershipDirectory
func (r *Repo) IsMember(ctx context.Context, stakerWallet string) (bool, error) {
	var n int64
	err := r.getDb(ctx).Model(&ClubMember{}).
		Where("wallet_address = ? AND active = ?", stakerWallet, true).
		Count(&n).Error
	if err != nil {
		return false, xerr.Wrap(xerr.DbError, "query membership failed", err)
	}
	return n > 0, nil
}

// UpsertMember 存在则更新 active
func (r *Repo) UpsertMember(ctx context.Context, m *ClubMember) error {
	err := r.getDb(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"active"}),
	}).Create(m).Error
	if err != nil {
		return xerr.Wrap(xerr.DbError, "upsert member failed", err)
	}
	return nil
}
