package orm

import "gorm.io/gorm"

// Latest 按列倒序取最近 limit 条，limit <= 0 时不限制
func Latest(db *gorm.DB, column string, limit int) *gorm.DB {
	q := db.Order(column + " DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
