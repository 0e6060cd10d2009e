package worker

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/khiemvuong/e-commerce-saas-sub002/models"
)

// GormMessageStore 基于 Postgres 的永久存储。
// dedup_key 上有唯一索引，重试撞上已提交的行直接跳过，
// 批量写部分提交后的重试不会写重
type GormMessageStore struct {
	db *gorm.DB
}

func NewGormMessageStore(db *gorm.DB) *GormMessageStore {
	return &GormMessageStore{db: db}
}

func (s *GormMessageStore) BulkInsert(ctx context.Context, batch []models.ChatMessage) error {
	if len(batch) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).
		Create(&batch).Error
}
