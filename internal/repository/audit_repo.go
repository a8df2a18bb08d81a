package repository

import (
	"context"

	"posledger/internal/model"

	"gorm.io/gorm"
)

// AuditRepository 审计日志只追加
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append 在调用方事务内写入，业务回滚时审计一并回滚
func (r *AuditRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.AuditLog) error {
	return conn(r.db, tx).WithContext(ctx).Create(entry).Error
}

// List entity 为空时返回全部，最新在前
func (r *AuditRepository) List(ctx context.Context, entity string, page, pageSize int) ([]*model.AuditLog, int64, error) {
	var logs []*model.AuditLog
	var total int64
	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.AuditLog{})
	if entity != "" {
		query = query.Where("entity = ?", entity)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("timestamp DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&logs).Error

	return logs, total, err
}

// ListByEntity 某个对象的全部审计记录，按时间正序
func (r *AuditRepository) ListByEntity(ctx context.Context, entity, entityID string) ([]*model.AuditLog, error) {
	var logs []*model.AuditLog
	err := r.db.WithContext(ctx).
		Where("entity = ? AND entity_id = ?", entity, entityID).
		Order("timestamp ASC, id ASC").
		Find(&logs).Error
	return logs, err
}
