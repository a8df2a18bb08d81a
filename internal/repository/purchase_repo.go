package repository

import (
	"context"
	"errors"

	"posledger/internal/model"

	"gorm.io/gorm"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create 同时写入明细
func (r *PurchaseRepository) Create(ctx context.Context, tx *gorm.DB, purchase *model.Purchase) error {
	return conn(r.db, tx).WithContext(ctx).Create(purchase).Error
}

func (r *PurchaseRepository) GetByID(ctx context.Context, id int64) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	return &purchase, nil
}

func (r *PurchaseRepository) List(ctx context.Context, page, pageSize int) ([]*model.Purchase, int64, error) {
	var purchases []*model.Purchase
	var total int64
	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.Purchase{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Items").
		Order("purchase_date DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&purchases).Error

	return purchases, total, err
}
