package repository

import (
	"context"
	"errors"

	"posledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create 同时写入条码
func (r *ProductRepository) Create(ctx context.Context, tx *gorm.DB, product *model.Product) error {
	return conn(r.db, tx).WithContext(ctx).Create(product).Error
}

func (r *ProductRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error) {
	var product model.Product
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Barcodes").
		Where("id = ?", id).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// GetByIDForUpdate 行锁读取（sqlite 方言会忽略 FOR UPDATE）
func (r *ProductRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error) {
	var product model.Product
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *ProductRepository) GetByBarcode(ctx context.Context, barcode string) (*model.Product, error) {
	var code model.ProductBarcode
	err := r.db.WithContext(ctx).Where("LOWER(barcode) = LOWER(?)", barcode).First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return r.GetByID(ctx, nil, code.ProductID)
}

// DeductStock 条件扣减库存
// WHERE stock_quantity >= ? 保证并发下库存不会被扣成负数
func (r *ProductRepository) DeductStock(ctx context.Context, tx *gorm.DB, id int64, quantity int) error {
	result := tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock_quantity >= ?", id, quantity).
		Updates(map[string]interface{}{
			"stock_quantity": gorm.Expr("stock_quantity - ?", quantity),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, tx, id); err != nil {
			return err
		}
		return ErrStockNotEnough
	}

	return nil
}

func (r *ProductRepository) IncreaseStock(ctx context.Context, tx *gorm.DB, id int64, quantity int) error {
	result := tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stock_quantity": gorm.Expr("stock_quantity + ?", quantity),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}

	return nil
}

// ApplyReceipt 入库：写入新库存与新成本并重新上架，依赖 version 做乐观锁
func (r *ProductRepository) ApplyReceipt(ctx context.Context, tx *gorm.DB, id int64, version int, stock int, cost decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"stock_quantity": stock,
			"cost_price":     cost,
			"is_active":      true,
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	return nil
}

func (r *ProductRepository) List(ctx context.Context, activeOnly bool, page, pageSize int) ([]*model.Product, int64, error) {
	var products []*model.Product
	var total int64
	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.Product{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Barcodes").
		Order("name ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&products).Error

	return products, total, err
}
