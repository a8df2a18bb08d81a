package repository

import (
	"context"
	"errors"

	"posledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 同时写入明细
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	return conn(r.db, tx).WithContext(ctx).Omit("Allocations").Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Items").
		Preload("Allocations").
		Where("id = ?", id).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// GetByIDForUpdate 行锁读取销售单，明细与分配一并加载
func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	if err := forUpdate(tx.WithContext(ctx)).Where("transaction_id = ?", id).Order("id ASC").Find(&trans.Items).Error; err != nil {
		return nil, err
	}
	if err := forUpdate(tx.WithContext(ctx)).Where("transaction_id = ?", id).Order("id ASC").Find(&trans.Allocations).Error; err != nil {
		return nil, err
	}
	return &trans, nil
}

// UpdateStatus 状态流转，WHERE status = fromStatus 防止并发重复流转
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusInvalid
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}

	return nil
}

func (r *TransactionRepository) Update(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// Delete 删除销售单及明细，分配记录由调用方先行删除
func (r *TransactionRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	if err := tx.WithContext(ctx).Where("transaction_id = ?", id).Delete(&model.TransactionItem{}).Error; err != nil {
		return err
	}
	result := tx.WithContext(ctx).Where("id = ?", id).Delete(&model.Transaction{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// ListByPerson 某人全部销售单（含明细与分配），按日期正序
func (r *TransactionRepository) ListByPerson(ctx context.Context, tx *gorm.DB, personID int64) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Items").
		Preload("Allocations").
		Where("person_id = ?", personID).
		Order("transaction_date ASC, id ASC").
		Find(&transactions).Error
	return transactions, err
}

// ListOpenByPersonForUpdate 冲抵用：加锁读取某人可接受冲抵的销售单（待处理与已完成）及分配
func (r *TransactionRepository) ListOpenByPersonForUpdate(ctx context.Context, tx *gorm.DB, personID int64) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := forUpdate(tx.WithContext(ctx)).
		Preload("Allocations", forUpdate).
		Where("person_id = ? AND status IN ?", personID,
			[]string{model.TransactionStatusPending, model.TransactionStatusCompleted}).
		Order("transaction_date ASC, id ASC").
		Find(&transactions).Error
	return transactions, err
}

// ListByDriver status 为空时返回全部状态
func (r *TransactionRepository) ListByDriver(ctx context.Context, driverID int64, status string) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	query := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Allocations").
		Where("driver_id = ?", driverID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("transaction_date DESC, id DESC").Find(&transactions).Error
	return transactions, err
}

// CountDeliveriesByDriver 按状态统计配送单数量
func (r *TransactionRepository) CountDeliveriesByDriver(ctx context.Context, driverID int64, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("driver_id = ? AND is_delivery = ? AND status = ?", driverID, true, status).
		Count(&count).Error
	return count, err
}

func (r *TransactionRepository) List(ctx context.Context, status string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64
	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.Transaction{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Items").
		Preload("Allocations").
		Order("transaction_date DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListForNameSync 有顾客姓名快照的销售单
func (r *TransactionRepository) ListForNameSync(ctx context.Context, tx *gorm.DB) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := conn(r.db, tx).WithContext(ctx).
		Where("person_id IS NOT NULL OR customer_name <> ''").
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}
