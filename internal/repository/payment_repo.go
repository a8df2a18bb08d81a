package repository

import (
	"context"
	"errors"

	"posledger/internal/model"

	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create 只写入收款本身，分配记录通过 CreateAllocation 写入
func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return conn(r.db, tx).WithContext(ctx).Omit("Allocations").Create(payment).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Payment, error) {
	var payment model.Payment
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Allocations").
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByIDForUpdate 加锁读取收款及其分配
func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Payment, error) {
	var payment model.Payment
	err := forUpdate(tx.WithContext(ctx)).
		Preload("Allocations", forUpdate).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// ListByPersonForUpdate 冲抵用：加锁读取某人全部收款及分配，按日期正序
func (r *PaymentRepository) ListByPersonForUpdate(ctx context.Context, tx *gorm.DB, personID int64) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := forUpdate(tx.WithContext(ctx)).
		Preload("Allocations", forUpdate).
		Where("person_id = ?", personID).
		Order("payment_date ASC, id ASC").
		Find(&payments).Error
	return payments, err
}

// ListByPerson 某人全部收款（含分配），按日期正序
func (r *PaymentRepository) ListByPerson(ctx context.Context, tx *gorm.DB, personID int64) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Allocations").
		Where("person_id = ?", personID).
		Order("payment_date ASC, id ASC").
		Find(&payments).Error
	return payments, err
}

// ListByIDs 按 ID 批量加载（含分配）
func (r *PaymentRepository) ListByIDs(ctx context.Context, tx *gorm.DB, ids []int64) ([]*model.Payment, error) {
	var payments []*model.Payment
	if len(ids) == 0 {
		return payments, nil
	}
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Allocations").
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&payments).Error
	return payments, err
}

// PersonIDsWithPositivePayments 有正向收款的人员，冲抵任务据此扫描
func (r *PaymentRepository) PersonIDsWithPositivePayments(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("person_id IS NOT NULL AND amount > 0").
		Distinct("person_id").
		Order("person_id ASC").
		Pluck("person_id", &ids).Error
	return ids, err
}

func (r *PaymentRepository) List(ctx context.Context, page, pageSize int) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64
	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.Payment{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Allocations").
		Order("payment_date DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}

func (r *PaymentRepository) Update(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// Delete 删除收款及其分配
func (r *PaymentRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	if err := tx.WithContext(ctx).Where("payment_id = ?", id).Delete(&model.PaymentAllocation{}).Error; err != nil {
		return err
	}
	result := tx.WithContext(ctx).Where("id = ?", id).Delete(&model.Payment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) CreateAllocation(ctx context.Context, tx *gorm.DB, allocation *model.PaymentAllocation) error {
	return conn(r.db, tx).WithContext(ctx).Create(allocation).Error
}

func (r *PaymentRepository) ListAllocationsByTransaction(ctx context.Context, tx *gorm.DB, transactionID int64) ([]*model.PaymentAllocation, error) {
	var allocations []*model.PaymentAllocation
	err := conn(r.db, tx).WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, err
}

// DeleteAllocationsByTransaction 解除销售单上的全部分配，对应收款变回可用余额
func (r *PaymentRepository) DeleteAllocationsByTransaction(ctx context.Context, tx *gorm.DB, transactionID int64) (int64, error) {
	result := tx.WithContext(ctx).Where("transaction_id = ?", transactionID).Delete(&model.PaymentAllocation{})
	return result.RowsAffected, result.Error
}

// ListForNameSync 有顾客姓名快照或关联了人员的收款
func (r *PaymentRepository) ListForNameSync(ctx context.Context, tx *gorm.DB) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := conn(r.db, tx).WithContext(ctx).
		Where("person_id IS NOT NULL OR customer_name <> ''").
		Order("id ASC").
		Find(&payments).Error
	return payments, err
}
