package repository

import (
	"context"
	"errors"

	"posledger/internal/model"

	"gorm.io/gorm"
)

type PersonRepository struct {
	db *gorm.DB
}

func NewPersonRepository(db *gorm.DB) *PersonRepository {
	return &PersonRepository{db: db}
}

func (r *PersonRepository) Create(ctx context.Context, tx *gorm.DB, person *model.Person) error {
	return conn(r.db, tx).WithContext(ctx).Create(person).Error
}

func (r *PersonRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Person, error) {
	var person model.Person
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&person).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonNotFound
		}
		return nil, err
	}
	return &person, nil
}

// LockByID 行锁锁定人员，同一人员的冲抵在事务内串行
func (r *PersonRepository) LockByID(ctx context.Context, tx *gorm.DB, id int64) error {
	var person model.Person
	err := forUpdate(tx.WithContext(ctx)).
		Select("id").
		Where("id = ?", id).
		First(&person).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPersonNotFound
		}
		return err
	}
	return nil
}

func (r *PersonRepository) GetByUsername(ctx context.Context, username string) (*model.Person, error) {
	var person model.Person
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&person).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonNotFound
		}
		return nil, err
	}
	return &person, nil
}

// ListWithPasscode 设置了快捷登录码的在职人员
func (r *PersonRepository) ListWithPasscode(ctx context.Context) ([]*model.Person, error) {
	var people []*model.Person
	err := r.db.WithContext(ctx).
		Where("passcode IS NOT NULL AND is_active = ?", true).
		Order("id ASC").
		Find(&people).Error
	return people, err
}

// FindByPhone 按电话查找，限定角色
func (r *PersonRepository) FindByPhone(ctx context.Context, tx *gorm.DB, phone, role string) ([]*model.Person, error) {
	var people []*model.Person
	err := conn(r.db, tx).WithContext(ctx).
		Where("phone = ? AND role = ?", phone, role).
		Order("id ASC").
		Find(&people).Error
	return people, err
}

// FindByName 按折叠后的姓名查找，限定角色
func (r *PersonRepository) FindByName(ctx context.Context, tx *gorm.DB, name, role string) ([]*model.Person, error) {
	var people []*model.Person
	err := conn(r.db, tx).WithContext(ctx).
		Where("name_key = ? AND role = ?", model.FoldName(name), role).
		Order("id ASC").
		Find(&people).Error
	return people, err
}

// ListByRole role 为空时返回全部
func (r *PersonRepository) ListByRole(ctx context.Context, tx *gorm.DB, role string) ([]*model.Person, error) {
	var people []*model.Person
	query := conn(r.db, tx).WithContext(ctx).Model(&model.Person{})
	if role != "" {
		query = query.Where("role = ?", role)
	}
	err := query.Order("name ASC, id ASC").Find(&people).Error
	return people, err
}

func (r *PersonRepository) Update(ctx context.Context, tx *gorm.DB, id int64, updates map[string]interface{}) error {
	if name, ok := updates["name"].(string); ok {
		updates["name_key"] = model.FoldName(name)
	}
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Person{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPersonNotFound
	}
	return nil
}

func (r *PersonRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	result := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).Delete(&model.Person{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPersonNotFound
	}
	return nil
}
