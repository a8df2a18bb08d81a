package service

import (
	"errors"
	"fmt"

	"posledger/internal/model"
	"posledger/internal/repository"
)

// 业务错误类型，handler 按类型映射业务码
var (
	ErrNotFound          = errors.New("记录不存在")
	ErrInsufficientStock = errors.New("库存不足")
	ErrOverAllocation    = errors.New("分配金额超过收款金额")
	ErrInvalidState      = errors.New("当前状态不允许该操作")
	ErrAlreadyRefunded   = errors.New("销售单已退款")
	ErrValidation        = errors.New("参数校验失败")
	ErrAmbiguousPerson   = errors.New("匹配到多个人员，请指定人员ID")
	ErrConcurrentUpdate  = errors.New("数据并发修改，请稍后重试")
	ErrUnauthorized      = errors.New("用户名或密码错误")
)

// InsufficientStockError 携带商品与数量信息的库存不足错误
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("商品 %s 库存不足: 可用 %d, 需要 %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translate 将仓储层错误归类为业务错误
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrPersonNotFound),
		errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrTransactionNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrPurchaseNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrStatusInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	case errors.Is(err, model.ErrInvalidBarcodes):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}
