package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPersonNotFound      = errors.New("人员不存在")
	ErrProductNotFound     = errors.New("商品不存在")
	ErrTransactionNotFound = errors.New("销售单不存在")
	ErrPaymentNotFound     = errors.New("收款记录不存在")
	ErrPurchaseNotFound    = errors.New("采购单不存在")
	ErrStockNotEnough      = errors.New("库存不足")
	ErrStatusInvalid       = errors.New("销售单状态不合法")
	ErrOptimisticLock      = errors.New("乐观锁冲突，请重试")
)

// conn 事务内使用 tx，否则使用默认连接
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}

// forUpdate 加锁读：读取最新提交的数据而不是事务快照（MySQL 默认 REPEATABLE READ）
// 也可作为 Preload 的条件函数
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// normalizePage 分页参数兜底
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}
