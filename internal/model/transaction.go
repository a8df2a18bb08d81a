package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusCanceled  = "CANCELED"
	TransactionStatusRefunded  = "REFUNDED"
)

// ValidStatusTransitions 销售单状态机
// REFUNDED 为终态；CANCELED 可以恢复（重新扣减库存）
var ValidStatusTransitions = map[string][]string{
	TransactionStatusPending:   {TransactionStatusCompleted, TransactionStatusCanceled, TransactionStatusRefunded},
	TransactionStatusCompleted: {TransactionStatusPending, TransactionStatusCanceled, TransactionStatusRefunded},
	TransactionStatusCanceled:  {TransactionStatusPending, TransactionStatusCompleted},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsValidTransactionStatus 校验状态值
func IsValidTransactionStatus(status string) bool {
	switch status {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusCanceled, TransactionStatusRefunded:
		return true
	}
	return false
}

// HoldsStock 该状态下销售单占用库存
func HoldsStock(status string) bool {
	return status == TransactionStatusPending || status == TransactionStatusCompleted
}

// CountsTowardBalance 该状态下销售单计入人员余额
// 已取消与已退款的单据都不再构成欠款
func CountsTowardBalance(status string) bool {
	return HoldsStock(status)
}

// Transaction 销售单（发票）
// TotalAmount 在创建时确定：明细小计之和减折扣，最低为 0
type Transaction struct {
	ID              int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo         string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	TransactionDate time.Time           `gorm:"index;not null" json:"transaction_date"`
	PersonID        *int64              `gorm:"index" json:"person_id,omitempty"`
	CustomerName    string              `gorm:"type:varchar(128)" json:"customer_name"` // 顾客姓名快照
	IsDelivery      bool                `gorm:"not null;default:false" json:"is_delivery"`
	DriverID        *int64              `gorm:"index" json:"driver_id,omitempty"`
	Note            string              `gorm:"type:varchar(512)" json:"note"`
	EmployeeName    string              `gorm:"type:varchar(128)" json:"employee_name"`
	Discount        decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	TotalAmount     decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"total_amount"`
	Status          string              `gorm:"type:varchar(20);index;not null" json:"status"`
	Items           []TransactionItem   `gorm:"foreignKey:TransactionID" json:"items"`
	Allocations     []PaymentAllocation `gorm:"foreignKey:TransactionID" json:"allocations,omitempty"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}

// TotalPaid 已分配到本单的收款合计（退款分配为负数）
func (t *Transaction) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, a := range t.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// BalanceDue 未付金额
func (t *Transaction) BalanceDue() decimal.Decimal {
	return t.TotalAmount.Sub(t.TotalPaid())
}

// ItemsSubtotal 明细小计之和
func (t *Transaction) ItemsSubtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range t.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// CostOfGoods 按销售时成本计算的商品成本
func (t *Transaction) CostOfGoods() decimal.Decimal {
	total := decimal.Zero
	for _, item := range t.Items {
		total = total.Add(item.UnitCost.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// ComputeTotal 小计之和减折扣，最低为 0
func ComputeTotal(subtotal, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// TransactionItem 销售明细，UnitCost 为销售时刻的商品成本快照
type TransactionItem struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID int64           `gorm:"index;not null" json:"transaction_id"`
	ProductID     int64           `gorm:"index;not null" json:"product_id"`
	ProductName   string          `gorm:"type:varchar(128)" json:"product_name"`
	Quantity      int             `gorm:"not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	UnitCost      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_cost"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
}

func (TransactionItem) TableName() string {
	return "transaction_item"
}
