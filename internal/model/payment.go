package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentMethodCash     = "Cash"
	PaymentMethodCard     = "Card"
	PaymentMethodTransfer = "Transfer"
)

// Payment 收款表
// Amount 正数为收款，负数为退款
// 收款可以拆分到多张销售单，一张销售单也可以由多笔收款支付
type Payment struct {
	ID           int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo    string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	PaymentDate  time.Time           `gorm:"index;not null" json:"payment_date"`
	Amount       decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"amount"`
	Method       string              `gorm:"type:varchar(32)" json:"method"`
	Reference    string              `gorm:"type:varchar(256)" json:"reference"`
	PersonID     *int64              `gorm:"index" json:"person_id,omitempty"`
	CustomerName string              `gorm:"type:varchar(128)" json:"customer_name"` // 顾客姓名快照
	EmployeeName string              `gorm:"type:varchar(128)" json:"employee_name"`
	Allocations  []PaymentAllocation `gorm:"foreignKey:PaymentID" json:"allocations,omitempty"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func (Payment) TableName() string {
	return "payment"
}

// Allocated 已分配金额
func (p *Payment) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// Unallocated 未分配金额（可用余额）
func (p *Payment) Unallocated() decimal.Decimal {
	return p.Amount.Sub(p.Allocated())
}

// PaymentAllocation 收款分配：一笔收款的一部分归属到一张销售单
type PaymentAllocation struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID     int64           `gorm:"index;not null" json:"payment_id"`
	TransactionID int64           `gorm:"index;not null" json:"transaction_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (PaymentAllocation) TableName() string {
	return "payment_allocation"
}
