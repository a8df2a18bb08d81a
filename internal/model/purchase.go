package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PurchasePaymentPaid    = "Paid"
	PurchasePaymentPending = "Pending" // 赊购
)

// Purchase 采购入库单，创建后不可修改
type Purchase struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_no"`
	PurchaseDate  time.Time       `gorm:"index;not null" json:"purchase_date"`
	Supplier      string          `gorm:"type:varchar(128)" json:"supplier"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	PaymentStatus string          `gorm:"type:varchar(20);not null;default:Paid" json:"payment_status"`
	PaidBy        string          `gorm:"type:varchar(128);not null;default:Store" json:"paid_by"`
	Items         []PurchaseItem  `gorm:"foreignKey:PurchaseID" json:"items"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Purchase) TableName() string {
	return "purchase"
}

type PurchaseItem struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseID int64           `gorm:"index;not null" json:"purchase_id"`
	ProductID  int64           `gorm:"index;not null" json:"product_id"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	UnitCost   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_cost"`
}

func (PurchaseItem) TableName() string {
	return "purchase_item"
}

// TotalCost 行金额
func (i *PurchaseItem) TotalCost() decimal.Decimal {
	return i.UnitCost.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
