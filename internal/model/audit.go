package model

import (
	"time"
)

const (
	AuditActionCreate       = "Create"
	AuditActionUpdate       = "Update"
	AuditActionDelete       = "Delete"
	AuditActionSale         = "Sale"
	AuditActionUpdateStatus = "UpdateStatus"
	AuditActionRefund       = "Refund"
	AuditActionPayment      = "Payment"
	AuditActionAllocate     = "Allocate"
	AuditActionPurchase     = "Purchase"
	AuditActionSync         = "Sync"
)

const (
	AuditEntityTransaction = "Transaction"
	AuditEntityPayment     = "Payment"
	AuditEntityPurchase    = "Purchase"
	AuditEntityProduct     = "Product"
	AuditEntityPerson      = "Person"
)

// ActorSystem 无操作人时的默认值
const ActorSystem = "System"

// AuditLog 审计日志表
// 只追加，不修改，不删除
type AuditLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
	Action      string    `gorm:"type:varchar(32);index;not null" json:"action"`
	Entity      string    `gorm:"type:varchar(32);index;not null" json:"entity"`
	EntityID    string    `gorm:"type:varchar(64);index" json:"entity_id"`
	Actor       string    `gorm:"type:varchar(128)" json:"actor"`
	Description string    `gorm:"type:varchar(1024)" json:"description"`
	Changes     string    `gorm:"type:text" json:"changes"` // JSON 或逐条变更说明
}

func (AuditLog) TableName() string {
	return "audit_log"
}
