package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"gorm.io/gorm"
)

const (
	RoleCustomer = "Customer"
	RoleDriver   = "Driver"
	RoleEmployee = "Employee"
	RoleAdmin    = "Admin"
	RoleSystem   = "System"
)

// ValidRoles 允许的人员角色
var ValidRoles = []string{RoleCustomer, RoleDriver, RoleEmployee, RoleAdmin, RoleSystem}

// IsValidRole 校验角色
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Person 人员表
// 顾客、司机、员工统一存放，通过 Role 区分
// 余额等统计值不落库，由收款与销售单实时汇总
type Person struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"type:varchar(128);index;not null" json:"name"`
	NameKey      string    `gorm:"type:varchar(128);index;not null;default:''" json:"-"` // FoldName(Name)
	Role         string    `gorm:"type:varchar(20);index;not null;default:Customer" json:"role"`
	Phone        *string   `gorm:"type:varchar(32);index" json:"phone,omitempty"`
	Username     *string   `gorm:"type:varchar(64);uniqueIndex" json:"username,omitempty"`
	PasswordHash string    `gorm:"type:varchar(128)" json:"-"`
	Passcode     *string   `gorm:"type:varchar(64)" json:"-"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Person) TableName() string {
	return "person"
}

// FoldName 姓名比较键：去除首尾空格后做 Unicode 大小写折叠
// 人员匹配与姓名对账共用同一规则
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// BeforeSave 写入前同步 NameKey
// 按 map 更新姓名时由仓储层同步
func (p *Person) BeforeSave(tx *gorm.DB) error {
	p.NameKey = FoldName(p.Name)
	return nil
}

// CanLogin 顾客不允许登录
func (p *Person) CanLogin() bool {
	return p.IsActive && p.Role != RoleCustomer
}

// PersonSummary 人员账务汇总（派生值，不落库）
type PersonSummary struct {
	PersonID            int64           `json:"person_id"`
	Name                string          `json:"name"`
	Role                string          `json:"role"`
	Balance             decimal.Decimal `json:"balance"` // 正数表示有余额（预付款），负数表示欠款
	TotalSpent          decimal.Decimal `json:"total_spent"`
	TotalProfit         decimal.Decimal `json:"total_profit"`
	LastActivityAt      *time.Time      `json:"last_activity_at,omitempty"`
	CompletedDeliveries int             `json:"completed_deliveries"`
	PendingDeliveries   int             `json:"pending_deliveries"`
}
