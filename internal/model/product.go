package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/pkg/money"
)

var ErrInvalidBarcodes = errors.New("条码不合法")

// Product 商品表
// CostPrice 为加权平均成本，只在采购入库时变化
// StockQuantity 只在销售单创建/取消/恢复/删除/退款以及采购入库时变化
type Product struct {
	ID            int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string           `gorm:"type:varchar(128);not null" json:"name"`
	CostPrice     decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0" json:"cost_price"`
	Price         decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0" json:"price"`
	StockQuantity int              `gorm:"not null;default:0" json:"stock_quantity"`
	IsActive      bool             `gorm:"not null;default:true" json:"is_active"`
	IsStockless   bool             `gorm:"not null;default:false" json:"is_stockless"`
	IsService     bool             `gorm:"not null;default:false" json:"is_service"`
	Version       int              `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	Barcodes      []ProductBarcode `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"barcodes,omitempty"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

// TracksStock 无库存商品与服务类商品不做库存校验
func (p *Product) TracksStock() bool {
	return !p.IsStockless && !p.IsService
}

type ProductBarcode struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64     `gorm:"index;not null" json:"product_id"`
	Barcode   string    `gorm:"type:varchar(64);index;not null" json:"barcode"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ProductBarcode) TableName() string {
	return "product_barcode"
}

// NormalizeBarcodes 去除首尾空格，同一商品内不允许重复（大小写不敏感）
func NormalizeBarcodes(codes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			return nil, ErrInvalidBarcodes
		}
		key := strings.ToLower(code)
		if _, ok := seen[key]; ok {
			return nil, ErrInvalidBarcodes
		}
		seen[key] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

// WeightedAverageCost 加权平均成本
//
//	新成本 = (现有库存 * 现有成本 + 入库数量 * 入库单价) / (现有库存 + 入库数量)
//
// 合计数量不为正时直接取入库单价
func WeightedAverageCost(stock int, cost decimal.Decimal, quantity int, unitCost decimal.Decimal) decimal.Decimal {
	newTotalQty := stock + quantity
	if newTotalQty <= 0 {
		return money.Round(unitCost)
	}
	currentValue := decimal.NewFromInt(int64(stock)).Mul(cost)
	incomingValue := decimal.NewFromInt(int64(quantity)).Mul(unitCost)
	return money.Round(currentValue.Add(incomingValue).Div(decimal.NewFromInt(int64(newTotalQty))))
}
