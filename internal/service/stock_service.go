package service

import (
	"context"
	"errors"
	"fmt"

	"posledger/internal/model"
	"posledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockService 库存与成本
// 所有方法都在调用方的数据库事务内执行
type StockService struct {
	productRepo *repository.ProductRepository
}

func NewStockService(db *gorm.DB) *StockService {
	return &StockService{
		productRepo: repository.NewProductRepository(db),
	}
}

// ApplyPurchase 采购入库：按加权平均重算成本，增加库存，下架商品重新上架
func (s *StockService) ApplyPurchase(ctx context.Context, tx *gorm.DB, productID int64, quantity int, unitCost decimal.Decimal) (*model.Product, error) {
	if quantity <= 0 {
		return nil, validationError("入库数量必须大于0")
	}
	if unitCost.IsNegative() {
		return nil, validationError("入库单价不能为负数")
	}

	product, err := s.productRepo.GetByIDForUpdate(ctx, tx, productID)
	if err != nil {
		return nil, translate(err)
	}

	newCost := model.WeightedAverageCost(product.StockQuantity, product.CostPrice, quantity, unitCost)
	newStock := product.StockQuantity + quantity

	if err := s.productRepo.ApplyReceipt(ctx, tx, product.ID, product.Version, newStock, newCost); err != nil {
		return nil, err
	}

	product.StockQuantity = newStock
	product.CostPrice = newCost
	product.IsActive = true
	product.Version++
	return product, nil
}

// ReserveStock 销售扣减库存，返回当前成本作为销售成本快照
// 无库存商品与服务类商品不校验也不扣减
func (s *StockService) ReserveStock(ctx context.Context, tx *gorm.DB, productID int64, quantity int) (decimal.Decimal, *model.Product, error) {
	if quantity <= 0 {
		return decimal.Zero, nil, validationError("销售数量必须大于0")
	}

	product, err := s.productRepo.GetByID(ctx, tx, productID)
	if err != nil {
		return decimal.Zero, nil, translate(err)
	}

	if !product.TracksStock() {
		return product.CostPrice, product, nil
	}

	if err := s.productRepo.DeductStock(ctx, tx, productID, quantity); err != nil {
		if errors.Is(err, repository.ErrStockNotEnough) {
			available := product.StockQuantity
			if current, getErr := s.productRepo.GetByID(ctx, tx, productID); getErr == nil {
				available = current.StockQuantity
			}
			return decimal.Zero, nil, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   available,
				Requested:   quantity,
			}
		}
		return decimal.Zero, nil, fmt.Errorf("扣减库存失败: %w", translate(err))
	}

	product.StockQuantity -= quantity
	return product.CostPrice, product, nil
}

// RestoreStock 退回库存，ReserveStock 的逆操作
func (s *StockService) RestoreStock(ctx context.Context, tx *gorm.DB, productID int64, quantity int) error {
	if quantity <= 0 {
		return validationError("退回数量必须大于0")
	}

	product, err := s.productRepo.GetByID(ctx, tx, productID)
	if err != nil {
		return translate(err)
	}

	if !product.TracksStock() {
		return nil
	}

	if err := s.productRepo.IncreaseStock(ctx, tx, productID, quantity); err != nil {
		return fmt.Errorf("退回库存失败: %w", translate(err))
	}
	return nil
}

// reserveItems 为销售明细逐行扣减库存
func (s *StockService) reserveItems(ctx context.Context, tx *gorm.DB, items []model.TransactionItem) error {
	for _, item := range items {
		if _, _, err := s.ReserveStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// restoreItems 为销售明细逐行退回库存
func (s *StockService) restoreItems(ctx context.Context, tx *gorm.DB, items []model.TransactionItem) error {
	for _, item := range items {
		if err := s.RestoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}
