package service

import (
	"context"
	"fmt"
	"strings"

	"posledger/internal/config"
	"posledger/internal/model"
	"posledger/internal/repository"
	"posledger/pkg/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductService 商品目录，只提供销售所需的最小能力
type ProductService struct {
	db          *gorm.DB
	productRepo *repository.ProductRepository
	recorder    *Recorder
}

func NewProductService(db *gorm.DB, cfg *config.Config, audit AuditSink) *ProductService {
	return &ProductService{
		db:          db,
		productRepo: repository.NewProductRepository(db),
		recorder:    NewRecorder(db, audit, cfg),
	}
}

type CreateProductRequest struct {
	Name          string
	Price         decimal.Decimal
	CostPrice     decimal.Decimal
	StockQuantity int
	IsStockless   bool
	IsService     bool
	Barcodes      []string
}

func (s *ProductService) Create(ctx context.Context, req *CreateProductRequest) (*model.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationError("商品名称不能为空")
	}
	if req.Price.IsNegative() || req.CostPrice.IsNegative() {
		return nil, validationError("价格不能为负数")
	}
	if req.StockQuantity < 0 {
		return nil, validationError("库存不能为负数")
	}
	codes, err := model.NormalizeBarcodes(req.Barcodes)
	if err != nil {
		return nil, translate(err)
	}

	product := &model.Product{
		Name:          name,
		Price:         money.Round(req.Price),
		CostPrice:     money.Round(req.CostPrice),
		StockQuantity: req.StockQuantity,
		IsActive:      true,
		IsStockless:   req.IsStockless,
		IsService:     req.IsService,
	}
	for _, code := range codes {
		product.Barcodes = append(product.Barcodes, model.ProductBarcode{Barcode: code})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.productRepo.Create(ctx, tx, product); err != nil {
			return fmt.Errorf("创建商品失败: %w", err)
		}
		entry := &model.AuditLog{
			Action:   model.AuditActionCreate,
			Entity:   model.AuditEntityProduct,
			EntityID: idString(product.ID),
			Description: fmt.Sprintf("Created product %s: price %s, cost %s, stock %d",
				product.Name, money.Format(product.Price), money.Format(product.CostPrice), product.StockQuantity),
			Changes: changesJSON(map[string]interface{}{
				"barcodes":     codes,
				"is_stockless": product.IsStockless,
				"is_service":   product.IsService,
			}),
		}
		return s.recorder.Record(ctx, tx, entry, nil)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *ProductService) Get(ctx context.Context, id int64) (*model.Product, error) {
	product, err := s.productRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, translate(err)
	}
	return product, nil
}

func (s *ProductService) GetByBarcode(ctx context.Context, barcode string) (*model.Product, error) {
	product, err := s.productRepo.GetByBarcode(ctx, strings.TrimSpace(barcode))
	if err != nil {
		return nil, translate(err)
	}
	return product, nil
}

func (s *ProductService) List(ctx context.Context, activeOnly bool, page, pageSize int) ([]*model.Product, int64, error) {
	return s.productRepo.List(ctx, activeOnly, page, pageSize)
}
