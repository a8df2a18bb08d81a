package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"posledger/internal/config"
	"posledger/internal/model"
	"posledger/internal/repository"
	"posledger/pkg/idgen"
	"posledger/pkg/money"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultPaidBy = "Store"

type PurchaseService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	purchaseRepo *repository.PurchaseRepository
	stock        *StockService
	recorder     *Recorder
}

func NewPurchaseService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, audit AuditSink) *PurchaseService {
	return &PurchaseService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		purchaseRepo: repository.NewPurchaseRepository(db),
		stock:        NewStockService(db),
		recorder:     NewRecorder(db, audit, cfg),
	}
}

type PurchaseItemRequest struct {
	ProductID int64
	Quantity  int
	UnitCost  decimal.Decimal
}

type CreatePurchaseRequest struct {
	PurchaseDate  *time.Time
	Supplier      string
	PaymentStatus string // Paid / Pending，默认 Paid
	PaidBy        string // 默认 Store
	Items         []PurchaseItemRequest
}

func validatePurchase(req *CreatePurchaseRequest) error {
	if len(req.Items) == 0 {
		return validationError("采购单至少需要一个商品")
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return validationError("商品 %d 入库数量必须大于0", line.ProductID)
		}
		if line.UnitCost.IsNegative() {
			return validationError("商品 %d 入库单价不能为负数", line.ProductID)
		}
	}
	switch req.PaymentStatus {
	case "", model.PurchasePaymentPaid, model.PurchasePaymentPending:
	default:
		return validationError("未知的付款状态: %s", req.PaymentStatus)
	}
	return nil
}

// ApplyPurchase 采购入库
// 所有明细在同一事务内入库，任一商品不存在则整单回滚；成本乐观锁冲突时整单重试
func (s *PurchaseService) ApplyPurchase(ctx context.Context, req *CreatePurchaseRequest) (*model.Purchase, error) {
	if err := validatePurchase(req); err != nil {
		return nil, err
	}

	productIDs := make([]int64, 0, len(req.Items))
	for _, line := range req.Items {
		productIDs = append(productIDs, line.ProductID)
	}

	scope := newLockScope(s.redisClient, s.cfg.Business.LockTimeout())
	defer scope.release()
	if err := scope.products(ctx, productIDs); err != nil {
		return nil, err
	}

	paymentStatus := req.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = model.PurchasePaymentPaid
	}
	paidBy := strings.TrimSpace(req.PaidBy)
	if paidBy == "" {
		paidBy = defaultPaidBy
	}
	date := normalizeDate(req.PurchaseDate)

	var purchase *model.Purchase
	err := withRetry(s.cfg.Business.MaxRetryCount, "ApplyPurchase", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			items := make([]model.PurchaseItem, 0, len(req.Items))
			total := decimal.Zero
			var costChanges []map[string]interface{}
			for _, line := range req.Items {
				unitCost := money.Round(line.UnitCost)
				product, err := s.stock.ApplyPurchase(ctx, tx, line.ProductID, line.Quantity, unitCost)
				if err != nil {
					return err
				}
				item := model.PurchaseItem{
					ProductID: line.ProductID,
					Quantity:  line.Quantity,
					UnitCost:  unitCost,
				}
				items = append(items, item)
				total = total.Add(item.TotalCost())
				costChanges = append(costChanges, map[string]interface{}{
					"product_id": product.ID,
					"name":       product.Name,
					"quantity":   line.Quantity,
					"unit_cost":  money.Format(unitCost),
					"new_cost":   money.Format(product.CostPrice),
					"new_stock":  product.StockQuantity,
				})
			}

			p := &model.Purchase{
				PurchaseNo:    idgen.GeneratePurchaseNo(),
				PurchaseDate:  date,
				Supplier:      strings.TrimSpace(req.Supplier),
				TotalAmount:   money.Round(total),
				PaymentStatus: paymentStatus,
				PaidBy:        paidBy,
				Items:         items,
			}
			if err := s.purchaseRepo.Create(ctx, tx, p); err != nil {
				return fmt.Errorf("创建采购单失败: %w", err)
			}

			entry := &model.AuditLog{
				Action:   model.AuditActionPurchase,
				Entity:   model.AuditEntityPurchase,
				EntityID: idString(p.ID),
				Description: fmt.Sprintf("Purchase #%d from %s: %d line(s), total %s, %s by %s",
					p.ID, p.Supplier, len(items), money.Format(p.TotalAmount), p.PaymentStatus, p.PaidBy),
				Changes: changesJSON(costChanges),
			}
			event := &LedgerEvent{
				Type: model.EventPurchaseApplied,
				Key:  p.PurchaseNo,
				Payload: map[string]interface{}{
					"purchase_id":  p.ID,
					"total_amount": money.Format(p.TotalAmount),
					"items":        costChanges,
				},
			}
			if err := s.recorder.Record(ctx, tx, entry, event); err != nil {
				return err
			}

			purchase = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[PurchaseService] 采购入库成功: id=%d, total=%s", purchase.ID, money.Format(purchase.TotalAmount))
	return purchase, nil
}

func (s *PurchaseService) Get(ctx context.Context, id int64) (*model.Purchase, error) {
	purchase, err := s.purchaseRepo.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return purchase, nil
}

func (s *PurchaseService) List(ctx context.Context, page, pageSize int) ([]*model.Purchase, int64, error) {
	return s.purchaseRepo.List(ctx, page, pageSize)
}
