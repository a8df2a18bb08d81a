package handler

import (
	"time"

	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type PurchaseItemRequest struct {
	ProductID int64           `json:"product_id" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
	UnitCost  decimal.Decimal `json:"unit_cost" binding:"gte=0"`
}

type CreatePurchaseRequest struct {
	PurchaseDate  *time.Time            `json:"purchase_date"`
	Supplier      string                `json:"supplier"`
	PaymentStatus string                `json:"payment_status" binding:"omitempty,oneof=Paid Pending"`
	PaidBy        string                `json:"paid_by"`
	Items         []PurchaseItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CreatePurchase 采购入库
// POST /api/v1/purchases
func (h *Handler) CreatePurchase(c *gin.Context) {
	var req CreatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	items := make([]service.PurchaseItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, service.PurchaseItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
		})
	}

	purchase, err := h.purchaseService.ApplyPurchase(c.Request.Context(), &service.CreatePurchaseRequest{
		PurchaseDate:  req.PurchaseDate,
		Supplier:      req.Supplier,
		PaymentStatus: req.PaymentStatus,
		PaidBy:        req.PaidBy,
		Items:         items,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, purchase)
}

// GetPurchase 采购单详情
// GET /api/v1/purchases/:id
func (h *Handler) GetPurchase(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	purchase, err := h.purchaseService.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, purchase)
}

// ListPurchases 采购单列表
// GET /api/v1/purchases?page=1&page_size=20
func (h *Handler) ListPurchases(c *gin.Context) {
	page, pageSize := parsePage(c)

	purchases, total, err := h.purchaseService.List(c.Request.Context(), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, purchases, total, page, pageSize)
}
