package handler

import (
	"time"

	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type TransactionItemRequest struct {
	ProductID int64            `json:"product_id" binding:"required"`
	Quantity  int              `json:"quantity" binding:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price" binding:"omitempty,gte=0"` // 为空时取商品售价
}

// CreateTransactionRequest 创建销售单请求
// 顾客优先使用 customer_id，否则按 customer_phone / customer_name 匹配或新建
type CreateTransactionRequest struct {
	TransactionDate *time.Time               `json:"transaction_date"`
	CustomerID      *int64                   `json:"customer_id"`
	CustomerName    string                   `json:"customer_name"`
	CustomerPhone   string                   `json:"customer_phone"`
	IsDelivery      bool                     `json:"is_delivery"`
	DriverID        *int64                   `json:"driver_id"`
	DriverName      string                   `json:"driver_name"`
	DriverPhone     string                   `json:"driver_phone"`
	Note            string                   `json:"note"`
	EmployeeName    string                   `json:"employee_name"`
	Discount        decimal.Decimal          `json:"discount" binding:"gte=0"`
	Items           []TransactionItemRequest `json:"items" binding:"required,min=1,dive"`
}

type PersonRefRequest struct {
	ID    *int64 `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (r *PersonRefRequest) toService() *service.PersonRef {
	if r == nil {
		return nil
	}
	return &service.PersonRef{ID: r.ID, Name: r.Name, Phone: r.Phone}
}

// EditTransactionRequest 字段缺省表示不修改；customer/driver 传空对象表示解除关联
type EditTransactionRequest struct {
	Note         *string           `json:"note"`
	EmployeeName *string           `json:"employee_name"`
	Customer     *PersonRefRequest `json:"customer"`
	Driver       *PersonRefRequest `json:"driver"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type RefundTransactionRequest struct {
	Reason string `json:"reason"`
	Method string `json:"method"`
}

// CreateTransaction 创建销售单
// POST /api/v1/transactions
//
// 库存扣减、顾客匹配、余额冲抵、审计在同一事务内完成，任一步失败整单回滚
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	items := make([]service.TransactionItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, service.TransactionItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	result, err := h.transactionService.Create(c.Request.Context(), &service.CreateTransactionRequest{
		TransactionDate: req.TransactionDate,
		Customer:        service.PersonRef{ID: req.CustomerID, Name: req.CustomerName, Phone: req.CustomerPhone},
		IsDelivery:      req.IsDelivery,
		Driver:          service.PersonRef{ID: req.DriverID, Name: req.DriverName, Phone: req.DriverPhone},
		Note:            req.Note,
		EmployeeName:    req.EmployeeName,
		Discount:        req.Discount,
		Items:           items,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// GetTransaction 销售单详情
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	trans, err := h.transactionService.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction": trans,
		"total_paid":  trans.TotalPaid(),
		"balance_due": trans.BalanceDue(),
	})
}

// ListTransactions 销售单列表
// GET /api/v1/transactions?status=PENDING&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := parsePage(c)

	transactions, total, err := h.transactionService.List(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, transactions, total, page, pageSize)
}

// EditTransaction 修改销售单
// PUT /api/v1/transactions/:id
func (h *Handler) EditTransaction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req EditTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.transactionService.Edit(c.Request.Context(), id, &service.EditTransactionRequest{
		Note:         req.Note,
		EmployeeName: req.EmployeeName,
		Customer:     req.Customer.toService(),
		Driver:       req.Driver.toService(),
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// UpdateTransactionStatus 状态流转
// PUT /api/v1/transactions/:id/status
func (h *Handler) UpdateTransactionStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.transactionService.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// DeleteTransaction 删除销售单
// DELETE /api/v1/transactions/:id
func (h *Handler) DeleteTransaction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.transactionService.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "销售单已删除"})
}

// RefundTransaction 全额退款
// POST /api/v1/transactions/:id/refund
func (h *Handler) RefundTransaction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req RefundTransactionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}

	result, err := h.refundService.Refund(c.Request.Context(), id, &service.RefundRequest{
		Reason: req.Reason,
		Method: req.Method,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// ListDriverTransactions 司机的配送单
// GET /api/v1/drivers/:id/transactions?status=PENDING
func (h *Handler) ListDriverTransactions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	transactions, err := h.transactionService.ListForDriver(c.Request.Context(), id, c.Query("status"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, transactions)
}
