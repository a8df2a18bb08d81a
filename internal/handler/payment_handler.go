package handler

import (
	"time"

	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type AllocationRequest struct {
	TransactionID int64           `json:"transaction_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"gt=0"`
}

// RecordPaymentRequest 登记收款请求
// 指定 allocations 时按手工分配；否则 auto_allocate（默认开启）按 FIFO 冲抵
type RecordPaymentRequest struct {
	PaymentDate  *time.Time          `json:"payment_date"`
	Amount       decimal.Decimal     `json:"amount" binding:"gt=0"`
	Method       string              `json:"method" binding:"omitempty,oneof=Cash Card Transfer"`
	Reference    string              `json:"reference"`
	PersonID     *int64              `json:"person_id"`
	CustomerName string              `json:"customer_name"`
	Phone        string              `json:"phone"`
	EmployeeName string              `json:"employee_name"`
	Allocations  []AllocationRequest `json:"allocations" binding:"omitempty,dive"`
	AutoAllocate *bool               `json:"auto_allocate"`
}

// RecordPayment 登记收款
// POST /api/v1/payments
func (h *Handler) RecordPayment(c *gin.Context) {
	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	allocations := make([]service.ManualAllocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocations = append(allocations, service.ManualAllocation{TransactionID: a.TransactionID, Amount: a.Amount})
	}
	autoAllocate := true
	if req.AutoAllocate != nil {
		autoAllocate = *req.AutoAllocate
	}

	result, err := h.paymentService.RecordPayment(c.Request.Context(), &service.RecordPaymentRequest{
		PaymentDate:  req.PaymentDate,
		Amount:       req.Amount,
		Method:       req.Method,
		Reference:    req.Reference,
		PersonID:     req.PersonID,
		CustomerName: req.CustomerName,
		Phone:        req.Phone,
		EmployeeName: req.EmployeeName,
		Allocations:  allocations,
		AutoAllocate: autoAllocate,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// GetPayment 收款详情
// GET /api/v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	payment, err := h.paymentService.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"payment":     payment,
		"allocated":   payment.Allocated(),
		"unallocated": payment.Unallocated(),
	})
}

// ListPayments 收款列表
// GET /api/v1/payments?page=1&page_size=20
func (h *Handler) ListPayments(c *gin.Context) {
	page, pageSize := parsePage(c)

	payments, total, err := h.paymentService.List(c.Request.Context(), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, payments, total, page, pageSize)
}

// DeletePayment 删除收款
// DELETE /api/v1/payments/:id
func (h *Handler) DeletePayment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.paymentService.DeletePayment(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "收款已删除"})
}
