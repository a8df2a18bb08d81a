package handler

import (
	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreatePersonRequest struct {
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role" binding:"required,oneof=Customer Driver Employee Admin"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Password string `json:"password"`
	Passcode string `json:"passcode" binding:"omitempty,numeric,min=4,max=8"`
}

type UpdatePersonRequest struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	IsActive *bool   `json:"is_active"`
	Password *string `json:"password"`
}

// CreatePerson 新建人员
// POST /api/v1/people
func (h *Handler) CreatePerson(c *gin.Context) {
	var req CreatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	person, err := h.personService.Create(c.Request.Context(), &service.CreatePersonRequest{
		Name:     req.Name,
		Role:     req.Role,
		Phone:    req.Phone,
		Username: req.Username,
		Password: req.Password,
		Passcode: req.Passcode,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, person)
}

// ListPeople 人员列表（含余额汇总）
// GET /api/v1/people?role=Customer
func (h *Handler) ListPeople(c *gin.Context) {
	summaries, err := h.personService.List(c.Request.Context(), c.Query("role"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, summaries)
}

// GetPerson 人员详情
// GET /api/v1/people/:id
func (h *Handler) GetPerson(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	person, err := h.personService.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, person)
}

// UpdatePerson 修改人员
// PUT /api/v1/people/:id
func (h *Handler) UpdatePerson(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req UpdatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	person, err := h.personService.Update(c.Request.Context(), id, &service.UpdatePersonRequest{
		Name:     req.Name,
		Phone:    req.Phone,
		IsActive: req.IsActive,
		Password: req.Password,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, person)
}

// DeletePerson 删除人员
// DELETE /api/v1/people/:id
func (h *Handler) DeletePerson(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.personService.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "人员已删除"})
}

// GetStatement 对账单
// GET /api/v1/people/:id/statement?from=2024-01-01&to=2024-01-31
func (h *Handler) GetStatement(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	from, ok := parseDateQuery(c, "from", false)
	if !ok {
		return
	}
	to, ok := parseDateQuery(c, "to", true)
	if !ok {
		return
	}

	statement, err := h.statementService.BuildStatement(c.Request.Context(), id, from, to)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, statement)
}

// GetPersonSummary 余额、消费、利润汇总
// GET /api/v1/people/:id/summary
func (h *Handler) GetPersonSummary(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	summary, err := h.statementService.Summary(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, summary)
}

// ListPersonTransactions 人员的销售单，最新在前
// GET /api/v1/people/:id/transactions
func (h *Handler) ListPersonTransactions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	transactions, err := h.transactionService.ListForPerson(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, transactions)
}

// ApplyPersonCredit 手动触发余额冲抵
// POST /api/v1/people/:id/apply-credit
func (h *Handler) ApplyPersonCredit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	applied, err := h.paymentService.ApplyOutstandingCredit(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, applied)
}

// SyncNames 姓名快照对账
// POST /api/v1/people/sync
func (h *Handler) SyncNames(c *gin.Context) {
	result, err := h.personService.SyncNames(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}
