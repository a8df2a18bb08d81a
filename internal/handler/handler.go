package handler

import (
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"posledger/internal/config"
	"posledger/internal/repository"
	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	db                 *gorm.DB
	personService      *service.PersonService
	productService     *service.ProductService
	transactionService *service.TransactionService
	refundService      *service.RefundService
	paymentService     *service.PaymentService
	purchaseService    *service.PurchaseService
	statementService   *service.StatementService
	auditService       *service.AuditService
}

// NewHandler 创建处理器实例，审计日志统一写入 audit_log 表
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	audit := repository.NewAuditRepository(db)
	return &Handler{
		db:                 db,
		personService:      service.NewPersonService(db, cfg, audit),
		productService:     service.NewProductService(db, cfg, audit),
		transactionService: service.NewTransactionService(db, rdb, cfg, audit),
		refundService:      service.NewRefundService(db, cfg, audit),
		paymentService:     service.NewPaymentService(db, rdb, cfg, audit),
		purchaseService:    service.NewPurchaseService(db, rdb, cfg, audit),
		statementService:   service.NewStatementService(db),
		auditService:       service.NewAuditService(db),
	}
}

// handleError 按错误类型映射业务码
func handleError(c *gin.Context, err error) {
	var stockErr *service.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		response.BusinessErrorWithData(c, response.CodeInsufficientStock, stockErr.Error(), gin.H{
			"product_id":   stockErr.ProductID,
			"product_name": stockErr.ProductName,
			"available":    stockErr.Available,
			"requested":    stockErr.Requested,
		})
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrValidation):
		response.BusinessError(c, response.CodeValidation, err.Error())
	case errors.Is(err, service.ErrOverAllocation):
		response.BusinessError(c, response.CodeOverAllocation, err.Error())
	case errors.Is(err, service.ErrAlreadyRefunded):
		response.BusinessError(c, response.CodeAlreadyRefunded, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		response.BusinessError(c, response.CodeInvalidState, err.Error())
	case errors.Is(err, service.ErrAmbiguousPerson):
		response.BusinessError(c, response.CodeAmbiguousPerson, err.Error())
	case errors.Is(err, service.ErrConcurrentUpdate):
		response.BusinessError(c, response.CodeConcurrentUpdate, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		response.Unauthorized(c, err.Error())
	default:
		log.Printf("[Handler] %s %s 处理失败: %v", c.Request.Method, c.Request.URL.Path, err)
		response.ServerError(c, "服务器内部错误")
	}
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

func parsePage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}

// parseDateQuery 支持 2006-01-02 与 RFC3339
// endOfDay 为 true 时，只有日期的参数取当天最后一刻
func parseDateQuery(c *gin.Context, name string, endOfDay bool) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, true
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		response.ParamError(c, name+" 日期格式错误，应为 YYYY-MM-DD 或 RFC3339")
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = "degraded"
	}
	c.JSON(200, gin.H{"status": status})
}
