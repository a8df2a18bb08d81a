package handler

import (
	"reflect"
	"sync"
	"time"

	"posledger/internal/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var registerValidatorOnce sync.Once

// registerDecimalValidation 让 gt/gte 等数值校验作用于 decimal.Decimal
func registerDecimalValidation() {
	registerValidatorOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
	})
}

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	registerDecimalValidation()

	r := gin.New()

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// 健康检查
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	api.POST("/auth/login", h.Login)

	// 以下接口按配置校验 token
	secured := api.Group("", AuthMiddleware(h.personService, cfg.Auth.Required))
	{
		// 商品
		products := secured.Group("/products")
		{
			products.POST("", h.CreateProduct)
			products.GET("", h.ListProducts)
			products.GET("/:id", h.GetProduct)
			products.GET("/barcode/:code", h.GetProductByBarcode)
		}

		// 销售单
		transactions := secured.Group("/transactions")
		{
			transactions.POST("", h.CreateTransaction)
			transactions.GET("", h.ListTransactions)
			transactions.GET("/:id", h.GetTransaction)
			transactions.PUT("/:id", h.EditTransaction)
			transactions.DELETE("/:id", h.DeleteTransaction)
			transactions.PUT("/:id/status", h.UpdateTransactionStatus)
			transactions.POST("/:id/refund", h.RefundTransaction)
		}

		// 收款
		payments := secured.Group("/payments")
		{
			payments.POST("", h.RecordPayment)
			payments.GET("", h.ListPayments)
			payments.GET("/:id", h.GetPayment)
			payments.DELETE("/:id", h.DeletePayment)
		}

		// 采购入库
		purchases := secured.Group("/purchases")
		{
			purchases.POST("", h.CreatePurchase)
			purchases.GET("", h.ListPurchases)
			purchases.GET("/:id", h.GetPurchase)
		}

		// 人员与对账
		people := secured.Group("/people")
		{
			people.POST("", h.CreatePerson)
			people.GET("", h.ListPeople)
			people.POST("/sync", h.SyncNames)
			people.GET("/:id", h.GetPerson)
			people.PUT("/:id", h.UpdatePerson)
			people.DELETE("/:id", h.DeletePerson)
			people.GET("/:id/statement", h.GetStatement)
			people.GET("/:id/summary", h.GetPersonSummary)
			people.GET("/:id/transactions", h.ListPersonTransactions)
			people.POST("/:id/apply-credit", h.ApplyPersonCredit)
		}

		secured.GET("/drivers/:id/transactions", h.ListDriverTransactions)

		// 审计日志
		secured.GET("/logs", h.ListAuditLogs)
	}

	return r
}
