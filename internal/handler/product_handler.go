package handler

import (
	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type CreateProductRequest struct {
	Name          string          `json:"name" binding:"required"`
	Price         decimal.Decimal `json:"price" binding:"gte=0"`
	CostPrice     decimal.Decimal `json:"cost_price" binding:"gte=0"`
	StockQuantity int             `json:"stock_quantity" binding:"gte=0"`
	IsStockless   bool            `json:"is_stockless"`
	IsService     bool            `json:"is_service"`
	Barcodes      []string        `json:"barcodes"`
}

// CreateProduct 新建商品
// POST /api/v1/products
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	product, err := h.productService.Create(c.Request.Context(), &service.CreateProductRequest{
		Name:          req.Name,
		Price:         req.Price,
		CostPrice:     req.CostPrice,
		StockQuantity: req.StockQuantity,
		IsStockless:   req.IsStockless,
		IsService:     req.IsService,
		Barcodes:      req.Barcodes,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, product)
}

// GetProduct 商品详情
// GET /api/v1/products/:id
func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	product, err := h.productService.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, product)
}

// GetProductByBarcode 按条码查询
// GET /api/v1/products/barcode/:code
func (h *Handler) GetProductByBarcode(c *gin.Context) {
	product, err := h.productService.GetByBarcode(c.Request.Context(), c.Param("code"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, product)
}

// ListProducts 商品列表
// GET /api/v1/products?active=true&page=1&page_size=20
func (h *Handler) ListProducts(c *gin.Context) {
	page, pageSize := parsePage(c)
	activeOnly := c.Query("active") == "true"

	products, total, err := h.productService.List(c.Request.Context(), activeOnly, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, products, total, page, pageSize)
}
