package handler

import (
	"log"
	"net/http"
	"strings"
	"time"

	"posledger/internal/service"
	"posledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	claimsKey       = "claims"
)

// TokenParser 校验 token
type TokenParser interface {
	ParseToken(token string) (*service.Claims, error)
}

// RequestIDMiddleware 为每个请求分配 ID，上游传入时沿用
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		// 记录日志
		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %s | %d | %13v | %15s | %-7s %s",
			c.GetString(requestIDKey),
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %s %v", c.GetString(requestIDKey), err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// AuthMiddleware 解析 Bearer token，把操作人写入请求上下文
// 携带的 token 必须有效；required 为 true 时写接口必须携带 token
func AuthMiddleware(parser TokenParser, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if required && c.Request.Method != http.MethodGet {
				response.Unauthorized(c, "请先登录")
				return
			}
			c.Next()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		claims, err := parser.ParseToken(token)
		if err != nil {
			response.Unauthorized(c, "token 无效或已过期")
			return
		}

		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), claims.Name))
		c.Next()
	}
}
