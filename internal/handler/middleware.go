package handler

import (
	"strings"
	"time"

	"leadledger/internal/model"
	"leadledger/internal/service"
	"leadledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 上游网关注入的身份头
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserEmail = "X-User-Email"
	HeaderRequestID = "X-Request-ID"

	ctxAffiliateKey = "affiliate"
	ctxRequestIDKey = "request_id"
)

// RequestIDMiddleware 透传或生成请求ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ctxRequestIDKey, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		log.Info("[HTTP]",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("request_id", c.GetString(ctxRequestIDKey)),
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("[PANIC]", zap.Any("error", err), zap.String("path", c.Request.URL.Path))
				response.Abort(c, 500, response.CodeServerError, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-User-ID, X-User-Name, X-User-Email")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware 解析当前调用者
// 首次出现的账号自动建档，之后每个请求都拿到同一个推广者
func IdentityMiddleware(affiliates *service.AffiliateService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			response.Abort(c, 401, response.CodeUnauthorized, "未登录")
			return
		}

		affiliate, err := affiliates.EnsureAffiliate(c.Request.Context(), userID, c.GetHeader(HeaderUserName), c.GetHeader(HeaderUserEmail))
		if err != nil {
			if service.IsClientError(err) {
				response.Abort(c, 401, response.CodeUnauthorized, err.Error())
				return
			}
			response.Abort(c, 500, response.CodeServerError, "服务器内部错误")
			return
		}

		c.Set(ctxAffiliateKey, affiliate)
		c.Next()
	}
}

// AdminOnly 必须在 IdentityMiddleware 之后使用
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		affiliate := currentAffiliate(c)
		if affiliate == nil || !affiliate.IsAdmin() {
			response.Abort(c, 403, response.CodeForbidden, "需要管理员权限")
			return
		}
		c.Next()
	}
}

func currentAffiliate(c *gin.Context) *model.Affiliate {
	v, ok := c.Get(ctxAffiliateKey)
	if !ok {
		return nil
	}
	affiliate, _ := v.(*model.Affiliate)
	return affiliate
}

func currentActor(c *gin.Context) service.Actor {
	affiliate := currentAffiliate(c)
	if affiliate == nil {
		return service.Actor{}
	}
	return service.Actor{AffiliateID: affiliate.ID, Role: affiliate.Role}
}
