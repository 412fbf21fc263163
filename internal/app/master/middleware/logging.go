/**
 * 中间件:日志相关中间件
 * @description: GinLoggingMiddleware 记录访问日志，并把客户端IP和请求ID写入Gin上下文与标准上下文
 */
package middleware

import (
	"context"
	"time"

	"bomsync/internal/pkg/logger"
	"bomsync/internal/pkg/utils"

	"github.com/gin-gonic/gin"
)

// GinLoggingMiddleware Gin日志中间件
// 使用方式: router.Use(middleware.GinLoggingMiddleware())
func GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		clientIP := utils.GetClientIP(c)
		requestID := utils.GetRequestID(c)

		// 存储到Gin上下文
		c.Set(string(utils.ContextKeyClientIP), clientIP)
		c.Set(string(utils.ContextKeyRequestID), requestID)
		c.Header(utils.HeaderRequestID, requestID)

		// 存储到标准上下文，service 层通过 utils.GetClientIPFromContext 读取
		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyClientIP, clientIP)
		ctx = context.WithValue(ctx, utils.ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.LogAccessRequest(c, start, requestID)
	}
}
