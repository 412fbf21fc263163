/*
 * @description: 通用的工具包
 */

package utils

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKey 类型用于标准上下文键的定义，避免使用裸字符串造成键冲突
type ContextKey string

const (
	// ContextKeyClientIP 标准上下文中存储客户端IP的统一键
	ContextKeyClientIP ContextKey = "client_ip"
	// ContextKeyRequestID 标准上下文中存储请求ID的统一键
	ContextKeyRequestID ContextKey = "request_id"
)

// HeaderRequestID 请求ID头
const HeaderRequestID = "X-Request-ID"

// HeaderUserID 操作人ID头，由上游网关在认证后写入
const HeaderUserID = "X-User-ID"

// GetClientIP 获取规范化的客户端IP
// IPv6 回环地址统一为 127.0.0.1，IPv4 映射地址还原为 IPv4
func GetClientIP(c *gin.Context) string {
	ip := strings.TrimSpace(c.ClientIP())
	if ip == "" {
		return ""
	}
	if ip == "::1" {
		return "127.0.0.1"
	}
	if parsed := net.ParseIP(ip); parsed != nil {
		if v4 := parsed.To4(); v4 != nil {
			return v4.String()
		}
		return parsed.String()
	}
	return ip
}

// GetRequestID 读取请求ID，请求头缺失时生成一个
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(string(ContextKeyRequestID)); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	if id := c.GetHeader(HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// GetOperatorID 从请求头读取操作人ID，缺失或非法时返回0
func GetOperatorID(c *gin.Context) uint64 {
	id, err := strconv.ParseUint(c.GetHeader(HeaderUserID), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// GetClientIPFromContext 从标准上下文读取客户端IP
// 来源是日志中间件写入的 ContextKeyClientIP，不存在时返回空字符串
func GetClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// GetRequestIDFromContext 从标准上下文读取请求ID
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
