/**
 * 路由:健康检查路由
 */
package router

import (
	"context"
	"net/http"
	"time"

	"bomsync/internal/pkg/logger"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes 设置健康检查路由
func (r *Router) setupHealthRoutes(api *gin.RouterGroup) {
	api.GET("/health", r.healthCheck)
	api.GET("/ready", r.readinessCheck)
	api.GET("/live", r.livenessCheck)
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": logger.FormatTimestamp(time.Now()),
	})
}

// readinessCheck 检查数据库等依赖是否可用
func (r *Router) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range r.readiness {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"failed":    failed,
			"timestamp": logger.FormatTimestamp(time.Now()),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": logger.FormatTimestamp(time.Now()),
	})
}

func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": logger.FormatTimestamp(time.Now()),
	})
}
