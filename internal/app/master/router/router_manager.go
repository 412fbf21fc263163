/**
 * 路由:路由管理器
 * @description: Router结构体、NewRouter函数和SetupRoutes主函数
 */
package router

import (
	"context"

	"bomsync/internal/app/master/middleware"
	"bomsync/internal/config"
	bomHandler "bomsync/internal/handler/bom"
	"bomsync/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck 依赖服务就绪检查
type ReadinessCheck func(ctx context.Context) error

// Router 路由管理器
type Router struct {
	config        *config.Config
	engine        *gin.Engine
	importHandler *bomHandler.ImportHandler
	readiness     map[string]ReadinessCheck
}

// NewRouter 创建路由管理器实例
func NewRouter(cfg *config.Config, importHandler *bomHandler.ImportHandler, readiness map[string]ReadinessCheck) *Router {
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	return &Router{
		config:        cfg,
		engine:        gin.New(),
		importHandler: importHandler,
		readiness:     readiness,
	}
}

// SetupRoutes 设置全局中间件和路由
func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.GinLoggingMiddleware())

	api := r.engine.Group("/api")
	v1 := api.Group("/v1")

	// BOM导入路由
	r.setupBOMRoutes(v1)
	// 健康检查路由
	r.setupHealthRoutes(api)

	if r.config.Monitor.Metrics.Enabled {
		r.engine.GET(r.config.Monitor.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	logger.WithFields(map[string]interface{}{
		"path":            "router_manager.SetupRoutes",
		"operation":       "register_routes",
		"func_name":       "router.SetupRoutes",
		"metrics_enabled": r.config.Monitor.Metrics.Enabled,
	}).Info("Routes registered")
}

// GetEngine 获取Gin引擎实例
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
