package router

import "github.com/gin-gonic/gin"

// setupBOMRoutes 设置BOM导入路由
func (r *Router) setupBOMRoutes(v1 *gin.RouterGroup) {
	bom := v1.Group("/projects/:project_id/bom")
	{
		// 受理导入
		bom.POST("/import", r.importHandler.EnqueueImport)
		// 导入状态
		bom.GET("/import/status", r.importHandler.GetImportStatus)
	}
}
