/**
 * 初始化
 * @description: master程序初始化相关的类型定义
 */
package setup

import (
	bomHandler "bomsync/internal/handler/bom"
	bomRepo "bomsync/internal/repo/mysql/bom"
	"bomsync/internal/service/bom/importer"
	"bomsync/internal/service/bom/queue"
	"bomsync/internal/service/bom/tracker"
)

// ImportModule 是BOM导入模块的聚合输出
// Handler 供路由装配，Service 与 Queue 供 App 启动消费者
type ImportModule struct {
	// Handlers
	ImportHandler *bomHandler.ImportHandler

	// Services
	ImportService *importer.Service
	Orchestrator  *importer.Orchestrator
	Tracker       *tracker.Tracker
	Store         bomRepo.Store

	// Queue
	Queue queue.Queue
}
