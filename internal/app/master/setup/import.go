/**
 * 初始化:BOM导入模块
 * @description: 存储 -> 加载器 -> 仓库 -> 比对/标签/写入引擎 -> 编排器 -> 队列 -> 服务 -> 控制器
 */
package setup

import (
	"context"
	"fmt"

	"bomsync/internal/config"
	bomHandler "bomsync/internal/handler/bom"
	"bomsync/internal/pkg/logger"
	"bomsync/internal/repo/memory"
	bomRepo "bomsync/internal/repo/mysql/bom"
	redisRepo "bomsync/internal/repo/redis"
	"bomsync/internal/service/bom/apply"
	"bomsync/internal/service/bom/diff"
	"bomsync/internal/service/bom/importer"
	"bomsync/internal/service/bom/queue"
	"bomsync/internal/service/bom/source"
	"bomsync/internal/service/bom/tagid"
	"bomsync/internal/service/bom/tracker"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// BuildImportModule 构建BOM导入模块
// redisClient 仅在 import.progress_store=redis 时使用
func BuildImportModule(ctx context.Context, cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*ImportModule, error) {
	logger.WithFields(map[string]interface{}{
		"path":      "setup.import",
		"operation": "build_module",
		"func_name": "setup.BuildImportModule",
	}).Info("Building bom import module")

	// 1. 对象存储与解析
	storage, err := source.NewObjectStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to init object storage: %w", err)
	}
	loader := source.NewLoader(storage, source.NewJSONParser(), cfg.Storage)

	// 2. Repository 初始化
	store := bomRepo.NewStore(db)
	progressStore, err := buildProgressStore(cfg.Import.ProgressStore, redisClient)
	if err != nil {
		return nil, err
	}
	jobTracker := tracker.NewTracker(progressStore, store.Jobs(), cfg.Import.ProgressTTL)

	// 3. 引擎与编排器
	tags := tagid.NewGenerator(
		tagid.WithMaxRounds(cfg.Import.TagMaxRounds),
		tagid.WithLength(cfg.Import.TagLength),
	)
	applier := apply.NewEngine(store, tags,
		apply.WithChunkSize(cfg.Import.ChunkSize),
		apply.WithReportStep(cfg.Import.ReportStepPercent),
	)
	orchestrator := importer.NewOrchestrator(loader, diff.NewEngine(store.Assemblies()), applier, jobTracker)

	// 4. 队列
	q, err := queue.New(&cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to init import queue: %w", err)
	}

	// 5. Service 与 Handler
	service := importer.NewService(jobTracker, loader, q, orchestrator)
	handler := bomHandler.NewImportHandler(service)

	logger.WithFields(map[string]interface{}{
		"path":           "setup.import",
		"operation":      "build_module",
		"func_name":      "setup.BuildImportModule",
		"storage_driver": cfg.Storage.Driver,
		"queue_driver":   cfg.Queue.Driver,
		"progress_store": cfg.Import.ProgressStore,
	}).Info("Bom import module ready")

	return &ImportModule{
		ImportHandler: handler,
		ImportService: service,
		Orchestrator:  orchestrator,
		Tracker:       jobTracker,
		Store:         store,
		Queue:         q,
	}, nil
}

func buildProgressStore(kind string, redisClient *redis.Client) (tracker.ProgressStore, error) {
	switch kind {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("progress store is redis but no redis client is configured")
		}
		return redisRepo.NewProgressRepository(redisClient), nil
	case "memory", "":
		return memory.NewProgressRepository(), nil
	default:
		return nil, fmt.Errorf("invalid progress store: %s", kind)
	}
}
