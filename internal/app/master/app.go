package master

import (
	"context"
	"fmt"
	"time"

	"bomsync/internal/app/master/router"
	"bomsync/internal/app/master/setup"
	"bomsync/internal/config"
	"bomsync/internal/pkg/database"
	"bomsync/internal/pkg/logger"
	"bomsync/internal/service/bom/queue"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App 应用程序结构体
type App struct {
	config  *config.Config
	db      *gorm.DB
	redis   *redis.Client
	module  *setup.ImportModule
	router  *router.Router
	watcher *config.ConfigWatcher

	cancel context.CancelFunc // 停止接收新任务
	abort  context.CancelFunc // 中断在途任务
	done   chan struct{}
}

// abortGrace 中断在途任务后等待其写入终态的时间
const abortGrace = 5 * time.Second

// NewApp 加载配置并初始化全部依赖
func NewApp(configPath, env string) (*App, error) {
	cfg, err := config.LoadConfig(configPath, env)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logManager, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := database.NewMySQLConnection(&cfg.Database.MySQL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mysql: %w", err)
	}
	readiness := map[string]router.ReadinessCheck{
		"mysql": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var redisClient *redis.Client
	if cfg.Import.ProgressStore == "redis" {
		redisClient, err = database.NewRedisConnection(&cfg.Database.Redis)
		if err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		readiness["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	module, err := setup.BuildImportModule(context.Background(), cfg, db, redisClient)
	if err != nil {
		_ = database.Close(db)
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	r := router.NewRouter(cfg, module.ImportHandler, readiness)
	r.SetupRoutes()

	app := &App{
		config: cfg,
		db:     db,
		redis:  redisClient,
		module: module,
		router: r,
	}

	watcher, err := config.NewConfigWatcher(configPath, env)
	if err != nil {
		logger.LogSystemEvent("config", "watcher_disabled", err.Error(), logrus.WarnLevel, nil)
	} else {
		watcher.AddCallback(func(oldConfig, newConfig *config.Config) error {
			return logManager.UpdateConfig(&newConfig.Log)
		})
		watcher.AddCallback(config.ImportConfigReloadCallback)
		app.watcher = watcher
	}

	return app, nil
}

// GetConfig 获取配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetRouter 获取路由器实例
func (a *App) GetRouter() *router.Router {
	return a.router
}

// Start 启动配置监听和导入消费者
func (a *App) Start() error {
	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			logger.LogSystemEvent("config", "watcher_start_failed", err.Error(), logrus.WarnLevel, nil)
		}
	}

	// 进程内队列的任务随上次进程退出丢失，停留在 processing 的记录不会再被执行
	if a.config.Queue.Driver == "" || a.config.Queue.Driver == "memory" {
		if err := a.module.ImportService.RecoverInterrupted(context.Background()); err != nil {
			logger.LogSystemEvent("import", "recover_failed", err.Error(), logrus.WarnLevel, nil)
		}
	}

	// 停止消费只影响取任务；在途任务使用独立的 jobCtx，停机超时后才被中断
	jobCtx, abort := context.WithCancel(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.abort = abort
	a.done = make(chan struct{})

	handler := func(_ context.Context, task *queue.Task) error {
		return a.module.ImportService.HandleTask(jobCtx, task)
	}
	go func() {
		defer close(a.done)
		if err := a.module.Queue.Consume(ctx, handler); err != nil {
			logger.LogSystemEvent("queue", "consumer_stopped", err.Error(), logrus.ErrorLevel, nil)
		}
	}()

	logger.LogSystemEvent("queue", "consumer_started", "import consumer started", logrus.InfoLevel, map[string]interface{}{
		"driver":      a.config.Queue.Driver,
		"concurrency": a.config.Queue.Concurrency,
	})
	return nil
}

// Stop 停止消费者并释放连接
// 先停止接收新任务并等待在途任务完成；ctx 到期后中断在途任务，其记录写为 failed
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			logger.LogSystemEvent("queue", "consumer_stop_timeout", "aborting in-flight import jobs", logrus.WarnLevel, nil)
			a.abort()
			select {
			case <-a.done:
			case <-time.After(abortGrace):
				logger.LogSystemEvent("queue", "consumer_abort_timeout", "import consumer did not stop after abort", logrus.ErrorLevel, nil)
			}
		}
		a.abort()
	}

	if err := a.module.Queue.Close(); err != nil {
		logger.LogSystemEvent("queue", "close_failed", err.Error(), logrus.WarnLevel, nil)
	}
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}

	logger.LogSystemEvent("app", "stopped", "application stopped", logrus.InfoLevel, nil)
	return database.Close(a.db)
}
