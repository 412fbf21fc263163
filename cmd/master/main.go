/*
 * @description: 主程序入口
 * @func: 初始化应用、启动导入消费者与HTTP服务、等待中断信号后优雅退出
 */

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bomsync/internal/app/master"
	"bomsync/internal/pkg/logger"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "配置文件目录 (默认 configs 或 BOMSYNC_CONFIG_PATH)")
	env := flag.String("env", "", "环境标识 (development, test, production)")
	flag.Parse()

	app, err := master.NewApp(*configPath, *env)
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	config := app.GetConfig()
	engine := app.GetRouter().GetEngine()

	if err := app.Start(); err != nil {
		logger.Fatalf("Failed to start app: %v", err)
	}

	addr := config.Server.GetAddress()
	server := &http.Server{
		Addr:           addr,
		Handler:        engine,
		ReadTimeout:    config.Server.ReadTimeout,
		WriteTimeout:   config.Server.WriteTimeout,
		IdleTimeout:    config.Server.IdleTimeout,
		MaxHeaderBytes: config.Server.MaxHeaderBytes,
	}

	go func() {
		logger.LogSystemEvent("server", "starting", "http server listening", logrus.InfoLevel, map[string]interface{}{
			"addr": addr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.LogSystemEvent("server", "shutting_down", "received shutdown signal", logrus.InfoLevel, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := app.Stop(ctx); err != nil {
		logger.Errorf("Failed to stop app cleanly: %v", err)
	}

	logger.LogSystemEvent("server", "exited", "server exiting", logrus.InfoLevel, nil)
}
