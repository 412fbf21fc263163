// Package queue 导入任务队列：内存队列(单实例)与RabbitMQ队列(多实例)
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bomsync/internal/config"
)

var (
	// ErrQueueFull 队列已满
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = errors.New("queue is closed")
)

// Task 导入任务消息
type Task struct {
	JobID       string    `json:"job_id"`
	ProjectID   uint64    `json:"project_id"`
	Operator    uint64    `json:"operator"`
	Force       bool      `json:"force"`
	ObjectKey   string    `json:"object_key"`
	Fingerprint string    `json:"fingerprint"`
	QueuedAt    time.Time `json:"queued_at"`
	Attempt     int       `json:"-"` // 已重试次数，由队列维护
}

// Handler 处理一个导入任务，返回可重试错误时队列按退避策略重试
type Handler func(ctx context.Context, task *Task) error

// Queue 导入任务队列
// 每个消费槽位同一时刻只处理一个任务
type Queue interface {
	Publish(ctx context.Context, task *Task) error
	// Consume 阻塞直到 ctx 取消
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// New 根据配置创建队列
func New(cfg *config.QueueConfig) (Queue, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryQueue(cfg.BufferSize, cfg.Concurrency, cfg.MaxRetries, cfg.MaxBackoff), nil
	case "rabbitmq":
		return NewRabbitMQQueue(cfg)
	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", cfg.Driver)
	}
}

// sleepContext 等待 d 或 ctx 取消
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
