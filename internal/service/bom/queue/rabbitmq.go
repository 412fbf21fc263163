package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bomsync/internal/config"
	"bomsync/internal/pkg/logger"
	"bomsync/internal/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const retryHeader = "x-retry-count"

// publisher 发布通道，*amqp.Channel 实现
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQQueue 基于 RabbitMQ 的持久化队列，多实例部署时共享
// 消息手动确认；瞬时错误带重试计数重新发布，任务被中断时退回 broker，其余错误直接丢弃
type RabbitMQQueue struct {
	conn        *amqp.Connection
	publishCh   publisher
	publishMu   sync.Mutex
	name        string
	concurrency int
	maxRetries  int
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRabbitMQQueue 连接 RabbitMQ 并声明持久化队列
func NewRabbitMQQueue(cfg *config.QueueConfig) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		cfg.Name, // name
		true,     // durable
		false,    // delete when unused
		false,    // exclusive
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.Name, err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &RabbitMQQueue{
		conn:        conn,
		publishCh:   ch,
		name:        cfg.Name,
		concurrency: concurrency,
		maxRetries:  cfg.MaxRetries,
		maxBackoff:  cfg.MaxBackoff,
		sleep:       sleepContext,
	}, nil
}

// Publish 发布持久化消息，MessageId 为 JobID
func (q *RabbitMQQueue) Publish(ctx context.Context, task *Task) error {
	msg, err := newPublishing(task, task.Attempt)
	if err != nil {
		return err
	}

	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	if err := q.publishCh.PublishWithContext(ctx, "", q.name, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish import task %s: %w", task.JobID, err)
	}
	return nil
}

// Consume 以 prefetch=concurrency 消费，阻塞直到 ctx 取消或连接关闭
// ctx 取消后不再接收新消息，等待在途消息处理完成后返回
func (q *RabbitMQQueue) Consume(ctx context.Context, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		q.name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.handleDelivery(ctx, handler, d)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *RabbitMQQueue) handleDelivery(ctx context.Context, handler Handler, d amqp.Delivery) {
	var task Task
	if err := json.Unmarshal(d.Body, &task); err != nil {
		logger.LogSystemEvent("queue", "decode_failed", err.Error(), logrus.ErrorLevel, map[string]interface{}{
			"message_id": d.MessageId,
		})
		_ = d.Nack(false, false)
		return
	}
	task.Attempt = getRetryCount(d.Headers)

	err := handler(ctx, &task)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if errors.Is(err, context.Canceled) {
		// 任务被停机中断，退回 broker 重新投递
		logger.LogImportEvent(task.JobID, task.ProjectID, "queue", "import task interrupted, requeued", logrus.WarnLevel, map[string]interface{}{
			"attempt": task.Attempt,
		})
		_ = d.Nack(false, true)
		return
	}

	if !IsRetryable(err) || task.Attempt >= q.maxRetries {
		logger.LogImportEvent(task.JobID, task.ProjectID, "queue", "import task dropped", logrus.ErrorLevel, map[string]interface{}{
			"attempt": task.Attempt,
			"error":   err.Error(),
		})
		_ = d.Nack(false, false)
		return
	}

	task.Attempt++
	delay := Backoff(task.Attempt, q.maxBackoff)
	metrics.IncQueueRetry()
	logger.LogImportEvent(task.JobID, task.ProjectID, "queue", "retrying import task", logrus.WarnLevel, map[string]interface{}{
		"attempt": task.Attempt,
		"delay":   delay.String(),
		"error":   err.Error(),
	})
	if q.sleep(ctx, delay) != nil {
		// 关闭中，交还 broker 由其他实例处理
		_ = d.Nack(false, true)
		return
	}

	if err := q.Publish(ctx, &task); err != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close 关闭通道与连接
func (q *RabbitMQQueue) Close() error {
	if q.publishCh != nil {
		_ = q.publishCh.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func newPublishing(task *Task, retryCount int) (amqp.Publishing, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode import task: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Headers:      amqp.Table{retryHeader: int32(retryCount)},
		DeliveryMode: amqp.Persistent,
		MessageId:    task.JobID,
		Timestamp:    time.Now(),
	}, nil
}

// getRetryCount 读取重试计数，broker 可能把整数解码为不同宽度
func getRetryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch count := headers[retryHeader].(type) {
	case int32:
		return int(count)
	case int64:
		return int(count)
	case int:
		return count
	}
	return 0
}
