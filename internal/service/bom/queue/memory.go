package queue

import (
	"context"
	"sync"
	"time"

	"bomsync/internal/pkg/logger"
	"bomsync/internal/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// MemoryQueue 基于 Channel 的内存队列
// 同一 JobID 在排队或执行期间重复发布会被忽略；瞬时错误在当前槽位内退避重试
type MemoryQueue struct {
	tasks       chan *Task
	concurrency int
	maxRetries  int
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue(bufferSize, concurrency, maxRetries int, maxBackoff time.Duration) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &MemoryQueue{
		tasks:       make(chan *Task, bufferSize),
		concurrency: concurrency,
		maxRetries:  maxRetries,
		maxBackoff:  maxBackoff,
		sleep:       sleepContext,
		pending:     make(map[string]struct{}),
	}
}

// Publish 非阻塞发布，队列满时返回 ErrQueueFull
func (q *MemoryQueue) Publish(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, dup := q.pending[task.JobID]; dup {
		return nil
	}

	select {
	case q.tasks <- task:
		q.pending[task.JobID] = struct{}{}
		metrics.SetQueueDepth(len(q.tasks))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Consume 启动 concurrency 个消费槽位，阻塞直到 ctx 取消
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-q.tasks:
					metrics.SetQueueDepth(len(q.tasks))
					q.process(ctx, handler, task)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *MemoryQueue) process(ctx context.Context, handler Handler, task *Task) {
	defer func() {
		q.mu.Lock()
		delete(q.pending, task.JobID)
		q.mu.Unlock()
	}()

	for {
		err := handler(ctx, task)
		if err == nil {
			return
		}
		if !IsRetryable(err) || task.Attempt >= q.maxRetries {
			logger.LogImportEvent(task.JobID, task.ProjectID, "queue", "import task dropped", logrus.ErrorLevel, map[string]interface{}{
				"attempt": task.Attempt,
				"error":   err.Error(),
			})
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
			return
		}
	}
}

func (q *MemoryQueue) isPending(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[jobID]
	return ok
}

// Len 排队中的任务数
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

// Close 关闭后拒绝新任务，已排队任务由 Consume 处理直到 ctx 取消
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
