/**
 * 仓库层:导入进度(内存存储,适合单实例部署)
 * @note: 与 internal/repo/redis/progress.go 保持一致(配置 import.progress_store 二选一)
 */
package memory

import (
	"context"
	"sync"
	"time"

	bomModel "bomsync/internal/model/bom"
)

// ProgressRepository 内存进度存储
// 过期条目在读取或写入时惰性清理
type ProgressRepository struct {
	entries map[string]*progressEntry
	mutex   sync.RWMutex
	now     func() time.Time
}

type progressEntry struct {
	data       bomModel.JobProgress
	expiration time.Time
}

// NewProgressRepository 创建内存进度存储
func NewProgressRepository() *ProgressRepository {
	return &ProgressRepository{
		entries: make(map[string]*progressEntry),
		now:     time.Now,
	}
}

// SetProgress 写入任务进度
func (r *ProgressRepository) SetProgress(ctx context.Context, progress *bomModel.JobProgress, ttl time.Duration) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	for jobID, entry := range r.entries {
		if now.After(entry.expiration) {
			delete(r.entries, jobID)
		}
	}

	r.entries[progress.JobID] = &progressEntry{
		data:       *progress,
		expiration: now.Add(ttl),
	}
	return nil
}

// GetProgress 读取任务进度，不存在或已过期时返回 nil, nil
func (r *ProgressRepository) GetProgress(ctx context.Context, jobID string) (*bomModel.JobProgress, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, ok := r.entries[jobID]
	if !ok || r.now().After(entry.expiration) {
		return nil, nil
	}
	progress := entry.data
	return &progress, nil
}

// DeleteProgress 删除任务进度
func (r *ProgressRepository) DeleteProgress(ctx context.Context, jobID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.entries, jobID)
	return nil
}
