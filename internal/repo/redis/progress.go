/**
 * 仓库层:导入进度(Redis存储,适合多实例部署)
 * @description: 状态查询接口与导入Worker可能不在同一进程，进度写入Redis供查询
 */
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bomModel "bomsync/internal/model/bom"

	"github.com/go-redis/redis/v8"
)

const progressKeyPrefix = "bomsync:import:progress:"

// ProgressRepository Redis进度存储
type ProgressRepository struct {
	client *redis.Client
}

// NewProgressRepository 创建Redis进度存储
func NewProgressRepository(client *redis.Client) *ProgressRepository {
	return &ProgressRepository{client: client}
}

// SetProgress 写入任务进度
func (r *ProgressRepository) SetProgress(ctx context.Context, progress *bomModel.JobProgress, ttl time.Duration) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal job progress: %w", err)
	}

	if err := r.client.Set(ctx, progressKey(progress.JobID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job progress: %w", err)
	}
	return nil
}

// GetProgress 读取任务进度，不存在时返回 nil, nil
func (r *ProgressRepository) GetProgress(ctx context.Context, jobID string) (*bomModel.JobProgress, error) {
	data, err := r.client.Get(ctx, progressKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job progress: %w", err)
	}

	var progress bomModel.JobProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job progress: %w", err)
	}
	return &progress, nil
}

// DeleteProgress 删除任务进度
func (r *ProgressRepository) DeleteProgress(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, progressKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete job progress: %w", err)
	}
	return nil
}

func progressKey(jobID string) string {
	return progressKeyPrefix + jobID
}
