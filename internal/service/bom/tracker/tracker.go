/**
 * 服务层:导入进度与任务记录
 * @description: 任务记录(数据库)是唯一的持久状态，所有状态变化都经过 bom.Transition；
 *               瞬时进度(内存/Redis)只用于查询展示
 */
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/pkg/logger"
)

// ProgressStore 瞬时进度存储
type ProgressStore interface {
	SetProgress(ctx context.Context, progress *bomModel.JobProgress, ttl time.Duration) error
	GetProgress(ctx context.Context, jobID string) (*bomModel.JobProgress, error)
	DeleteProgress(ctx context.Context, jobID string) error
}

// JobRecordStore 导入任务记录存储
type JobRecordStore interface {
	Get(ctx context.Context, projectID uint64) (*bomModel.ImportJob, error)
	Save(ctx context.Context, job *bomModel.ImportJob) error
	ListByStatus(ctx context.Context, status bomModel.JobStatus) ([]*bomModel.ImportJob, error)
}

// Tracker 导入任务状态跟踪
type Tracker struct {
	progress ProgressStore
	jobs     JobRecordStore
	ttl      time.Duration
	mu       sync.Mutex // 串行化同一进程内的记录读改写
}

// NewTracker 创建跟踪器
func NewTracker(progress ProgressStore, jobs JobRecordStore, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tracker{progress: progress, jobs: jobs, ttl: ttl}
}

// Record 读取项目的任务记录，不存在时返回 nil, nil
func (t *Tracker) Record(ctx context.Context, projectID uint64) (*bomModel.ImportJob, error) {
	return t.jobs.Get(ctx, projectID)
}

// Apply 对项目任务记录应用一个事件并持久化
func (t *Tracker) Apply(ctx context.Context, projectID uint64, event bomModel.JobEvent) (*bomModel.ImportJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.jobs.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load import job of project %d: %w", projectID, err)
	}
	if current == nil {
		current = &bomModel.ImportJob{ProjectID: projectID}
	}

	next, err := bomModel.Transition(*current, event)
	if err != nil {
		return current, err
	}

	if err := t.jobs.Save(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to save import job of project %d: %w", projectID, err)
	}
	return &next, nil
}

// PersistTerminal 写入终态(成功/失败)并清理瞬时进度
func (t *Tracker) PersistTerminal(ctx context.Context, projectID uint64, jobID string, event bomModel.JobEvent) (*bomModel.ImportJob, error) {
	if event.Type != bomModel.EventSucceeded && event.Type != bomModel.EventFailed {
		return nil, fmt.Errorf("%w: %s is not a terminal event", bomModel.ErrInvalidTransition, event.Type)
	}

	record, err := t.Apply(ctx, projectID, event)
	if err != nil {
		return record, err
	}

	if err := t.progress.DeleteProgress(ctx, jobID); err != nil {
		logger.LogWarn("failed to clear job progress", "", 0, "", "", "", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
	return record, nil
}

// FailInterrupted 把停留在 processing 的记录标记为 failed，返回处理的项目ID
// 只在确认没有其他进程执行任务时调用(进程内队列启动时)
func (t *Tracker) FailInterrupted(ctx context.Context, message string) ([]uint64, error) {
	stuck, err := t.jobs.ListByStatus(ctx, bomModel.JobProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing import jobs: %w", err)
	}

	var recovered []uint64
	for _, job := range stuck {
		if _, err := t.PersistTerminal(ctx, job.ProjectID, job.JobID, bomModel.JobEvent{
			Type:    bomModel.EventFailed,
			Message: message,
		}); err != nil {
			return recovered, err
		}
		recovered = append(recovered, job.ProjectID)
	}
	return recovered, nil
}

// ForJob 返回单次任务执行的进度上报器
func (t *Tracker) ForJob(jobID string, projectID uint64) *JobTracker {
	return &JobTracker{
		tracker: t,
		current: bomModel.JobProgress{JobID: jobID, ProjectID: projectID},
	}
}

// Status 查询项目导入状态
// 执行中时瞬时进度比记录中的进度更新，取两者较大值
func (t *Tracker) Status(ctx context.Context, projectID uint64) (*bomModel.ImportStatus, error) {
	record, err := t.jobs.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load import job of project %d: %w", projectID, err)
	}
	if record == nil {
		return nil, nil
	}

	status := &bomModel.ImportStatus{
		ProjectID:        record.ProjectID,
		JobID:            record.JobID,
		Status:           record.Status,
		ProcessedSteps:   record.ProcessedSteps,
		TotalSteps:       record.TotalSteps,
		ErrorMessage:     record.ErrorMessage,
		LatestImportedAt: record.LatestImportedAt,
	}

	if record.Status == bomModel.JobProcessing && record.JobID != "" {
		progress, err := t.progress.GetProgress(ctx, record.JobID)
		if err != nil {
			logger.LogWarn("failed to read job progress", "", 0, "", "", "", map[string]interface{}{
				"job_id": record.JobID,
				"error":  err.Error(),
			})
		} else if progress != nil && progress.ProcessedSteps > status.ProcessedSteps {
			status.ProcessedSteps = progress.ProcessedSteps
			if progress.TotalSteps > 0 {
				status.TotalSteps = progress.TotalSteps
			}
		}
	}

	if record.Status == bomModel.JobDone {
		status.ProcessedSteps = status.TotalSteps
	}
	status.Percentage = bomModel.Percentage(status.Status, status.ProcessedSteps, status.TotalSteps)

	return status, nil
}

// JobTracker 单次任务执行的进度上报，进度单调不减
type JobTracker struct {
	tracker *Tracker
	mu      sync.Mutex
	current bomModel.JobProgress
}

// Plan 设置总步数并把已处理步数归零
func (j *JobTracker) Plan(ctx context.Context, total int) error {
	j.mu.Lock()
	j.current.TotalSteps = total
	j.current.ProcessedSteps = 0
	j.current.UpdatedAt = time.Now()
	snapshot := j.current
	j.mu.Unlock()

	if _, err := j.tracker.Apply(ctx, snapshot.ProjectID, bomModel.JobEvent{Type: bomModel.EventStepsPlanned, Steps: total}); err != nil {
		return err
	}
	return j.tracker.progress.SetProgress(ctx, &snapshot, j.tracker.ttl)
}

// Report 上报累计已处理步数，小于已上报值时忽略
func (j *JobTracker) Report(ctx context.Context, processed int) error {
	j.mu.Lock()
	if processed > j.current.TotalSteps {
		processed = j.current.TotalSteps
	}
	if processed <= j.current.ProcessedSteps {
		j.mu.Unlock()
		return nil
	}
	j.current.ProcessedSteps = processed
	j.current.UpdatedAt = time.Now()
	snapshot := j.current
	j.mu.Unlock()

	if err := j.tracker.progress.SetProgress(ctx, &snapshot, j.tracker.ttl); err != nil {
		return fmt.Errorf("failed to store job progress: %w", err)
	}
	if _, err := j.tracker.Apply(ctx, snapshot.ProjectID, bomModel.JobEvent{Type: bomModel.EventProgressed, Steps: processed}); err != nil {
		return err
	}
	return nil
}

// Read 读取当前进度，存储不可用时返回本地值
func (j *JobTracker) Read(ctx context.Context) bomModel.JobProgress {
	j.mu.Lock()
	local := j.current
	j.mu.Unlock()

	stored, err := j.tracker.progress.GetProgress(ctx, local.JobID)
	if err != nil || stored == nil || stored.ProcessedSteps < local.ProcessedSteps {
		return local
	}
	return *stored
}
