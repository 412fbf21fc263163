package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/pkg/logger"
	"bomsync/internal/pkg/utils"
	"bomsync/internal/service/bom/queue"
	"bomsync/internal/service/bom/source"
	"bomsync/internal/service/bom/tracker"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrJobNotFound 项目没有导入记录
	ErrJobNotFound = errors.New("import job not found")
	// ErrInvalidObjectKey 请求的BOM对象键不属于该项目
	ErrInvalidObjectKey = source.ErrInvalidObjectKey
)

// EnqueueRequest 导入请求
type EnqueueRequest struct {
	ProjectID         uint64 `json:"project_id"`
	Operator          uint64 `json:"operator"`
	Force             bool   `json:"force"`
	UploadFingerprint string `json:"upload_fingerprint"`
	ObjectKey         string `json:"object_key"`
}

// EnqueueResult 导入请求受理结果
type EnqueueResult struct {
	Skipped   bool                `json:"skipped"`
	JobID     string              `json:"job_id,omitempty"`
	JobRecord *bomModel.ImportJob `json:"job_record,omitempty"`
}

// Service 导入受理与状态查询
type Service struct {
	tracker      *tracker.Tracker
	loader       SourceLoader
	queue        queue.Queue
	orchestrator *Orchestrator
	newJobID     func() string
	now          func() time.Time

	mu      sync.Mutex
	running map[string]struct{} // 本进程执行中的JobID
}

// NewService 创建导入服务
func NewService(tracker *tracker.Tracker, loader SourceLoader, q queue.Queue, orchestrator *Orchestrator) *Service {
	return &Service{
		tracker:      tracker,
		loader:       loader,
		queue:        q,
		orchestrator: orchestrator,
		newJobID:     uuid.NewString,
		now:          time.Now,
		running:      make(map[string]struct{}),
	}
}

// IsImportNecessary 判断是否需要导入
// 上次导入已成功且文件指纹未变时跳过，force 总是导入
func IsImportNecessary(record *bomModel.ImportJob, fingerprint string, force bool) bool {
	if force || record == nil {
		return true
	}
	return !(record.Status == bomModel.JobDone && record.BOMFileEtag == fingerprint)
}

// EnqueueImport 受理导入请求并投递到队列
func (s *Service) EnqueueImport(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	objectKey, err := s.loader.ResolveBOMKey(req.ProjectID, req.ObjectKey)
	if err != nil {
		return nil, err
	}

	fingerprint := req.UploadFingerprint
	if fingerprint == "" {
		info, err := s.loader.BOMObject(ctx, req.ProjectID, objectKey)
		if err != nil {
			return nil, err
		}
		fingerprint = info.ETag
	}

	record, err := s.tracker.Record(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	if !IsImportNecessary(record, fingerprint, req.Force) {
		logger.LogBusinessOperation("enqueue_import", req.Operator, utils.GetClientIPFromContext(ctx), utils.GetRequestIDFromContext(ctx), "skipped", "bom unchanged since last import", map[string]interface{}{
			"project_id":  req.ProjectID,
			"fingerprint": fingerprint,
		})
		return &EnqueueResult{Skipped: true, JobRecord: record}, nil
	}

	// 同一文件已在排队：沿用原JobID重新投递，补上进程重启时丢失的内存任务
	// 重复的投递由队列按JobID去重，或在消费端被丢弃
	if !req.Force && record != nil && record.Status == bomModel.JobWaiting && record.BOMFileEtag == fingerprint {
		if err := s.publish(ctx, req, record.JobID, objectKey, fingerprint); err != nil {
			return nil, err
		}
		return &EnqueueResult{JobID: record.JobID, JobRecord: record}, nil
	}

	jobID := s.newJobID()
	queued, err := s.tracker.Apply(ctx, req.ProjectID, bomModel.JobEvent{
		Type:        bomModel.EventQueued,
		JobID:       jobID,
		Fingerprint: fingerprint,
		Operator:    req.Operator,
	})
	if err != nil {
		return nil, err
	}

	if err := s.publish(ctx, req, jobID, objectKey, fingerprint); err != nil {
		return nil, err
	}

	logger.LogBusinessOperation("enqueue_import", req.Operator, utils.GetClientIPFromContext(ctx), utils.GetRequestIDFromContext(ctx), "success", "import job queued", map[string]interface{}{
		"project_id":  req.ProjectID,
		"job_id":      jobID,
		"object_key":  objectKey,
		"fingerprint": fingerprint,
		"force":       req.Force,
	})
	return &EnqueueResult{JobID: jobID, JobRecord: queued}, nil
}

// publish 投递任务，失败时把记录标记为 failed
func (s *Service) publish(ctx context.Context, req EnqueueRequest, jobID, objectKey, fingerprint string) error {
	task := &queue.Task{
		JobID:       jobID,
		ProjectID:   req.ProjectID,
		Operator:    req.Operator,
		Force:       req.Force,
		ObjectKey:   objectKey,
		Fingerprint: fingerprint,
		QueuedAt:    s.now(),
	}
	err := s.queue.Publish(ctx, task)
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf("failed to enqueue import job: %v", err)
	if _, markErr := s.tracker.Apply(ctx, req.ProjectID, bomModel.JobEvent{
		Type:     bomModel.EventFailed,
		Operator: req.Operator,
		Message:  msg,
	}); markErr != nil {
		logger.LogImportEvent(jobID, req.ProjectID, "enqueue", "failed to mark job failed", logrus.ErrorLevel, map[string]interface{}{
			"error": markErr.Error(),
		})
	}
	return fmt.Errorf("failed to publish import job %s: %w", jobID, err)
}

// GetJobStatus 查询项目导入状态
func (s *Service) GetJobStatus(ctx context.Context, projectID uint64) (*bomModel.ImportStatus, error) {
	status, err := s.tracker.Status(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, ErrJobNotFound
	}
	return status, nil
}

// HandleTask 队列消费入口
// 任务记录的 JobID 已被新的入队覆盖、任务已完成或同一任务正在本进程执行时丢弃
func (s *Service) HandleTask(ctx context.Context, task *queue.Task) error {
	record, err := s.tracker.Record(ctx, task.ProjectID)
	if err != nil {
		return bomModel.NewImportError(bomModel.KindPersistenceError, "load job record", err)
	}

	if record == nil || record.JobID != task.JobID {
		current := ""
		if record != nil {
			current = record.JobID
		}
		logger.LogImportEvent(task.JobID, task.ProjectID, "dispatch", "stale import task dropped", logrus.WarnLevel, map[string]interface{}{
			"current_job_id": current,
		})
		return nil
	}
	if record.Status == bomModel.JobDone {
		logger.LogImportEvent(task.JobID, task.ProjectID, "dispatch", "import task already done", logrus.InfoLevel, nil)
		return nil
	}
	if !s.markRunning(task.JobID) {
		logger.LogImportEvent(task.JobID, task.ProjectID, "dispatch", "duplicate import task dropped", logrus.WarnLevel, nil)
		return nil
	}
	defer s.clearRunning(task.JobID)

	_, err = s.orchestrator.Run(ctx, JobContext{
		JobID:     task.JobID,
		ProjectID: task.ProjectID,
		Operator:  task.Operator,
		QueuedAt:  task.QueuedAt,
		Force:     task.Force,
		Upload: Upload{
			ObjectKey:   task.ObjectKey,
			Fingerprint: task.Fingerprint,
		},
	})
	return err
}

func (s *Service) markRunning(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[jobID]; ok {
		return false
	}
	s.running[jobID] = struct{}{}
	return true
}

func (s *Service) clearRunning(jobID string) {
	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
}

// RecoverInterrupted 把上次进程退出时停留在 processing 的记录标记为 failed
// 仅适用于进程内队列：任务随进程丢失，不会再被投递
func (s *Service) RecoverInterrupted(ctx context.Context) error {
	recovered, err := s.tracker.FailInterrupted(ctx, "import interrupted by service restart")
	if err != nil {
		return err
	}
	for _, projectID := range recovered {
		logger.LogImportEvent("", projectID, "recover", "interrupted import marked failed", logrus.WarnLevel, nil)
	}
	return nil
}
