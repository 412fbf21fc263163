/**
 * 服务层:BOM导入编排
 * @description: 单个导入任务的完整执行流程
 *               标记执行中 -> 加载解析 -> 差异比对 -> 规划步数 -> 新增/替换/缺失分批写入 -> 终态
 */
package importer

import (
	"context"
	"fmt"
	"time"

	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/pkg/logger"
	"bomsync/internal/pkg/metrics"
	"bomsync/internal/service/bom/apply"
	"bomsync/internal/service/bom/diff"
	"bomsync/internal/service/bom/source"
	"bomsync/internal/service/bom/tracker"

	"github.com/sirupsen/logrus"
)

// terminalTimeout 终态写入的时限，不受任务上下文取消影响
const terminalTimeout = 5 * time.Second

// SourceLoader 读取项目BOM包，objectKey 为空时使用约定路径
type SourceLoader interface {
	ResolveBOMKey(projectID uint64, objectKey string) (string, error)
	BOMObject(ctx context.Context, projectID uint64, objectKey string) (*source.ObjectInfo, error)
	Load(ctx context.Context, jobID string, projectID uint64, objectKey string) (*source.LoadResult, error)
}

// Upload 上传文件引用
type Upload struct {
	ObjectKey   string
	Fingerprint string
}

// JobContext 一次任务执行的输入
type JobContext struct {
	JobID     string
	ProjectID uint64
	Operator  uint64
	QueuedAt  time.Time
	Force     bool
	Upload    Upload
}

// JobResult 一次任务执行的结果
type JobResult struct {
	JobID       string              `json:"job_id"`
	ProjectID   uint64              `json:"project_id"`
	Fingerprint string              `json:"fingerprint"`
	New         int                 `json:"new"`
	Replaced    int                 `json:"replaced"`
	Missing     int                 `json:"missing"`
	Skipped     int                 `json:"skipped"`
	TotalSteps  int                 `json:"total_steps"`
	Duration    time.Duration       `json:"duration"`
	Record      *bomModel.ImportJob `json:"record"`
}

// Orchestrator 导入任务编排器，任务记录的唯一写入方
type Orchestrator struct {
	loader  SourceLoader
	differ  *diff.Engine
	applier *apply.Engine
	tracker *tracker.Tracker
}

// NewOrchestrator 创建编排器
func NewOrchestrator(loader SourceLoader, differ *diff.Engine, applier *apply.Engine, tracker *tracker.Tracker) *Orchestrator {
	return &Orchestrator{
		loader:  loader,
		differ:  differ,
		applier: applier,
		tracker: tracker,
	}
}

// Run 执行导入任务
// 加载、比对、写入任一步失败时记录 failed 并返回原错误，由队列决定是否重试
// 终态使用独立上下文写入，任务被取消时记录同样落到 failed
func (o *Orchestrator) Run(ctx context.Context, job JobContext) (*JobResult, error) {
	start := time.Now()
	result := &JobResult{JobID: job.JobID, ProjectID: job.ProjectID}

	if _, err := o.tracker.Apply(ctx, job.ProjectID, bomModel.JobEvent{
		Type:     bomModel.EventStarted,
		Operator: job.Operator,
	}); err != nil {
		return nil, fmt.Errorf("failed to mark job %s processing: %w", job.JobID, err)
	}
	logger.LogImportEvent(job.JobID, job.ProjectID, "start", "import job started", logrus.InfoLevel, map[string]interface{}{
		"operator":  job.Operator,
		"force":     job.Force,
		"queued_at": logger.FormatTimestamp(job.QueuedAt),
		"wait_ms":   start.Sub(job.QueuedAt).Milliseconds(),
	})

	if err := o.execute(ctx, job, result); err != nil {
		result.Duration = time.Since(start)
		metrics.ObserveImport(string(bomModel.JobFailed), result.Duration)
		return result, o.fail(ctx, job, err)
	}

	terminalCtx, cancel := terminalContext(ctx)
	defer cancel()
	record, err := o.tracker.PersistTerminal(terminalCtx, job.ProjectID, job.JobID, bomModel.JobEvent{
		Type:        bomModel.EventSucceeded,
		Fingerprint: result.Fingerprint,
		Operator:    job.Operator,
		At:          time.Now(),
	})
	result.Duration = time.Since(start)
	if err != nil {
		metrics.ObserveImport(string(bomModel.JobFailed), result.Duration)
		return result, fmt.Errorf("failed to finalize job %s: %w", job.JobID, err)
	}
	result.Record = record
	metrics.ObserveImport(string(bomModel.JobDone), result.Duration)

	logger.LogImportEvent(job.JobID, job.ProjectID, "finish", "import job succeeded", logrus.InfoLevel, map[string]interface{}{
		"new":         result.New,
		"replaced":    result.Replaced,
		"missing":     result.Missing,
		"total_steps": result.TotalSteps,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, job JobContext, result *JobResult) error {
	loaded, err := o.loader.Load(ctx, job.JobID, job.ProjectID, job.Upload.ObjectKey)
	if err != nil {
		return err
	}
	result.Skipped = loaded.Skipped
	if loaded.BOMObject != nil {
		result.Fingerprint = loaded.BOMObject.ETag
	}
	fields := map[string]interface{}{
		"assemblies":   len(loaded.Assemblies),
		"skipped":      loaded.Skipped,
		"nc_available": loaded.NCAvailable,
	}
	if loaded.BOMObject != nil && job.Upload.Fingerprint != "" && loaded.BOMObject.ETag != job.Upload.Fingerprint {
		// 入队后文件被再次上传，按当前内容导入，成功后记录当前指纹
		fields["queued_fingerprint"] = job.Upload.Fingerprint
		fields["current_fingerprint"] = loaded.BOMObject.ETag
	}
	logger.LogImportEvent(job.JobID, job.ProjectID, "load", "bom package loaded", logrus.InfoLevel, fields)

	sorted, err := o.differ.Diff(ctx, job.ProjectID, loaded.Assemblies)
	if err != nil {
		return bomModel.NewImportError(bomModel.KindPersistenceError, "load snapshot", err)
	}
	result.New = len(sorted.NewAssemblies)
	result.Replaced = len(sorted.Replacements)
	result.Missing = len(sorted.MissingAssemblies)
	result.TotalSteps = sorted.TotalSteps()
	logger.LogImportEvent(job.JobID, job.ProjectID, "diff", "assemblies classified", logrus.InfoLevel, map[string]interface{}{
		"new":         result.New,
		"replaced":    result.Replaced,
		"missing":     result.Missing,
		"key_skipped": sorted.Skipped,
	})

	progress := o.tracker.ForJob(job.JobID, job.ProjectID)
	if err := progress.Plan(ctx, result.TotalSteps); err != nil {
		return bomModel.NewImportError(bomModel.KindPersistenceError, "plan steps", err)
	}

	run := o.applier.NewRun(job.JobID, job.ProjectID, job.Operator, result.TotalSteps, progress)
	buckets := []struct {
		stage string
		size  int
		apply func() error
	}{
		{"apply_new", result.New, func() error { return run.ApplyNew(ctx, sorted.NewAssemblies) }},
		{"apply_replaced", result.Replaced, func() error { return run.ApplyReplaced(ctx, sorted.Replacements) }},
		{"apply_missing", result.Missing, func() error { return run.ApplyMissing(ctx, sorted.MissingAssemblies) }},
	}
	for _, bucket := range buckets {
		if err := bucket.apply(); err != nil {
			return err
		}
		logger.LogImportEvent(job.JobID, job.ProjectID, bucket.stage, "bucket applied", logrus.InfoLevel, map[string]interface{}{
			"count":     bucket.size,
			"processed": run.Processed(),
		})
	}
	return nil
}

// fail 记录失败终态，返回原始错误
func (o *Orchestrator) fail(ctx context.Context, job JobContext, cause error) error {
	logger.LogImportEvent(job.JobID, job.ProjectID, "finish", "import job failed", logrus.ErrorLevel, map[string]interface{}{
		"error": cause.Error(),
	})

	terminalCtx, cancel := terminalContext(ctx)
	defer cancel()
	if _, err := o.tracker.PersistTerminal(terminalCtx, job.ProjectID, job.JobID, bomModel.JobEvent{
		Type:     bomModel.EventFailed,
		Operator: job.Operator,
		Message:  cause.Error(),
	}); err != nil {
		logger.LogImportEvent(job.JobID, job.ProjectID, "finish", "failed to persist job failure", logrus.ErrorLevel, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return cause
}

func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalTimeout)
}
