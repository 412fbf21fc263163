/**
 * 服务层:分块写入
 * @description: 按新增、替换、缺失三类把差异结果分块写入数据库，每块一个事务；
 *               块提交后累计进度，跨过上报步长或到达100%时上报
 */
package apply

import (
	"context"
	"errors"
	"fmt"
	"sync"

	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/pkg/logger"
	"bomsync/internal/pkg/metrics"
	bomRepo "bomsync/internal/repo/mysql/bom"
	"bomsync/internal/service/bom/tagid"

	"github.com/sirupsen/logrus"
)

const (
	DefaultChunkSize  = 100
	DefaultReportStep = 10
	workTypeSequence  = 0
	categoryNew       = "new"
	categoryReplaced  = "replaced"
	categoryMissing   = "missing"
)

// ProgressReporter 接收累计已处理步数
type ProgressReporter interface {
	Report(ctx context.Context, processed int) error
}

// Engine 分块写入引擎
type Engine struct {
	store      bomRepo.Store
	tags       *tagid.Generator
	chunkSize  int
	reportStep int
}

// Option 引擎选项
type Option func(*Engine)

// WithChunkSize 设置每个事务处理的记录数
func WithChunkSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.chunkSize = size
		}
	}
}

// WithReportStep 设置进度上报步长(百分比)
func WithReportStep(step int) Option {
	return func(e *Engine) {
		if step > 0 {
			e.reportStep = step
		}
	}
}

// NewEngine 创建分块写入引擎
func NewEngine(store bomRepo.Store, tags *tagid.Generator, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		tags:       tags,
		chunkSize:  DefaultChunkSize,
		reportStep: DefaultReportStep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ShouldReport 进度从 prevPct 变为 newPct 时是否需要上报
// 首次到达100%，或距上次上报增长不少于10个百分点
func ShouldReport(prevPct, newPct float64) bool {
	return shouldReport(prevPct, newPct, DefaultReportStep)
}

func shouldReport(prevPct, newPct float64, step int) bool {
	if newPct >= 100 && prevPct < 100 {
		return true
	}
	return newPct-prevPct >= float64(step)
}

// Run 单次导入任务的写入过程，三类构件共用一个进度
type Run struct {
	engine    *Engine
	jobID     string
	projectID uint64
	operator  uint64
	total     int
	reporter  ProgressReporter

	mu        sync.Mutex
	processed int
	lastPct   float64
}

// NewRun 创建一次写入过程，total 为三类构件总数
func (e *Engine) NewRun(jobID string, projectID, operator uint64, total int, reporter ProgressReporter) *Run {
	return &Run{
		engine:    e,
		jobID:     jobID,
		projectID: projectID,
		operator:  operator,
		total:     total,
		reporter:  reporter,
	}
}

// Processed 已提交的步数
func (r *Run) Processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed
}

// ApplyNew 写入新增构件：分配标签、插入构件、为0号工序的每个工种生成待处理工序
func (r *Run) ApplyNew(ctx context.Context, items []bomModel.ImportedAssembly) error {
	return r.applyChunks(ctx, categoryNew, len(items), func(tx bomRepo.Repositories, start, end int) error {
		chunk := items[start:end]

		tags, err := r.engine.tags.Generate(ctx, tx.Assemblies(), len(chunk))
		if err != nil {
			return err
		}

		rows := make([]*bomModel.Assembly, len(chunk))
		for i, item := range chunk {
			rows[i] = &bomModel.Assembly{
				ProjectID:      r.projectID,
				TagID:          tags[i],
				AssemblyFields: item.AssemblyFields,
				Change:         bomModel.ChangeNew,
				CreatedBy:      r.operator,
				UpdatedBy:      r.operator,
			}
		}
		if err := tx.Assemblies().CreateBatch(ctx, rows); err != nil {
			return fmt.Errorf("failed to insert assemblies: %w", err)
		}

		workTypes, err := tx.Processes().ListWorkTypes(ctx, r.projectID, workTypeSequence)
		if err != nil {
			return fmt.Errorf("failed to load work types: %w", err)
		}
		if len(workTypes) == 0 {
			return nil
		}

		processes := make([]*bomModel.AssemblyProcess, 0, len(rows)*len(workTypes))
		for _, row := range rows {
			for _, workType := range workTypes {
				processes = append(processes, &bomModel.AssemblyProcess{
					ProjectID:  r.projectID,
					AssemblyID: row.ID,
					WorkTypeID: workType.ID,
					Status:     bomModel.ProcessPending,
					CreatedBy:  r.operator,
				})
			}
		}
		if err := tx.Processes().CreateProcesses(ctx, processes); err != nil {
			return fmt.Errorf("failed to insert assembly processes: %w", err)
		}
		return nil
	})
}

// ApplyReplaced 用导入数据覆盖变化的构件，保留原ID和标签
func (r *Run) ApplyReplaced(ctx context.Context, items []bomModel.Replacement) error {
	return r.applyChunks(ctx, categoryReplaced, len(items), func(tx bomRepo.Repositories, start, end int) error {
		for _, pair := range items[start:end] {
			if pair.ReplacedAssembly == nil {
				return fmt.Errorf("replacement for %q has no persisted assembly", pair.ReplacementAssembly.AssemblyID)
			}
			if err := tx.Assemblies().UpdateFromImport(ctx, pair.ReplacedAssembly.ID, pair.ReplacementAssembly.AssemblyFields, r.operator); err != nil {
				return fmt.Errorf("failed to update assembly %d: %w", pair.ReplacedAssembly.ID, err)
			}
		}
		return nil
	})
}

// ApplyMissing 标记新导入中不存在的构件，不做删除
func (r *Run) ApplyMissing(ctx context.Context, items []*bomModel.Assembly) error {
	return r.applyChunks(ctx, categoryMissing, len(items), func(tx bomRepo.Repositories, start, end int) error {
		ids := make([]uint64, 0, end-start)
		for _, assembly := range items[start:end] {
			ids = append(ids, assembly.ID)
		}
		if err := tx.Assemblies().MarkMissing(ctx, ids, r.operator); err != nil {
			return fmt.Errorf("failed to mark assemblies missing: %w", err)
		}
		return nil
	})
}

// applyChunks 按块顺序执行，每块一个事务；失败的块整体回滚并终止
func (r *Run) applyChunks(ctx context.Context, category string, n int, apply func(tx bomRepo.Repositories, start, end int) error) error {
	size := r.engine.chunkSize
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}

		err := r.engine.store.Transaction(ctx, func(tx bomRepo.Repositories) error {
			return apply(tx, start, end)
		})
		if err != nil {
			metrics.IncChunkFailure(category)
			logger.LogImportEvent(r.jobID, r.projectID, "apply_"+category, "chunk rolled back", logrus.ErrorLevel, map[string]interface{}{
				"chunk_start": start,
				"chunk_end":   end,
				"error":       err.Error(),
			})
			if errors.Is(err, bomModel.ErrIdentifierExhaustion) {
				return err
			}
			return bomModel.NewImportError(bomModel.KindPersistenceError, "apply "+category,
				fmt.Errorf("chunk [%d, %d): %w", start, end, err))
		}

		metrics.AddAssemblies(category, end-start)
		r.advance(ctx, end-start)
	}
	return nil
}

// advance 累计进度，满足上报条件时上报；上报失败只记日志
func (r *Run) advance(ctx context.Context, steps int) {
	r.mu.Lock()
	r.processed += steps
	processed := r.processed
	pct := 100.0
	if r.total > 0 {
		pct = float64(processed*100) / float64(r.total)
	}
	report := shouldReport(r.lastPct, pct, r.engine.reportStep)
	if report {
		r.lastPct = pct
	}
	r.mu.Unlock()

	if !report || r.reporter == nil {
		return
	}
	if err := r.reporter.Report(ctx, processed); err != nil {
		logger.LogImportEvent(r.jobID, r.projectID, "progress", "failed to report progress", logrus.WarnLevel, map[string]interface{}{
			"processed_steps": processed,
			"error":           err.Error(),
		})
	}
}
