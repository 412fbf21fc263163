package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bomsync/internal/config"
	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/repo/memory"
	bomRepo "bomsync/internal/repo/mysql/bom"
	"bomsync/internal/service/bom/apply"
	"bomsync/internal/service/bom/diff"
	"bomsync/internal/service/bom/queue"
	"bomsync/internal/service/bom/source"
	"bomsync/internal/service/bom/tagid"
	"bomsync/internal/service/bom/tracker"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const projectID uint64 = 42

// captureQueue 记录发布的任务，由测试手动分发
type captureQueue struct {
	mu    sync.Mutex
	tasks []*queue.Task
	err   error
}

func (q *captureQueue) Publish(ctx context.Context, task *queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) Consume(ctx context.Context, handler queue.Handler) error {
	<-ctx.Done()
	return nil
}

func (q *captureQueue) Close() error { return nil }

func (q *captureQueue) last(t *testing.T) *queue.Task {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.tasks)
	return q.tasks[len(q.tasks)-1]
}

// cancelingLoader 在第一次加载时取消任务上下文，模拟停机中断执行中的任务
type cancelingLoader struct {
	SourceLoader
	cancel context.CancelFunc
	once   sync.Once
}

func (l *cancelingLoader) Load(ctx context.Context, jobID string, projectID uint64, objectKey string) (*source.LoadResult, error) {
	interrupted := false
	l.once.Do(func() {
		l.cancel()
		interrupted = true
	})
	if interrupted {
		return nil, fmt.Errorf("failed to download bom file: %w", ctx.Err())
	}
	return l.SourceLoader.Load(ctx, jobID, projectID, objectKey)
}

type fixture struct {
	root    string
	db      *gorm.DB
	store   bomRepo.Store
	loader  *source.Loader
	queue   *captureQueue
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLoader(t, nil)
}

// newFixtureWithLoader wrap 非空时包装编排器使用的加载器
func newFixtureWithLoader(t *testing.T, wrap func(SourceLoader) SourceLoader) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, bomRepo.AutoMigrate(db))

	root := t.TempDir()
	storageCfg := config.StorageConfig{
		Driver:      "local",
		LocalRoot:   root,
		BOMDir:      "bom",
		BOMFileName: "project.bom",
		NCDir:       "nc",
		NCFileName:  "nc.zip",
		WorkDir:     t.TempDir(),
	}

	store := bomRepo.NewStore(db)
	loader := source.NewLoader(source.NewLocalStorage(root), source.NewJSONParser(), storageCfg)
	jobTracker := tracker.NewTracker(memory.NewProgressRepository(), store.Jobs(), time.Hour)
	var runLoader SourceLoader = loader
	if wrap != nil {
		runLoader = wrap(loader)
	}
	orchestrator := NewOrchestrator(
		runLoader,
		diff.NewEngine(store.Assemblies()),
		apply.NewEngine(store, tagid.NewGenerator(), apply.WithChunkSize(2)),
		jobTracker,
	)
	q := &captureQueue{}

	return &fixture{
		root:    root,
		db:      db,
		store:   store,
		loader:  loader,
		queue:   q,
		service: NewService(jobTracker, loader, q, orchestrator),
	}
}

// writeBOM 写入项目BOM文件，heights 为 assemblyId -> 安装高度
func (f *fixture) writeBOM(t *testing.T, heights map[string]float64, order ...string) {
	t.Helper()
	f.writeBOMAt(t, fmt.Sprintf("projects/%d/bom/project.bom", projectID), heights, order...)
}

func (f *fixture) writeBOMAt(t *testing.T, key string, heights map[string]float64, order ...string) {
	t.Helper()
	assemblies := make([]interface{}, 0, len(order))
	for _, id := range order {
		assemblies = append(assemblies, map[string]interface{}{
			"assemblyId":      id,
			"template":        "GZ-1",
			"installPosition": "A-1",
			"installHeight":   heights[id],
		})
	}
	tree := map[string]interface{}{
		"assemblyTemplates": map[string]interface{}{
			"GZ-1": map[string]interface{}{
				"name":        "steel column",
				"drawingName": "S-101",
				"totalWeight": 812.5,
				"mainPart":    map[string]interface{}{"specification": "HW400x400", "material": "Q355B", "type": "COLUMN"},
			},
		},
		"root": map[string]interface{}{"assemblies": assemblies},
	}

	path := filepath.Join(f.root, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(tree)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func (f *fixture) seedWorkTypes(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Processes().CreateWorkTypes(context.Background(), []*bomModel.ProcessWorkType{
		{ProjectID: projectID, Name: "cutting", Sequence: 0},
		{ProjectID: projectID, Name: "welding", Sequence: 0},
		{ProjectID: projectID, Name: "painting", Sequence: 1},
	}))
}

func (f *fixture) assemblies(t *testing.T) map[string]*bomModel.Assembly {
	t.Helper()
	rows, err := f.store.Assemblies().ListByProject(context.Background(), projectID)
	require.NoError(t, err)
	byKey := make(map[string]*bomModel.Assembly, len(rows))
	for _, row := range rows {
		byKey[row.AssemblyID] = row
	}
	return byKey
}

// importOnce 入队并立即执行一次任务
func (f *fixture) importOnce(t *testing.T, force bool) *EnqueueResult {
	t.Helper()
	ctx := context.Background()
	res, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, Force: force})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.NoError(t, f.service.HandleTask(ctx, f.queue.last(t)))
	return res
}

func TestImport_Scenario(t *testing.T) {
	f := newFixture(t)
	f.seedWorkTypes(t)
	ctx := context.Background()

	// 首次导入 X1
	f.writeBOM(t, map[string]float64{"X1": 10.0}, "X1")
	f.importOnce(t, false)
	first := f.assemblies(t)
	require.Len(t, first, 1)
	a1 := first["X1"]
	assert.Equal(t, bomModel.ChangeNew, a1.Change)
	assert.NotEmpty(t, a1.TagID)

	// X1 未变 + 新增 X2
	f.writeBOM(t, map[string]float64{"X1": 10.0, "X2": 5.0}, "X1", "X2")
	f.importOnce(t, false)
	second := f.assemblies(t)
	require.Len(t, second, 2)
	assert.Equal(t, bomModel.ChangeNew, second["X1"].Change)
	assert.Equal(t, a1.TagID, second["X1"].TagID)
	assert.NotEqual(t, a1.TagID, second["X2"].TagID)

	count, err := f.store.Processes().CountProcesses(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count, "two sequence-0 work types per new assembly")

	// X1 高度变化，X2 消失
	f.writeBOM(t, map[string]float64{"X1": 12.5}, "X1")
	res := f.importOnce(t, false)
	third := f.assemblies(t)
	require.Len(t, third, 2)
	assert.Equal(t, bomModel.ChangeReplacement, third["X1"].Change)
	assert.Equal(t, 12.5, third["X1"].InstallHeight)
	assert.Equal(t, a1.ID, third["X1"].ID)
	assert.Equal(t, a1.TagID, third["X1"].TagID)
	assert.Equal(t, bomModel.ChangeMissing, third["X2"].Change)

	status, err := f.service.GetJobStatus(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, res.JobID, status.JobID)
	assert.Equal(t, bomModel.JobDone, status.Status)
	assert.Equal(t, 2, status.TotalSteps)
	assert.Equal(t, 2, status.ProcessedSteps)
	assert.Equal(t, float64(100), status.Percentage)
	assert.Nil(t, status.ErrorMessage)
	assert.NotNil(t, status.LatestImportedAt)
}

func TestImport_IdempotentRerun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1, "B": 2, "C": 3}, "A", "B", "C")
	f.importOnce(t, false)
	before := f.assemblies(t)

	res, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, Force: true})
	require.NoError(t, err)
	task := f.queue.last(t)
	require.Equal(t, res.JobID, task.JobID)

	result, err := f.service.orchestrator.Run(ctx, JobContext{JobID: task.JobID, ProjectID: projectID, Operator: 7, Force: true})
	require.NoError(t, err)
	assert.Zero(t, result.New)
	assert.Zero(t, result.Replaced)
	assert.Zero(t, result.Missing)
	assert.Zero(t, result.TotalSteps)
	require.NotNil(t, result.Record)
	assert.Equal(t, bomModel.JobDone, result.Record.Status)

	after := f.assemblies(t)
	require.Len(t, after, 3)
	for key, row := range before {
		assert.Equal(t, row.TagID, after[key].TagID)
	}
}

func TestEnqueueImport_SkipsUnchangedUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1}, "A")
	f.importOnce(t, false)
	published := len(f.queue.tasks)

	res, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.JobID)
	require.NotNil(t, res.JobRecord)
	assert.Equal(t, bomModel.JobDone, res.JobRecord.Status)
	assert.Len(t, f.queue.tasks, published)

	// force 总是导入
	res, err = f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, Force: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Len(t, f.queue.tasks, published+1)
}

func TestEnqueueImport_WaitingJobIsReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1}, "A")

	first, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)
	second, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 8})
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, bomModel.JobWaiting, second.JobRecord.Status)
	// 沿用原JobID重新投递
	require.Len(t, f.queue.tasks, 2)
	assert.Equal(t, first.JobID, f.queue.tasks[1].JobID)

	// 重复投递只执行一次
	require.NoError(t, f.service.HandleTask(ctx, f.queue.tasks[0]))
	require.NoError(t, f.service.HandleTask(ctx, f.queue.tasks[1]))
	assert.Len(t, f.assemblies(t), 1)
}

func TestEnqueueImport_WaitingJobRepublishedAfterLostTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1}, "A")

	first, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)

	// 进程重启，内存队列中的任务丢失
	f.queue.tasks = nil

	again, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)
	assert.Equal(t, first.JobID, again.JobID)
	task := f.queue.last(t)
	assert.Equal(t, first.JobID, task.JobID)

	require.NoError(t, f.service.HandleTask(ctx, task))
	status, err := f.service.GetJobStatus(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, bomModel.JobDone, status.Status)
}

func TestHandleTask_DuplicateWhileRunningDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1}, "A")

	_, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)
	task := f.queue.last(t)

	require.True(t, f.service.markRunning(task.JobID))
	require.NoError(t, f.service.HandleTask(ctx, task))
	assert.Empty(t, f.assemblies(t))

	f.service.clearRunning(task.JobID)
	require.NoError(t, f.service.HandleTask(ctx, task))
	assert.Len(t, f.assemblies(t), 1)
}

func TestImport_RecordsFingerprintOfImportedFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.writeBOM(t, map[string]float64{"A": 1}, "A")
	v1, err := f.loader.BOMObject(ctx, projectID, "")
	require.NoError(t, err)
	_, err = f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)

	// 执行前文件被再次上传
	f.writeBOM(t, map[string]float64{"A": 2}, "A")
	v2, err := f.loader.BOMObject(ctx, projectID, "")
	require.NoError(t, err)
	require.NotEqual(t, v1.ETag, v2.ETag)

	require.NoError(t, f.service.HandleTask(ctx, f.queue.last(t)))
	assert.Equal(t, 2.0, f.assemblies(t)["A"].InstallHeight)

	record, err := f.store.Jobs().Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, v2.ETag, record.BOMFileEtag)

	// 重新上传旧文件不能被当作未变化跳过
	f.writeBOM(t, map[string]float64{"A": 1}, "A")
	res, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.NoError(t, f.service.HandleTask(ctx, f.queue.last(t)))
	assert.Equal(t, 1.0, f.assemblies(t)["A"].InstallHeight)
}

func TestHandleTask_InterruptedRunCanBeRequeued(t *testing.T) {
	jobCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixtureWithLoader(t, func(inner SourceLoader) SourceLoader {
		return &cancelingLoader{SourceLoader: inner, cancel: cancel}
	})
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1}, "A")

	_, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)

	err = f.service.HandleTask(jobCtx, f.queue.last(t))
	require.ErrorIs(t, err, context.Canceled)

	// 上下文已取消，终态仍然写入
	record, err := f.store.Jobs().Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, bomModel.JobFailed, record.Status)

	res, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, Force: true})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.NoError(t, f.service.HandleTask(ctx, f.queue.last(t)))

	status, err := f.service.GetJobStatus(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, bomModel.JobDone, status.Status)
	assert.Len(t, f.assemblies(t), 1)
}

func TestRecoverInterrupted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1}, "A")

	// 上次进程退出时停留在 processing
	require.NoError(t, f.store.Jobs().Save(ctx, &bomModel.ImportJob{
		ProjectID: projectID, JobID: "lost", Status: bomModel.JobProcessing, BOMFileEtag: "old",
	}))
	_, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, Force: true})
	require.ErrorIs(t, err, bomModel.ErrImportInProgress)

	require.NoError(t, f.service.RecoverInterrupted(ctx))
	record, err := f.store.Jobs().Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, bomModel.JobFailed, record.Status)

	res, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.NotEqual(t, "lost", res.JobID)
}

func TestEnqueueImport_CustomObjectKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := fmt.Sprintf("projects/%d/uploads/v2.bom", projectID)
	f.writeBOMAt(t, key, map[string]float64{"A": 1, "B": 2}, "A", "B")

	_, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, ObjectKey: key})
	require.NoError(t, err)
	task := f.queue.last(t)
	assert.Equal(t, key, task.ObjectKey)

	require.NoError(t, f.service.HandleTask(ctx, task))
	assert.Len(t, f.assemblies(t), 2)

	// 不属于该项目的对象键被拒绝
	_, err = f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, ObjectKey: "projects/43/bom/project.bom"})
	require.ErrorIs(t, err, ErrInvalidObjectKey)
	assert.Len(t, f.queue.tasks, 1)
}

func TestEnqueueImport_MissingBOM(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.EnqueueImport(context.Background(), EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.Error(t, err)
	assert.ErrorIs(t, err, bomModel.ErrSourceUnavailable)
	assert.Empty(t, f.queue.tasks)
}

func TestEnqueueImport_PublishFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1}, "A")
	f.queue.err = queue.ErrQueueFull

	_, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.ErrorIs(t, err, queue.ErrQueueFull)

	status, err := f.service.GetJobStatus(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, bomModel.JobFailed, status.Status)
	require.NotNil(t, status.ErrorMessage)
	assert.Contains(t, *status.ErrorMessage, "queue is full")
}

func TestHandleTask_StaleTaskDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writeBOM(t, map[string]float64{"A": 1}, "A")

	_, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)
	stale := f.queue.last(t)
	latest, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, Force: true})
	require.NoError(t, err)
	require.NotEqual(t, stale.JobID, latest.JobID)

	require.NoError(t, f.service.HandleTask(ctx, stale))
	assert.Empty(t, f.assemblies(t))

	record, err := f.store.Jobs().Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, latest.JobID, record.JobID)
	assert.Equal(t, bomModel.JobWaiting, record.Status)

	require.NoError(t, f.service.HandleTask(ctx, f.queue.last(t)))
	assert.Len(t, f.assemblies(t), 1)

	// 成功后的重复投递不再执行
	require.NoError(t, f.service.HandleTask(ctx, f.queue.last(t)))
}

func TestHandleTask_FailureMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 指纹由调用方提供，入队时不检查文件
	res, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7, UploadFingerprint: "etag-1"})
	require.NoError(t, err)

	err = f.service.HandleTask(ctx, f.queue.last(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, bomModel.ErrSourceUnavailable)
	assert.False(t, queue.IsRetryable(err))

	status, err := f.service.GetJobStatus(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, res.JobID, status.JobID)
	assert.Equal(t, bomModel.JobFailed, status.Status)
	require.NotNil(t, status.ErrorMessage)
	assert.Contains(t, *status.ErrorMessage, "not found")

	// 补传文件后重新执行同一任务
	f.writeBOM(t, map[string]float64{"A": 1}, "A")
	require.NoError(t, f.service.HandleTask(ctx, f.queue.last(t)))
	status, err = f.service.GetJobStatus(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, bomModel.JobDone, status.Status)
}

func TestHandleTask_ParseError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := filepath.Join(f.root, "projects", fmt.Sprint(projectID), "bom", "project.bom")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := f.service.EnqueueImport(ctx, EnqueueRequest{ProjectID: projectID, Operator: 7})
	require.NoError(t, err)

	err = f.service.HandleTask(ctx, f.queue.last(t))
	var importErr *bomModel.ImportError
	require.True(t, errors.As(err, &importErr))
	assert.Equal(t, bomModel.KindParseError, importErr.Kind)

	record, err := f.store.Jobs().Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, bomModel.JobFailed, record.Status)
}

func TestGetJobStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.GetJobStatus(context.Background(), projectID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestIsImportNecessary(t *testing.T) {
	done := &bomModel.ImportJob{Status: bomModel.JobDone, BOMFileEtag: "e1"}
	failed := &bomModel.ImportJob{Status: bomModel.JobFailed, BOMFileEtag: "e1"}

	assert.True(t, IsImportNecessary(nil, "e1", false))
	assert.False(t, IsImportNecessary(done, "e1", false))
	assert.True(t, IsImportNecessary(done, "e1", true))
	assert.True(t, IsImportNecessary(done, "e2", false))
	assert.True(t, IsImportNecessary(failed, "e1", false))
}
