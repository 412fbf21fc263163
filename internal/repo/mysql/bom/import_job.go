package bom

import (
	"context"
	"errors"

	bomModel "bomsync/internal/model/bom"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportJobRepository 导入任务记录仓库接口
type ImportJobRepository interface {
	Get(ctx context.Context, projectID uint64) (*bomModel.ImportJob, error)
	Save(ctx context.Context, job *bomModel.ImportJob) error
	ListByStatus(ctx context.Context, status bomModel.JobStatus) ([]*bomModel.ImportJob, error)
}

type importJobRepository struct {
	db *gorm.DB
}

// NewImportJobRepository 创建导入任务记录仓库
func NewImportJobRepository(db *gorm.DB) ImportJobRepository {
	return &importJobRepository{db: db}
}

// Get 获取项目的导入任务记录，不存在时返回 nil, nil
func (r *importJobRepository) Get(ctx context.Context, projectID uint64) (*bomModel.ImportJob, error) {
	var job bomModel.ImportJob
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Save 按项目ID写入导入任务记录(存在则整体覆盖)
func (r *importJobRepository) Save(ctx context.Context, job *bomModel.ImportJob) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}},
			UpdateAll: true,
		}).
		Create(job).Error
}

// ListByStatus 按状态列出导入任务记录
func (r *importJobRepository) ListByStatus(ctx context.Context, status bomModel.JobStatus) ([]*bomModel.ImportJob, error) {
	var jobs []*bomModel.ImportJob
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("project_id").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
