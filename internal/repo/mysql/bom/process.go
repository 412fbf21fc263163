package bom

import (
	"context"

	bomModel "bomsync/internal/model/bom"

	"gorm.io/gorm"
)

// ProcessRepository 工种与构件工序仓库接口
type ProcessRepository interface {
	ListWorkTypes(ctx context.Context, projectID uint64, sequence int) ([]*bomModel.ProcessWorkType, error)
	CreateWorkTypes(ctx context.Context, workTypes []*bomModel.ProcessWorkType) error
	CreateProcesses(ctx context.Context, processes []*bomModel.AssemblyProcess) error
	CountProcesses(ctx context.Context, projectID uint64) (int64, error)
}

type processRepository struct {
	db *gorm.DB
}

// NewProcessRepository 创建工序仓库
func NewProcessRepository(db *gorm.DB) ProcessRepository {
	return &processRepository{db: db}
}

// ListWorkTypes 获取项目指定顺序的工种
func (r *processRepository) ListWorkTypes(ctx context.Context, projectID uint64, sequence int) ([]*bomModel.ProcessWorkType, error) {
	var workTypes []*bomModel.ProcessWorkType
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND sequence = ?", projectID, sequence).
		Order("id asc").
		Find(&workTypes).Error
	return workTypes, err
}

// CreateWorkTypes 批量创建工种
func (r *processRepository) CreateWorkTypes(ctx context.Context, workTypes []*bomModel.ProcessWorkType) error {
	if len(workTypes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(workTypes).Error
}

// CreateProcesses 批量创建构件工序
func (r *processRepository) CreateProcesses(ctx context.Context, processes []*bomModel.AssemblyProcess) error {
	if len(processes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(processes, 500).Error
}

// CountProcesses 统计项目工序数量
func (r *processRepository) CountProcesses(ctx context.Context, projectID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&bomModel.AssemblyProcess{}).
		Where("project_id = ?", projectID).
		Count(&count).Error
	return count, err
}
