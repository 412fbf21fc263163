package bom

import (
	"context"

	bomModel "bomsync/internal/model/bom"

	"gorm.io/gorm"
)

// AssemblyRepository 构件仓库接口
type AssemblyRepository interface {
	ListByProject(ctx context.Context, projectID uint64) ([]*bomModel.Assembly, error)
	CreateBatch(ctx context.Context, assemblies []*bomModel.Assembly) error
	UpdateFromImport(ctx context.Context, id uint64, fields bomModel.AssemblyFields, operator uint64) error
	MarkMissing(ctx context.Context, ids []uint64, operator uint64) error
	ExistingTagIDs(ctx context.Context, candidates []string) ([]string, error)
}

type assemblyRepository struct {
	db *gorm.DB
}

// NewAssemblyRepository 创建构件仓库
func NewAssemblyRepository(db *gorm.DB) AssemblyRepository {
	return &assemblyRepository{db: db}
}

// ListByProject 获取项目下全部构件(导入比对的快照)
func (r *assemblyRepository) ListByProject(ctx context.Context, projectID uint64) ([]*bomModel.Assembly, error) {
	var assemblies []*bomModel.Assembly
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id asc").
		Find(&assemblies).Error
	return assemblies, err
}

// CreateBatch 批量插入构件，插入后回填ID
func (r *assemblyRepository) CreateBatch(ctx context.Context, assemblies []*bomModel.Assembly) error {
	if len(assemblies) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(assemblies, 100).Error
}

// UpdateFromImport 用导入数据覆盖构件业务字段
// 保留 id、tag_id、project_id，change 置为 REPLACEMENT
func (r *assemblyRepository) UpdateFromImport(ctx context.Context, id uint64, fields bomModel.AssemblyFields, operator uint64) error {
	updates := map[string]interface{}{
		"assembly_id":      fields.AssemblyID,
		"name":             fields.Name,
		"install_position": fields.InstallPosition,
		"install_height":   fields.InstallHeight,
		"area_type":        fields.AreaType,
		"drawing_name":     fields.DrawingName,
		"total_length":     fields.TotalLength,
		"total_weight":     fields.TotalWeight,
		"total_net_weight": fields.TotalNetWeight,
		"total_area":       fields.TotalArea,
		"specification":    fields.Specification,
		"material":         fields.Material,
		"type":             fields.Type,
		"change_type":      bomModel.ChangeReplacement,
		"updated_by":       operator,
	}
	return r.db.WithContext(ctx).Model(&bomModel.Assembly{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkMissing 标记构件在新导入中缺失，不做物理删除
func (r *assemblyRepository) MarkMissing(ctx context.Context, ids []uint64, operator uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&bomModel.Assembly{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"change_type": bomModel.ChangeMissing,
			"updated_by":  operator,
		}).Error
}

// ExistingTagIDs 返回候选标签中已被占用的部分
func (r *assemblyRepository) ExistingTagIDs(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var existing []string
	err := r.db.WithContext(ctx).Model(&bomModel.Assembly{}).
		Where("tag_id IN ?", candidates).
		Pluck("tag_id", &existing).Error
	return existing, err
}
