package bom

import (
	"context"

	bomModel "bomsync/internal/model/bom"

	"gorm.io/gorm"
)

// Repositories 导入流程使用的仓库集合
type Repositories interface {
	Assemblies() AssemblyRepository
	Processes() ProcessRepository
	Jobs() ImportJobRepository
}

// Store 仓库集合，并支持在同一事务中使用这些仓库
type Store interface {
	Repositories
	// Transaction fn 返回错误时整体回滚
	Transaction(ctx context.Context, fn func(tx Repositories) error) error
}

type store struct {
	db         *gorm.DB
	assemblies AssemblyRepository
	processes  ProcessRepository
	jobs       ImportJobRepository
}

// NewStore 基于gorm连接创建Store
func NewStore(db *gorm.DB) Store {
	return &store{
		db:         db,
		assemblies: NewAssemblyRepository(db),
		processes:  NewProcessRepository(db),
		jobs:       NewImportJobRepository(db),
	}
}

func (s *store) Assemblies() AssemblyRepository { return s.assemblies }
func (s *store) Processes() ProcessRepository   { return s.processes }
func (s *store) Jobs() ImportJobRepository      { return s.jobs }

func (s *store) Transaction(ctx context.Context, fn func(tx Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// AutoMigrate 创建或更新导入相关的表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&bomModel.Assembly{},
		&bomModel.ImportJob{},
		&bomModel.ProcessWorkType{},
		&bomModel.AssemblyProcess{},
	)
}
