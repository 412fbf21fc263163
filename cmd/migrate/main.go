/*
*
  - 数据库迁移工具
  - @description: BOM导入相关表结构迁移，可选为项目填充工序类型
  - @usage: go run ./cmd/migrate -env=test -seed -project=42 -work-types="下料,组焊"
    -drop
    是否先删除表（危险操作）
    -env string
    环境标识 (test, dev, prod) (default "test")
    -seed
    是否为项目填充第0道工序类型
    -project uint
    填充工序类型的项目ID
    -work-types string
    逗号分隔的工序名称，按顺序写入 sequence=0
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"bomsync/internal/config"
	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/pkg/database"
	"bomsync/internal/pkg/logger"
	bomRepo "bomsync/internal/repo/mysql/bom"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MigrateOptions 迁移选项配置
type MigrateOptions struct {
	Environment string // 环境标识: test, dev, prod
	DropFirst   bool   // 是否先删除表（危险操作）
	Seed        bool   // 是否填充工序类型
	ProjectID   uint64 // 填充的项目ID
	WorkTypes   string // 逗号分隔的工序名称
}

func main() {
	opts := parseFlags()

	cfg, err := config.LoadConfig("", opts.Environment)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	logManager, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	entry := logManager.GetLogger().WithFields(logrus.Fields{
		"path":        "cmd/migrate/main.go",
		"operation":   "database_migration",
		"environment": opts.Environment,
	})
	entry.Info("Starting database migration")

	db, err := database.NewMySQLConnection(&cfg.Database.MySQL)
	if err != nil {
		entry.WithField("error", err.Error()).Fatal("Failed to connect database")
	}
	defer database.Close(db)

	if err := performMigration(db, opts, entry); err != nil {
		entry.WithField("error", err.Error()).Fatal("Database migration failed")
	}

	entry.Info("Database migration completed")
}

// parseFlags 解析命令行参数
func parseFlags() *MigrateOptions {
	opts := &MigrateOptions{}

	flag.StringVar(&opts.Environment, "env", "test", "环境标识 (test, dev, prod)")
	flag.BoolVar(&opts.DropFirst, "drop", false, "是否先删除表（危险操作）")
	flag.BoolVar(&opts.Seed, "seed", false, "是否为项目填充第0道工序类型")
	flag.Uint64Var(&opts.ProjectID, "project", 0, "填充工序类型的项目ID")
	flag.StringVar(&opts.WorkTypes, "work-types", "", "逗号分隔的工序名称")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "bomsync 数据库迁移工具\n\n")
		fmt.Fprintf(os.Stderr, "用法: %s [选项]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "选项:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n示例:\n")
		fmt.Fprintf(os.Stderr, "  %s -env=prod                                   # 仅迁移表结构\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -env=test -seed -project=42 -work-types=下料,组焊  # 迁移并填充工序类型\n", os.Args[0])
	}

	flag.Parse()
	return opts
}

// performMigration 执行数据库迁移
func performMigration(db *gorm.DB, opts *MigrateOptions, entry *logrus.Entry) error {
	if opts.DropFirst {
		entry.Warn("Dropping import tables")
		for _, model := range []interface{}{
			&bomModel.AssemblyProcess{},
			&bomModel.ProcessWorkType{},
			&bomModel.ImportJob{},
			&bomModel.Assembly{},
		} {
			if err := db.Migrator().DropTable(model); err != nil {
				return fmt.Errorf("删除表 %T 失败: %w", model, err)
			}
		}
	}

	if err := bomRepo.AutoMigrate(db); err != nil {
		return fmt.Errorf("模型迁移失败: %w", err)
	}

	if opts.Seed {
		workTypes, err := buildWorkTypes(opts.ProjectID, opts.WorkTypes)
		if err != nil {
			return err
		}
		store := bomRepo.NewStore(db)
		if err := store.Processes().CreateWorkTypes(context.Background(), workTypes); err != nil {
			return fmt.Errorf("工序类型填充失败: %w", err)
		}
		entry.WithFields(logrus.Fields{
			"project_id": opts.ProjectID,
			"count":      len(workTypes),
		}).Info("Seeded sequence-0 work types")
	}
	return nil
}

// buildWorkTypes 解析工序名称列表
func buildWorkTypes(projectID uint64, names string) ([]*bomModel.ProcessWorkType, error) {
	if projectID == 0 {
		return nil, fmt.Errorf("-project is required when -seed is set")
	}

	var workTypes []*bomModel.ProcessWorkType
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		workTypes = append(workTypes, &bomModel.ProcessWorkType{
			ProjectID: projectID,
			Name:      name,
			Sequence:  0,
		})
	}
	if len(workTypes) == 0 {
		return nil, fmt.Errorf("-work-types is required when -seed is set")
	}
	return workTypes, nil
}
