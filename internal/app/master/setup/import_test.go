package setup

import (
	"context"
	"testing"

	"bomsync/internal/config"
	"bomsync/internal/repo/memory"
	bomRepo "bomsync/internal/repo/mysql/bom"
	"bomsync/internal/service/bom/queue"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestBuildImportModule_LocalMemory(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, bomRepo.AutoMigrate(db))

	cfg := &config.Config{
		Storage: config.StorageConfig{
			Driver:      "local",
			LocalRoot:   t.TempDir(),
			BOMDir:      "bom",
			BOMFileName: "project.bom",
			NCDir:       "nc",
			NCFileName:  "nc.zip",
		},
		Queue:  config.QueueConfig{Driver: "memory", Concurrency: 1, BufferSize: 10},
		Import: config.ImportConfig{ChunkSize: 100, TagMaxRounds: 10, TagLength: 10, ProgressStore: "memory", ReportStepPercent: 10},
	}

	module, err := BuildImportModule(context.Background(), cfg, db, nil)
	require.NoError(t, err)
	assert.NotNil(t, module.ImportHandler)
	assert.NotNil(t, module.ImportService)
	assert.IsType(t, &queue.MemoryQueue{}, module.Queue)
}

func TestBuildProgressStore(t *testing.T) {
	store, err := buildProgressStore("memory", nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.ProgressRepository{}, store)

	_, err = buildProgressStore("redis", nil)
	assert.Error(t, err)

	_, err = buildProgressStore("etcd", nil)
	assert.Error(t, err)
}
