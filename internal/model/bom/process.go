package bom

import (
	"bomsync/internal/model/basemodel"
)

// ProcessStatus 工序状态
type ProcessStatus string

const (
	ProcessPending    ProcessStatus = "PENDING"
	ProcessInProgress ProcessStatus = "IN_PROGRESS"
	ProcessCompleted  ProcessStatus = "COMPLETED"
)

// ProcessWorkType 项目工种配置
// Sequence 为 0 的工种会在新构件导入时自动生成待处理工序
type ProcessWorkType struct {
	basemodel.BaseModel

	ProjectID uint64 `json:"project_id" gorm:"not null;index:idx_project_sequence,priority:1;comment:所属项目ID"`
	Name      string `json:"name" gorm:"size:100;not null;comment:工种名称"`
	Sequence  int    `json:"sequence" gorm:"not null;default:0;index:idx_project_sequence,priority:2;comment:工序顺序"`
}

// TableName 定义数据库表名
func (ProcessWorkType) TableName() string {
	return "process_work_types"
}

// AssemblyProcess 构件工序记录
type AssemblyProcess struct {
	basemodel.BaseModel

	ProjectID  uint64        `json:"project_id" gorm:"not null;index;comment:所属项目ID"`
	AssemblyID uint64        `json:"assembly_id" gorm:"not null;index;comment:构件主键ID"`
	WorkTypeID uint64        `json:"work_type_id" gorm:"not null;index;comment:工种ID"`
	Status     ProcessStatus `json:"status" gorm:"size:20;not null;default:'PENDING';comment:工序状态"`
	CreatedBy  uint64        `json:"created_by" gorm:"comment:创建者UserID"`
}

// TableName 定义数据库表名
func (AssemblyProcess) TableName() string {
	return "assembly_processes"
}
