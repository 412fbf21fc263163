/**
 * 模型:构件
 * @description: BOM导入的构件(Assembly)及导入过程中使用的临时结构
 */
package bom

import (
	"bomsync/internal/model/basemodel"
)

// ChangeType 构件变更标记
type ChangeType string

const (
	ChangeNone        ChangeType = ""
	ChangeNew         ChangeType = "NEW"         // 首次导入
	ChangeReplaced    ChangeType = "REPLACED"    // 被新数据替换(旧数据视角)
	ChangeMissing     ChangeType = "MISSING"     // 新导入中已不存在
	ChangeReplacement ChangeType = "REPLACEMENT" // 已用新导入的数据覆盖
)

// AssemblyFields 构件业务字段
// 导入数据与持久化数据共用，重新导入时整体覆盖
type AssemblyFields struct {
	AssemblyID      string  `json:"assembly_id" gorm:"size:100;index:idx_project_assembly,priority:2;comment:BOM业务主键"`
	Name            string  `json:"name" gorm:"size:200;comment:构件名称"`
	InstallPosition string  `json:"install_position" gorm:"size:200;comment:安装位置"`
	InstallHeight   float64 `json:"install_height" gorm:"comment:安装标高"`
	AreaType        string  `json:"area_type" gorm:"size:100;comment:区域类型"`
	DrawingName     string  `json:"drawing_name" gorm:"size:200;comment:图纸名称"`
	TotalLength     float64 `json:"total_length" gorm:"comment:总长度"`
	TotalWeight     float64 `json:"total_weight" gorm:"comment:总重量"`
	TotalNetWeight  float64 `json:"total_net_weight" gorm:"comment:总净重"`
	TotalArea       float64 `json:"total_area" gorm:"comment:总面积"`
	Specification   string  `json:"specification" gorm:"size:200;comment:主零件规格"`
	Material        string  `json:"material" gorm:"size:100;comment:主零件材质"`
	Type            string  `json:"type" gorm:"size:100;comment:主零件类型"`
}

// Assembly 构件表
// TagID 创建时分配，之后不再变化；构件不会被导入流程物理删除
type Assembly struct {
	basemodel.BaseModel

	ProjectID      uint64 `json:"project_id" gorm:"not null;index:idx_project_assembly,priority:1;comment:所属项目ID"`
	TagID          string `json:"tag_id" gorm:"size:32;uniqueIndex;not null;comment:系统生成的唯一标签"`
	AssemblyFields `gorm:"embedded"`
	Change         ChangeType `json:"change" gorm:"column:change_type;size:20;comment:变更标记(NEW/REPLACED/MISSING/REPLACEMENT)"`
	CreatedBy      uint64     `json:"created_by" gorm:"comment:创建者UserID"`
	UpdatedBy      uint64     `json:"updated_by" gorm:"comment:更新者UserID"`
}

// TableName 定义数据库表名
func (Assembly) TableName() string {
	return "assemblies"
}

// ImportedAssembly 解析后的导入构件(尚未持久化)
type ImportedAssembly struct {
	AssemblyFields
}

// Replacement 需要覆盖更新的构件对
type Replacement struct {
	ReplacedAssembly    *Assembly        `json:"replaced_assembly"`
	ReplacementAssembly ImportedAssembly `json:"replacement_assembly"`
}

// SortResult 差异分类结果，只在单次导入中使用，不持久化
type SortResult struct {
	NewAssemblies     []ImportedAssembly `json:"new_assemblies"`
	Replacements      []Replacement      `json:"replacements"`
	MissingAssemblies []*Assembly        `json:"missing_assemblies"`
	Skipped           int                `json:"skipped"` // 缺少业务主键而未参与比对的导入记录数
}

// TotalSteps 三类构件的总数，即导入任务的总步数
func (r SortResult) TotalSteps() int {
	return len(r.NewAssemblies) + len(r.Replacements) + len(r.MissingAssemblies)
}
