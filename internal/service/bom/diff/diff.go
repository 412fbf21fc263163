// Package diff 比对导入构件与已持久化构件，分为新增/替换/缺失三类
package diff

import (
	"context"
	"fmt"
	"math"

	bomModel "bomsync/internal/model/bom"
)

// Epsilon 数值字段比较容差
const Epsilon = 1e-7

// Sort 对一次导入做差异分类
// 纯函数：不修改入参；缺少业务主键的导入记录跳过并计入 Skipped。
// 同一业务主键出现多次时按顺序依次匹配已持久化的同键构件，多出的导入记录归为新增。
func Sort(persisted []*bomModel.Assembly, imported []bomModel.ImportedAssembly) bomModel.SortResult {
	lookup := make(map[string][]int, len(persisted))
	for i, assembly := range persisted {
		lookup[assembly.AssemblyID] = append(lookup[assembly.AssemblyID], i)
	}

	consumed := make([]bool, len(persisted))
	var result bomModel.SortResult

	for _, item := range imported {
		if item.AssemblyID == "" {
			result.Skipped++
			continue
		}

		candidates := lookup[item.AssemblyID]
		if len(candidates) == 0 {
			result.NewAssemblies = append(result.NewAssemblies, item)
			continue
		}
		idx := candidates[0]
		lookup[item.AssemblyID] = candidates[1:]
		consumed[idx] = true

		if !Equal(persisted[idx].AssemblyFields, item.AssemblyFields) {
			result.Replacements = append(result.Replacements, bomModel.Replacement{
				ReplacedAssembly:    persisted[idx],
				ReplacementAssembly: item,
			})
		}
	}

	for i, assembly := range persisted {
		if !consumed[i] {
			result.MissingAssemblies = append(result.MissingAssemblies, assembly)
		}
	}

	return result
}

// Equal 按固定字段集比较两个构件，字符串精确比较，数值带容差
func Equal(a, b bomModel.AssemblyFields) bool {
	return a.Name == b.Name &&
		a.InstallPosition == b.InstallPosition &&
		floatEqual(a.InstallHeight, b.InstallHeight) &&
		a.AreaType == b.AreaType &&
		a.DrawingName == b.DrawingName &&
		floatEqual(a.TotalLength, b.TotalLength) &&
		floatEqual(a.TotalWeight, b.TotalWeight) &&
		floatEqual(a.TotalNetWeight, b.TotalNetWeight) &&
		floatEqual(a.TotalArea, b.TotalArea) &&
		a.Specification == b.Specification &&
		a.Material == b.Material
}

func floatEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// SnapshotSource 提供项目构件快照
type SnapshotSource interface {
	ListByProject(ctx context.Context, projectID uint64) ([]*bomModel.Assembly, error)
}

// Engine 读取一次项目快照后执行差异分类
type Engine struct {
	source SnapshotSource
}

// NewEngine 创建差异比对引擎
func NewEngine(source SnapshotSource) *Engine {
	return &Engine{source: source}
}

// Diff 比对项目的导入构件
func (e *Engine) Diff(ctx context.Context, projectID uint64, imported []bomModel.ImportedAssembly) (bomModel.SortResult, error) {
	persisted, err := e.source.ListByProject(ctx, projectID)
	if err != nil {
		return bomModel.SortResult{}, fmt.Errorf("failed to load assemblies of project %d: %w", projectID, err)
	}
	return Sort(persisted, imported), nil
}
