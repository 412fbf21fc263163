package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	bomModel "bomsync/internal/model/bom"
)

// ParseOptions 解析参数
type ParseOptions struct {
	ProjectID uint64
}

// ParsedProject 解析器产出的中间结果，Payload 由具体解析器定义
type ParsedProject struct {
	BOMPath string
	NCDir   string
	NCFiles []string
	Payload interface{}
}

// Parser BOM/NC解析器
type Parser interface {
	ParseProject(ctx context.Context, bomFilePath, ncDir string, opts ParseOptions) (*ParsedProject, error)
	Transform(project *ParsedProject) (*ProjectTree, error)
}

// ProjectTree 解析器转换后的声明式构件树
type ProjectTree struct {
	AssemblyTemplates map[string]AssemblyTemplate `json:"assemblyTemplates"`
	Root              struct {
		Assemblies []RootAssembly `json:"assemblies"`
	} `json:"root"`
}

// AssemblyTemplate 构件模板，同一模板可被多个构件实例引用
type AssemblyTemplate struct {
	Name           string    `json:"name"`
	DrawingName    string    `json:"drawingName"`
	TotalLength    float64   `json:"totalLength"`
	TotalWeight    float64   `json:"totalWeight"`
	TotalNetWeight float64   `json:"totalNetWeight"`
	TotalArea      float64   `json:"totalArea"`
	MainPart       *MainPart `json:"mainPart"`
}

// MainPart 主零件
type MainPart struct {
	Specification string `json:"specification"`
	Material      string `json:"material"`
	Type          string `json:"type"`
}

// RootAssembly 构件实例
type RootAssembly struct {
	AssemblyID      string  `json:"assemblyId"`
	Template        string  `json:"template"`
	Name            string  `json:"name"`
	InstallPosition string  `json:"installPosition"`
	InstallHeight   float64 `json:"installHeight"`
	AreaType        string  `json:"areaType"`
}

// SkippedRecord 被丢弃的构件实例
type SkippedRecord struct {
	AssemblyID string
	Reason     string
}

// Flatten 把构件实例与模板合并为导入构件
// 模板不存在或主零件缺少规格/材质/类型的实例被丢弃
func Flatten(tree *ProjectTree) ([]bomModel.ImportedAssembly, []SkippedRecord) {
	if tree == nil {
		return nil, nil
	}

	assemblies := make([]bomModel.ImportedAssembly, 0, len(tree.Root.Assemblies))
	var skipped []SkippedRecord

	for _, item := range tree.Root.Assemblies {
		tmpl, ok := tree.AssemblyTemplates[item.Template]
		if !ok {
			skipped = append(skipped, SkippedRecord{AssemblyID: item.AssemblyID, Reason: "template not found: " + item.Template})
			continue
		}
		main := tmpl.MainPart
		if main == nil || main.Specification == "" || main.Material == "" || main.Type == "" {
			skipped = append(skipped, SkippedRecord{AssemblyID: item.AssemblyID, Reason: "main part incomplete"})
			continue
		}

		name := item.Name
		if name == "" {
			name = tmpl.Name
		}
		assemblies = append(assemblies, bomModel.ImportedAssembly{AssemblyFields: bomModel.AssemblyFields{
			AssemblyID:      item.AssemblyID,
			Name:            name,
			InstallPosition: item.InstallPosition,
			InstallHeight:   item.InstallHeight,
			AreaType:        item.AreaType,
			DrawingName:     tmpl.DrawingName,
			TotalLength:     tmpl.TotalLength,
			TotalWeight:     tmpl.TotalWeight,
			TotalNetWeight:  tmpl.TotalNetWeight,
			TotalArea:       tmpl.TotalArea,
			Specification:   main.Specification,
			Material:        main.Material,
			Type:            main.Type,
		}})
	}

	return assemblies, skipped
}

// JSONParser 读取已转换为JSON的构件树
type JSONParser struct{}

// NewJSONParser 创建JSON解析器
func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

// ParseProject 读取BOM文件，并列出NC目录下的文件
func (p *JSONParser) ParseProject(ctx context.Context, bomFilePath, ncDir string, opts ParseOptions) (*ParsedProject, error) {
	data, err := os.ReadFile(bomFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read bom file: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("bom file %s is not valid json", filepath.Base(bomFilePath))
	}

	project := &ParsedProject{BOMPath: bomFilePath, NCDir: ncDir, Payload: data}
	if ncDir != "" {
		err := filepath.WalkDir(ncDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				project.NCFiles = append(project.NCFiles, path)
			}
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to list nc files: %w", err)
		}
	}
	return project, nil
}

// Transform 解码构件树
func (p *JSONParser) Transform(project *ParsedProject) (*ProjectTree, error) {
	data, ok := project.Payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", project.Payload)
	}

	var tree ProjectTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode project tree: %w", err)
	}
	return &tree, nil
}
