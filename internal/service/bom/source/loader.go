package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"bomsync/internal/config"
	bomModel "bomsync/internal/model/bom"
	"bomsync/internal/pkg/logger"

	"github.com/sirupsen/logrus"
)

// ErrInvalidObjectKey 指定的BOM对象键不在项目目录下
var ErrInvalidObjectKey = errors.New("invalid bom object key")

// LoadResult 一次加载的结果
type LoadResult struct {
	Assemblies  []bomModel.ImportedAssembly
	Skipped     int
	BOMObject   *ObjectInfo
	NCAvailable bool
}

// Loader 按约定路径下载BOM包并解析
//
//	projects/{projectId}/{bom_dir}/{bom_file_name}
//	projects/{projectId}/{nc_dir}/{nc_file_name}  (可选)
type Loader struct {
	storage ObjectStorage
	parser  Parser
	cfg     config.StorageConfig
}

// NewLoader 创建加载器
func NewLoader(storage ObjectStorage, parser Parser, cfg config.StorageConfig) *Loader {
	return &Loader{storage: storage, parser: parser, cfg: cfg}
}

func (l *Loader) bucket() string {
	return l.cfg.S3.Bucket
}

// BOMKey BOM文件对象键
func (l *Loader) BOMKey(projectID uint64) string {
	return path.Join("projects", strconv.FormatUint(projectID, 10), l.cfg.BOMDir, l.cfg.BOMFileName)
}

// NCKey NC压缩包对象键
func (l *Loader) NCKey(projectID uint64) string {
	return path.Join("projects", strconv.FormatUint(projectID, 10), l.cfg.NCDir, l.cfg.NCFileName)
}

// ResolveBOMKey 校验调用方指定的BOM对象键，为空时使用约定路径
// 指定的键必须是 projects/{projectId}/ 下的规范路径
func (l *Loader) ResolveBOMKey(projectID uint64, objectKey string) (string, error) {
	if objectKey == "" {
		return l.BOMKey(projectID), nil
	}
	prefix := "projects/" + strconv.FormatUint(projectID, 10) + "/"
	if path.Clean(objectKey) != objectKey || !strings.HasPrefix(objectKey, prefix) || len(objectKey) == len(prefix) {
		return "", fmt.Errorf("%w: %q is not under %s", ErrInvalidObjectKey, objectKey, prefix)
	}
	return objectKey, nil
}

// BOMObject 获取BOM文件元信息，不存在时返回 SourceUnavailable
func (l *Loader) BOMObject(ctx context.Context, projectID uint64, objectKey string) (*ObjectInfo, error) {
	key, err := l.ResolveBOMKey(projectID, objectKey)
	if err != nil {
		return nil, err
	}
	info, err := l.storage.HeadObject(ctx, l.bucket(), key)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, bomModel.NewImportError(bomModel.KindSourceUnavailable, "load bom",
			fmt.Errorf("object %s not found", key))
	}
	return info, nil
}

// Load 下载并解析项目的BOM包，objectKey 为空时读取约定路径
// BOM文件缺失返回 SourceUnavailable；NC包缺失只记日志；内容无法解析返回 ParseError
func (l *Loader) Load(ctx context.Context, jobID string, projectID uint64, objectKey string) (*LoadResult, error) {
	key, err := l.ResolveBOMKey(projectID, objectKey)
	if err != nil {
		return nil, bomModel.NewImportError(bomModel.KindSourceUnavailable, "load bom", err)
	}
	info, err := l.BOMObject(ctx, projectID, key)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(l.cfg.WorkDir, "bomsync-"+jobID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	bomPath := filepath.Join(workDir, path.Base(key))
	if err := l.storage.DownloadObject(ctx, l.bucket(), key, bomPath); err != nil {
		return nil, fmt.Errorf("failed to download bom file: %w", err)
	}

	result := &LoadResult{BOMObject: info}

	ncDir, err := l.fetchNC(ctx, jobID, projectID, workDir)
	if err != nil {
		return nil, err
	}
	result.NCAvailable = ncDir != ""

	parsed, err := l.parser.ParseProject(ctx, bomPath, ncDir, ParseOptions{ProjectID: projectID})
	if err != nil {
		return nil, bomModel.NewImportError(bomModel.KindParseError, "parse project", err)
	}
	tree, err := l.parser.Transform(parsed)
	if err != nil {
		return nil, bomModel.NewImportError(bomModel.KindParseError, "transform project", err)
	}

	assemblies, skipped := Flatten(tree)
	for _, record := range skipped {
		logger.LogImportEvent(jobID, projectID, "load", "assembly skipped", logrus.DebugLevel, map[string]interface{}{
			"assembly_id": record.AssemblyID,
			"reason":      record.Reason,
		})
	}
	result.Assemblies = assemblies
	result.Skipped = len(skipped)

	return result, nil
}

// fetchNC 下载并解压NC包，不存在时返回空目录
func (l *Loader) fetchNC(ctx context.Context, jobID string, projectID uint64, workDir string) (string, error) {
	key := l.NCKey(projectID)
	info, err := l.storage.HeadObject(ctx, l.bucket(), key)
	if err != nil {
		return "", err
	}
	if info == nil {
		logger.LogImportEvent(jobID, projectID, "load", "nc archive not found, continuing without it", logrus.WarnLevel, map[string]interface{}{
			"object_key": key,
		})
		return "", nil
	}

	archivePath := filepath.Join(workDir, l.cfg.NCFileName)
	if err := l.storage.DownloadObject(ctx, l.bucket(), key, archivePath); err != nil {
		return "", fmt.Errorf("failed to download nc archive: %w", err)
	}

	ncDir := filepath.Join(workDir, "nc")
	if err := l.storage.ExtractArchive(ctx, archivePath, ncDir); err != nil {
		return "", bomModel.NewImportError(bomModel.KindParseError, "extract nc archive", err)
	}
	return ncDir, nil
}
