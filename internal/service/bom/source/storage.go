// Package source 从对象存储获取BOM包并解析为导入构件
package source

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bomsync/internal/config"
)

// ObjectInfo 对象元信息
type ObjectInfo struct {
	ETag        string
	Size        int64
	ContentType string
}

// ObjectStorage 对象存储客户端
type ObjectStorage interface {
	// HeadObject 对象不存在时返回 nil, nil
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	DownloadObject(ctx context.Context, bucket, key, destination string) error
	ExtractArchive(ctx context.Context, archivePath, destinationDir string) error
}

// NewObjectStorage 根据配置创建存储客户端
func NewObjectStorage(ctx context.Context, cfg *config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, &cfg.S3)
	case "local":
		return NewLocalStorage(cfg.LocalRoot), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// extractZip 解压zip到目标目录，拒绝指向目录外的条目
func extractZip(ctx context.Context, archivePath, destinationDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer reader.Close()

	root, err := filepath.Abs(destinationDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", root, err)
	}

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := filepath.Join(root, filepath.FromSlash(file.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(file, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", file.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	return dst.Close()
}
