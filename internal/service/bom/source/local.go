package source

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
)

// LocalStorage 本地目录模拟对象存储，{root}/{bucket}/{key}
type LocalStorage struct {
	root string
}

// NewLocalStorage 创建本地存储
func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

func (l *LocalStorage) objectPath(bucket, key string) string {
	return filepath.Join(l.root, bucket, filepath.FromSlash(key))
}

// HeadObject 获取文件元信息，ETag 为内容MD5
func (l *LocalStorage) HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	path := l.objectPath(bucket, key)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	hash := md5.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return &ObjectInfo{
		ETag:        hex.EncodeToString(hash.Sum(nil)),
		Size:        size,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

// DownloadObject 复制文件到目标位置
func (l *LocalStorage) DownloadObject(ctx context.Context, bucket, key, destination string) error {
	src, err := os.Open(l.objectPath(bucket, key))
	if err != nil {
		return fmt.Errorf("failed to open object %s/%s: %w", bucket, key, err)
	}
	defer src.Close()

	return writeFile(destination, src)
}

// ExtractArchive 解压zip包
func (l *LocalStorage) ExtractArchive(ctx context.Context, archivePath, destinationDir string) error {
	return extractZip(ctx, archivePath, destinationDir)
}
