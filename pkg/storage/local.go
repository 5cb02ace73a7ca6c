package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/pkg/logger"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	basePath string // 基础存储路径，如 data/archive
	baseURL  string // 基础访问URL，为空时返回相对路径
}

// NewLocalStorage 创建本地文件存储实例
func NewLocalStorage(basePath, baseURL string) *LocalStorage {
	// 确保基础目录存在
	if err := os.MkdirAll(basePath, 0755); err != nil {
		logger.Error("create storage dir failed", zap.String("path", basePath), zap.Error(err))
	}

	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}
}

// UploadFile 写入文件，文件名加纳秒时间戳前缀避免覆盖
func (s *LocalStorage) UploadFile(ctx context.Context, file io.Reader, filename, folder string) (string, error) {
	ext := filepath.Ext(filename)
	name := filepath.Base(filename)
	name = name[:len(name)-len(ext)]

	newFilename := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), name, ext)

	folderPath := filepath.Join(s.basePath, folder)
	if err := os.MkdirAll(folderPath, 0755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", folderPath, err)
	}

	filePath := filepath.Join(folderPath, newFilename)
	dst, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(filePath) // 写入失败删除半成品
		return "", fmt.Errorf("write %s: %w", filePath, err)
	}

	return s.GetFileURL(filepath.Join(folder, newFilename)), nil
}

// ReadFile 读取文件内容
func (s *LocalStorage) ReadFile(ctx context.Context, url string) ([]byte, error) {
	data, err := os.ReadFile(s.localPath(url))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

// DeleteFile 删除文件，文件不存在视为成功
func (s *LocalStorage) DeleteFile(ctx context.Context, url string) error {
	filePath := s.localPath(url)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("remove %s: %w", filePath, err)
	}
	return nil
}

// GetFileURL 获取文件的访问URL
func (s *LocalStorage) GetFileURL(path string) string {
	urlPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
	if s.baseURL != "" {
		return s.baseURL + "/" + urlPath
	}
	return "/" + urlPath
}

// localPath URL 还原为磁盘路径
// URL格式: http://localhost:8080/archive/raw/2025-01-02/1234_rss.json
func (s *LocalStorage) localPath(url string) string {
	relativePath := url
	if s.baseURL != "" && strings.HasPrefix(url, s.baseURL) {
		relativePath = url[len(s.baseURL):]
	}
	relativePath = strings.TrimPrefix(relativePath, "/")
	return filepath.Join(s.basePath, filepath.FromSlash(relativePath))
}
