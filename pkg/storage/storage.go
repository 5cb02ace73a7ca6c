package storage

import (
	"context"
	"io"
)

// FileStorage 文件存储接口
// 原始抓取结果的归档落在这里，可替换为 OSS、S3 等实现
type FileStorage interface {
	// UploadFile 写入文件
	// folder: 存储目录（如 "raw/2025-01-02"）
	// 返回: 文件的访问URL
	UploadFile(ctx context.Context, file io.Reader, filename, folder string) (string, error)

	// ReadFile 按访问URL读取文件
	ReadFile(ctx context.Context, url string) ([]byte, error)

	// DeleteFile 删除文件
	DeleteFile(ctx context.Context, url string) error

	// GetFileURL 获取文件的访问URL
	GetFileURL(path string) string
}
