// Package staging 管理上传文件在处理期间的临时落盘
package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/freedkr/ocrflow/internal/model"
)

// Config 暂存目录配置
type Config struct {
	Dir string `yaml:"dir" env:"STAGING_DIR" default:"storage/uploads" validate:"required"`
}

// Store 暂存区，每个文件使用独立的uuid文件名
type Store struct {
	dir string
}

// Handle 已暂存文件的句柄
type Handle struct {
	path         string
	originalName string
	size         int64
	once         sync.Once
	releaseErr   error
}

// Path 暂存文件路径
func (h *Handle) Path() string { return h.path }

// Size 暂存的字节数
func (h *Handle) Size() int64 { return h.size }

// OriginalName 上传时的文件名
func (h *Handle) OriginalName() string { return h.originalName }

// NewStore 创建暂存区，目录不存在时自动创建
func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("暂存目录不能为空")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("创建暂存目录失败: %w", err)
	}
	return &Store{dir: cfg.Dir}, nil
}

// Stage 将内容写入暂存区
func (s *Store) Stage(r io.Reader, suggestedName string) (*Handle, error) {
	path := filepath.Join(s.dir, uuid.New().String()+safeExt(suggestedName))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, model.NewFileError(model.ErrCodeFileWriteError, path, "stage", "failed to stage upload", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(path)
		return nil, model.NewFileError(model.ErrCodeFileWriteError, path, "stage", "failed to stage upload", copyErr)
	}

	return &Handle{path: path, originalName: suggestedName, size: n}, nil
}

// Open 打开暂存文件；文件已不存在时返回可恢复的 FILE_NOT_FOUND 错误
func (s *Store) Open(h *Handle) (*os.File, error) {
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.NewFileError(model.ErrCodeFileNotFound, h.path, "open", "staged file is missing", err)
		}
		return nil, model.NewFileError(model.ErrCodeFileNotFound, h.path, "open", "failed to read staged file", err)
	}
	return f, nil
}

// Release 删除暂存文件。重复调用只执行一次，文件已被删除视为成功
func (s *Store) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.releaseErr = fmt.Errorf("删除暂存文件失败: %w", err)
		}
	})
	return h.releaseErr
}

// Pending 列出仍在暂存区中的文件
func (s *Store) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("读取暂存目录失败: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// safeExt 只保留形如 .png 的简单扩展名
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
