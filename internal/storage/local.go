package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/freedkr/ocrflow/internal/model"
)

// LocalConfig 本地磁盘存储配置
type LocalConfig struct {
	Dir string `yaml:"dir" env:"ARTIFACT_DIR" default:"storage/outputs"`
}

// LocalStorage 本地磁盘产物存储
type LocalStorage struct {
	dir string
}

// NewLocalStorage 创建本地存储，目录不存在时自动创建
func NewLocalStorage(config *LocalConfig) (*LocalStorage, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("产物目录不能为空")
	}
	if err := os.MkdirAll(config.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("创建产物目录失败: %w", err)
	}
	return &LocalStorage{dir: config.Dir}, nil
}

// Save 先写临时文件再重命名，任一步失败时删除已写入的产物
func (l *LocalStorage) Save(ctx context.Context, fileID string, set *model.ArtifactSet) error {
	if err := validFileID(fileID); err != nil {
		return err
	}

	var written []string
	rollback := func() {
		for _, p := range written {
			os.Remove(p)
		}
	}

	for _, format := range model.AllFormats {
		if err := ctx.Err(); err != nil {
			rollback()
			return err
		}
		target := l.path(fileID, format)
		tmp := target + ".tmp-" + uuid.New().String()

		if err := os.WriteFile(tmp, set.Get(format), 0o640); err != nil {
			os.Remove(tmp)
			rollback()
			return model.NewFileError(model.ErrCodeFileWriteError, target, "write", "failed to store artifact", err)
		}
		if err := os.Rename(tmp, target); err != nil {
			os.Remove(tmp)
			rollback()
			return model.NewFileError(model.ErrCodeFileWriteError, target, "rename", "failed to store artifact", err)
		}
		written = append(written, target)
	}
	return nil
}

// Open 打开产物
func (l *LocalStorage) Open(ctx context.Context, fileID string, format model.ArtifactFormat) (*Artifact, error) {
	if err := validFileID(fileID); err != nil {
		return nil, notFound(fileID, format)
	}
	f, err := os.Open(l.path(fileID, format))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(fileID, format)
		}
		return nil, fmt.Errorf("打开产物失败: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("获取产物信息失败: %w", err)
	}
	return &Artifact{ReadCloser: f, Size: info.Size()}, nil
}

// Exists 产物是否存在
func (l *LocalStorage) Exists(ctx context.Context, fileID string, format model.ArtifactFormat) (bool, error) {
	if validFileID(fileID) != nil {
		return false, nil
	}
	_, err := os.Stat(l.path(fileID, format))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("检查产物失败: %w", err)
}

// Delete 删除某个文件的全部产物
func (l *LocalStorage) Delete(ctx context.Context, fileID string) error {
	if err := validFileID(fileID); err != nil {
		return err
	}
	var errs []error
	for _, format := range model.AllFormats {
		if err := os.Remove(l.path(fileID, format)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("删除产物失败: %w", errors.Join(errs...))
	}
	return nil
}

func (l *LocalStorage) path(fileID string, format model.ArtifactFormat) string {
	return filepath.Join(l.dir, model.ArtifactKey(fileID, format))
}

// validFileID 文件标识只能是单个路径段
func validFileID(fileID string) error {
	if fileID == "" || fileID == "." || fileID == ".." || strings.ContainsAny(fileID, `/\`) {
		return model.NewInputError("fileId", "Invalid file identifier")
	}
	return nil
}
