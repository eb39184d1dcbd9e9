// Package storage 产物存储，键为 {fileId}.{ext}
package storage

import (
	"context"
	"io"

	"github.com/freedkr/ocrflow/internal/model"
)

// 存储后端
const (
	BackendLocal = "local"
	BackendMinIO = "minio"
)

// Config 产物存储配置
type Config struct {
	Backend string      `yaml:"backend" env:"ARTIFACT_BACKEND" default:"local" validate:"oneof=local minio"`
	Local   LocalConfig `yaml:"local"`
	MinIO   MinIOConfig `yaml:"minio"`
}

// Artifact 打开的产物
type Artifact struct {
	io.ReadCloser
	Size int64
}

// ArtifactStore 产物存储接口。Save 要么三个产物全部写入，要么一个都不留下
type ArtifactStore interface {
	Save(ctx context.Context, fileID string, set *model.ArtifactSet) error
	Open(ctx context.Context, fileID string, format model.ArtifactFormat) (*Artifact, error)
	Exists(ctx context.Context, fileID string, format model.ArtifactFormat) (bool, error)
	Delete(ctx context.Context, fileID string) error
}

func notFound(fileID string, format model.ArtifactFormat) error {
	return model.NewNotFoundError("artifact", model.ArtifactKey(fileID, format), "File not found")
}
