package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/freedkr/ocrflow/internal/model"
)

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint" env:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"MINIO_ACCESS_KEY_ID" default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"MINIO_SECRET_ACCESS_KEY" default:"minioadmin"`
	UseSSL          bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" default:"false"`
	BucketName      string `yaml:"bucket_name" env:"MINIO_BUCKET_NAME" default:"ocrflow"`
	Region          string `yaml:"region" env:"MINIO_REGION" default:"us-east-1"`
	Prefix          string `yaml:"prefix" env:"MINIO_PREFIX" default:"artifacts"`
}

// MinIOStorage MinIO产物存储
type MinIOStorage struct {
	client *minio.Client
	config *MinIOConfig
}

// NewMinIOStorage 创建MinIO存储
func NewMinIOStorage(config *MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	return &MinIOStorage{
		client: client,
		config: config,
	}, nil
}

// EnsureBucket 确保存储桶存在
func (m *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.config.BucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}

	if !exists {
		err = m.client.MakeBucket(ctx, m.config.BucketName, minio.MakeBucketOptions{
			Region: m.config.Region,
		})
		if err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
	}

	return nil
}

// Save 依次上传三个产物，失败时删除已上传的对象
func (m *MinIOStorage) Save(ctx context.Context, fileID string, set *model.ArtifactSet) error {
	if err := validFileID(fileID); err != nil {
		return err
	}

	var uploaded []string
	for _, format := range model.AllFormats {
		objectName := m.objectName(fileID, format)
		data := set.Get(format)

		_, err := m.client.PutObject(ctx, m.config.BucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: format.ContentType(),
		})
		if err != nil {
			m.removeObjects(uploaded)
			return model.NewSystemError(model.ErrCodeStorageError, "minio", "put", "failed to store artifact", err)
		}
		uploaded = append(uploaded, objectName)
	}

	return nil
}

// Open 下载产物
func (m *MinIOStorage) Open(ctx context.Context, fileID string, format model.ArtifactFormat) (*Artifact, error) {
	if validFileID(fileID) != nil {
		return nil, notFound(fileID, format)
	}
	objectName := m.objectName(fileID, format)

	object, err := m.client.GetObject(ctx, m.config.BucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("下载文件失败: %w", err)
	}
	stat, err := object.Stat()
	if err != nil {
		object.Close()
		if isNoSuchKey(err) {
			return nil, notFound(fileID, format)
		}
		return nil, fmt.Errorf("获取文件信息失败: %w", err)
	}

	return &Artifact{ReadCloser: object, Size: stat.Size}, nil
}

// Exists 产物是否存在
func (m *MinIOStorage) Exists(ctx context.Context, fileID string, format model.ArtifactFormat) (bool, error) {
	if validFileID(fileID) != nil {
		return false, nil
	}
	_, err := m.client.StatObject(ctx, m.config.BucketName, m.objectName(fileID, format), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("获取文件信息失败: %w", err)
}

// Delete 删除某个文件的全部产物
func (m *MinIOStorage) Delete(ctx context.Context, fileID string) error {
	if err := validFileID(fileID); err != nil {
		return err
	}
	var errs []error
	for _, format := range model.AllFormats {
		err := m.client.RemoveObject(ctx, m.config.BucketName, m.objectName(fileID, format), minio.RemoveObjectOptions{})
		if err != nil && !isNoSuchKey(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("删除文件失败: %w", errors.Join(errs...))
	}
	return nil
}

// removeObjects 回滚时使用独立的上下文，请求取消后仍然能清理
func (m *MinIOStorage) removeObjects(objectNames []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, name := range objectNames {
		m.client.RemoveObject(ctx, m.config.BucketName, name, minio.RemoveObjectOptions{})
	}
}

func (m *MinIOStorage) objectName(fileID string, format model.ArtifactFormat) string {
	return path.Join(m.config.Prefix, model.ArtifactKey(fileID, format))
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
