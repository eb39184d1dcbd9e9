// Package history 文档历史查询与产物下载
package history

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/freedkr/ocrflow/internal/database"
	"github.com/freedkr/ocrflow/internal/model"
	"github.com/freedkr/ocrflow/internal/storage"
	applog "github.com/freedkr/ocrflow/pkg/logger"
)

// Config 历史查询配置
type Config struct {
	Limit         int `yaml:"limit" env:"HISTORY_LIMIT" default:"20" validate:"min=1,max=100"`
	PreviewLength int `yaml:"preview_length" env:"HISTORY_PREVIEW_LENGTH" default:"150" validate:"min=1"`
}

// Cache 历史列表缓存。Version 在查库前读取，SetHistory 只在版本未变时写入
type Cache interface {
	GetHistory(ctx context.Context, ownerID string) ([]model.HistoryEntry, bool, error)
	Version(ctx context.Context, ownerID string) (int64, error)
	SetHistory(ctx context.Context, ownerID string, version int64, entries []model.HistoryEntry) (bool, error)
}

// Service 历史与下载服务
type Service struct {
	config    Config
	records   database.DocumentGateway
	artifacts storage.ArtifactStore
	cache     Cache
	log       *applog.Logger
}

// NewService 创建服务，cache 可以为 nil
func NewService(config Config, records database.DocumentGateway, artifacts storage.ArtifactStore, cache Cache) *Service {
	if config.Limit <= 0 {
		config.Limit = 20
	}
	if config.PreviewLength <= 0 {
		config.PreviewLength = model.HistoryPreviewLength
	}
	return &Service{
		config:    config,
		records:   records,
		artifacts: artifacts,
		cache:     cache,
		log:       applog.NewLogger("history"),
	}
}

// History 返回用户最近的文档，按上传时间倒序
func (s *Service) History(ctx context.Context, ownerID string) ([]model.HistoryEntry, error) {
	if ownerID == "" {
		return nil, model.NewInputError("owner", "owner is required")
	}

	cacheable := false
	var version int64
	if s.cache != nil {
		entries, ok, err := s.cache.GetHistory(ctx, ownerID)
		if err != nil {
			s.log.Warn("history cache read failed", "owner_id", ownerID, "error", err)
		} else if ok {
			return entries, nil
		}

		if version, err = s.cache.Version(ctx, ownerID); err != nil {
			s.log.Warn("history cache version read failed", "owner_id", ownerID, "error", err)
		} else {
			cacheable = true
		}
	}

	docs, err := s.records.ListRecentDocuments(ctx, ownerID, s.config.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	entries := make([]model.HistoryEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, model.HistoryEntry{
			ID:         d.ID,
			FileID:     d.FileID,
			Filename:   d.OriginalFilename,
			UploadedAt: model.ISOTime(d.CreatedAt),
			Preview:    model.Preview(d.ExtractedText, s.config.PreviewLength),
		})
	}

	if cacheable {
		stored, err := s.cache.SetHistory(ctx, ownerID, version, entries)
		if err != nil {
			s.log.Warn("history cache write failed", "owner_id", ownerID, "error", err)
		} else if !stored {
			s.log.Debug("history changed during read, cache not updated", "owner_id", ownerID)
		}
	}
	return entries, nil
}

// Download 打开产物。检查顺序：类型、产物是否存在、记录归属
func (s *Service) Download(ctx context.Context, fileID, fileType, ownerID string) (*model.ArtifactDownload, error) {
	format, ok := model.ParseArtifactFormat(fileType)
	if !ok {
		return nil, model.NewInputError("type", "Invalid file type")
	}

	exists, err := s.artifacts.Exists(ctx, fileID, format)
	if err != nil {
		return nil, fmt.Errorf("failed to check artifact: %w", err)
	}
	if !exists {
		return nil, model.NewNotFoundError("artifact", model.ArtifactKey(fileID, format), "File not found")
	}

	doc, err := s.records.FindDocumentByFileID(ctx, fileID, ownerID)
	if err != nil {
		if model.IsErrorType(err, model.ErrCodeNotFound) {
			s.log.Warn("download denied", "owner_id", ownerID, "file_id", fileID)
			return nil, model.NewAuthorizationError(ownerID, fileID, "Unauthorized access")
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	artifact, err := s.artifacts.Open(ctx, fileID, format)
	if err != nil {
		return nil, err
	}

	return &model.ArtifactDownload{
		Reader:      artifact,
		Size:        artifact.Size,
		ContentType: format.ContentType(),
		Filename:    DownloadName(doc.OriginalFilename, format),
	}, nil
}

// DownloadName 原文件名去掉扩展名后加上产物扩展名
func DownloadName(original string, format model.ArtifactFormat) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	// 以点开头且没有其他点的文件名整体作为名称
	if ext := filepath.Ext(base); ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." || base == "/" {
		base = "document"
	}
	return base + "." + format.Extension()
}
