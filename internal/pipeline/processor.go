// Package pipeline 批量OCR处理：暂存、识别、编码、持久化，单个文件失败不影响其他文件
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/freedkr/ocrflow/internal/database"
	"github.com/freedkr/ocrflow/internal/metrics"
	"github.com/freedkr/ocrflow/internal/model"
	"github.com/freedkr/ocrflow/internal/staging"
	"github.com/freedkr/ocrflow/internal/storage"
	applog "github.com/freedkr/ocrflow/pkg/logger"
)

// TextExtractor OCR服务
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, filename, contentType string) (*model.OcrResult, error)
}

// ArtifactEncoder 产物编码
type ArtifactEncoder interface {
	Encode(text string) (*model.ArtifactSet, error)
}

// HistoryInvalidator 新文档入库后失效历史缓存
type HistoryInvalidator interface {
	Invalidate(ctx context.Context, ownerID string) error
}

// Dependencies 处理器依赖，History 可以为空
type Dependencies struct {
	Staging   *staging.Store
	OCR       TextExtractor
	Encoder   ArtifactEncoder
	Artifacts storage.ArtifactStore
	Records   database.DocumentGateway
	Limiter   *Limiter
	History   HistoryInvalidator
	NewID     func() string
	Logger    *applog.Logger
}

// Processor 批处理器
type Processor struct {
	config Config
	deps   Dependencies
	log    *applog.Logger
}

// NewProcessor 创建批处理器
func NewProcessor(config Config, deps Dependencies) (*Processor, error) {
	if deps.Staging == nil || deps.OCR == nil || deps.Encoder == nil || deps.Artifacts == nil || deps.Records == nil {
		return nil, fmt.Errorf("pipeline: missing required dependency")
	}
	if config.MaxConcurrency < 1 {
		config.MaxConcurrency = 1
	}
	if config.PreviewLength < 1 {
		config.PreviewLength = model.UploadPreviewLength
	}
	if deps.Limiter == nil {
		deps.Limiter = NewLimiter(config.GlobalMaxInFlight, config.RequestInterval)
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.New().String() }
	}
	if deps.Logger == nil {
		deps.Logger = applog.NewLogger("pipeline")
	}
	return &Processor{config: config, deps: deps, log: deps.Logger}, nil
}

// Limiter 全局OCR许可
func (p *Processor) Limiter() *Limiter {
	return p.deps.Limiter
}

// ProcessBatch 处理一批文件，结果顺序与输入一致。
// 只有整批无法处理时才返回 error，单个文件的失败记录在结果中
func (p *Processor) ProcessBatch(ctx context.Context, files []model.UploadedFile, ownerID string) (*model.BatchResult, error) {
	if len(files) == 0 {
		return nil, model.NewInputError("files", "No files uploaded")
	}
	if p.config.MaxFilesPerBatch > 0 && len(files) > p.config.MaxFilesPerBatch {
		return nil, model.NewInputError("files", fmt.Sprintf("too many files: %d exceeds limit of %d", len(files), p.config.MaxFilesPerBatch))
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, model.NewInputError("owner", "owner is required")
	}

	start := time.Now()
	log := p.log.With("owner_id", ownerID, "batch_size", len(files))
	log.Info("batch started")

	// 客户端断开不会中断正在处理的文件
	workCtx := context.WithoutCancel(ctx)

	results := make([]model.FileOutcome, len(files))
	g := new(errgroup.Group)
	g.SetLimit(p.config.MaxConcurrency)

	for i := range files {
		i := i
		g.Go(func() error {
			results[i] = p.processOne(workCtx, files[i], ownerID)
			return nil
		})
	}
	_ = g.Wait()

	batch := &model.BatchResult{Results: results}
	succeeded, failed := batch.Counts()
	elapsed := time.Since(start)
	metrics.ObserveBatch(succeeded, failed, elapsed)
	log.Info("batch finished", "succeeded", succeeded, "failed", failed, "duration", elapsed)

	return batch, nil
}

func (p *Processor) processOne(ctx context.Context, file model.UploadedFile, ownerID string) (outcome model.FileOutcome) {
	log := p.log.With("owner_id", ownerID, "filename", file.Filename)

	defer func() {
		if r := recover(); r != nil {
			err := panicError(r)
			log.Error("panic while processing file", "panic", r, "stack", err.StackTrace)
			outcome = failure(file.Filename, err)
		}
	}()

	handle, err := p.stage(file)
	if err != nil {
		log.Error("failed to stage upload", "error", err)
		return failure(file.Filename, err)
	}
	defer func() {
		if err := p.deps.Staging.Release(handle); err != nil {
			log.Warn("failed to release staged file", "path", handle.Path(), "error", err)
		}
	}()

	result, err := p.recognize(ctx, handle, file)
	if err != nil {
		log.Error("ocr failed", "error", err)
		return failure(file.Filename, err)
	}
	text := strings.TrimSpace(result.Text)

	set, err := p.deps.Encoder.Encode(text)
	if err != nil {
		log.Error("artifact encoding failed", "error", err)
		return failure(file.Filename, err)
	}

	fileID := p.deps.NewID()
	if err := p.deps.Artifacts.Save(ctx, fileID, set); err != nil {
		log.Error("failed to store artifacts", "file_id", fileID, "error", err)
		return failure(file.Filename, err)
	}

	record := &database.DocumentRecord{
		FileID:           fileID,
		OwnerID:          ownerID,
		OriginalFilename: file.Filename,
		ContentType:      file.ContentType,
		SizeBytes:        handle.Size(),
		ExtractedText:    text,
		Metadata:         recordMetadata(result),
	}
	if err := p.deps.Records.CreateDocument(ctx, record); err != nil {
		log.Error("failed to create document record", "file_id", fileID, "error", err)
		if delErr := p.deps.Artifacts.Delete(ctx, fileID); delErr != nil {
			log.Error("failed to remove orphan artifacts", "file_id", fileID, "error", delErr)
		}
		return failure(file.Filename, err)
	}

	if p.deps.History != nil {
		if err := p.deps.History.Invalidate(ctx, ownerID); err != nil {
			log.Warn("failed to invalidate history cache", "error", err)
		}
	}

	preview := model.Preview(text, p.config.PreviewLength)
	log.Info("file processed", "file_id", fileID, "document_id", record.ID, "strategy", result.Strategy)

	return model.FileOutcome{
		DocumentID:       record.ID,
		FileID:           fileID,
		OriginalFilename: file.Filename,
		Preview:          &preview,
		Downloads:        model.NewDownloads(p.config.DownloadPrefix, fileID),
	}
}

func (p *Processor) stage(file model.UploadedFile) (*staging.Handle, error) {
	if file.Open == nil {
		return nil, model.NewFileError(model.ErrCodeFileNotFound, file.Filename, "open", "uploaded file has no content", nil)
	}
	src, err := file.Open()
	if err != nil {
		return nil, model.NewFileError(model.ErrCodeFileNotFound, file.Filename, "open", "failed to read upload", err)
	}
	defer src.Close()
	return p.deps.Staging.Stage(src, file.Filename)
}

func (p *Processor) recognize(ctx context.Context, handle *staging.Handle, file model.UploadedFile) (*model.OcrResult, error) {
	f, err := p.deps.Staging.Open(handle)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := p.deps.Limiter.Acquire(ctx); err != nil {
		return nil, model.NewOCRError(file.Filename, 0, "", err).WithReason("ocr capacity unavailable")
	}
	defer p.deps.Limiter.Release()

	return p.deps.OCR.ExtractText(ctx, f, file.Filename, file.ContentType)
}

// panicError 把单个文件处理中的panic转换为带堆栈的系统错误
func panicError(r any) *model.SystemError {
	err := model.NewSystemError(model.ErrCodeInternal, "pipeline", "process", "Processing failed", fmt.Errorf("panic: %v", r))
	err.WithStackTrace()
	return err
}

func recordMetadata(result *model.OcrResult) datatypes.JSON {
	meta := map[string]any{
		"strategy":   result.Strategy,
		"line_count": len(result.Lines),
	}
	if result.Confidence != nil {
		meta["confidence"] = *result.Confidence
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

func failure(filename string, err error) model.FileOutcome {
	return model.FileOutcome{
		OriginalFilename: filename,
		Error:            model.PublicMessage(err),
	}
}
