package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/freedkr/ocrflow/internal/model"
	"github.com/freedkr/ocrflow/internal/pipeline"
	"github.com/freedkr/ocrflow/services/api-server/middleware"
	applog "github.com/freedkr/ocrflow/pkg/logger"
)

// UploadField 上传表单中的文件字段名
const UploadField = "files"

// BatchProcessor 批量OCR处理
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, files []model.UploadedFile, ownerID string) (*model.BatchResult, error)
}

// DocumentService 历史与下载
type DocumentService interface {
	History(ctx context.Context, ownerID string) ([]model.HistoryEntry, error)
	Download(ctx context.Context, fileID, fileType, ownerID string) (*model.ArtifactDownload, error)
}

// Pinger 可以做健康检查的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// StagingInspector 暂存区状态
type StagingInspector interface {
	Pending() ([]string, error)
}

// Dependencies 处理器依赖
type Dependencies struct {
	Processor BatchProcessor
	Documents DocumentService
	Database  Pinger
	OCR       Pinger
	Limiter   *pipeline.Limiter
	Staging   StagingInspector
}

// Handlers API处理器
type Handlers struct {
	deps Dependencies
	log  *applog.Logger
}

// NewHandlers 创建处理器
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		deps: deps,
		log:  applog.NewLogger("handlers"),
	}
}

// UploadResponse 上传响应
type UploadResponse struct {
	Message string              `json:"message"`
	Results []model.FileOutcome `json:"results"`
}

// Health 健康检查
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "api-server",
	})
}

// Ready 就绪检查
func (h *Handlers) Ready(c *gin.Context) {
	ctx := c.Request.Context()

	// 检查数据库
	if h.deps.Database != nil {
		if err := h.deps.Database.Ping(ctx); err != nil {
			h.log.Warn("readiness check failed", "dependency", "database", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "database not available",
			})
			return
		}
	}

	// 检查OCR服务
	if h.deps.OCR != nil {
		if err := h.deps.OCR.Ping(ctx); err != nil {
			h.log.Warn("readiness check failed", "dependency", "ocr", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "ocr service not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// UploadFile 批量上传并识别
func (h *Handlers) UploadFile(c *gin.Context) {
	ownerID := c.GetString(middleware.OwnerIDKey)

	var headers []*multipart.FileHeader
	form, err := c.MultipartForm()
	switch {
	case err == nil && form != nil:
		headers = form.File[UploadField]
	case err != nil:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.Warn("upload exceeds body limit", "owner_id", ownerID, "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("Upload exceeds the %d byte limit", tooLarge.Limit),
			})
			return
		}
		if errors.Is(err, multipart.ErrMessageTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			h.log.Warn("failed to parse multipart form", "owner_id", ownerID, "error", err)
		}
	}
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}

	files := make([]model.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, uploadedFile(fh))
	}

	result, err := h.deps.Processor.ProcessBatch(c.Request.Context(), files, ownerID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Message: "OCR processing complete",
		Results: result.Results,
	})
}

// Download 下载产物
func (h *Handlers) Download(c *gin.Context) {
	ownerID := c.GetString(middleware.OwnerIDKey)
	fileID := c.Param("fileId")
	fileType := c.Param("type")

	dl, err := h.deps.Documents.Download(c.Request.Context(), fileID, fileType, ownerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer dl.Reader.Close()

	c.DataFromReader(http.StatusOK, dl.Size, dl.ContentType, dl.Reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", dl.Filename),
	})
}

// History 最近的上传记录
func (h *Handlers) History(c *gin.Context) {
	ownerID := c.GetString(middleware.OwnerIDKey)

	entries, err := h.deps.Documents.History(c.Request.Context(), ownerID)
	if err != nil {
		if status := statusFor(err); status != http.StatusInternalServerError {
			h.respondError(c, err)
			return
		}
		h.log.Error("failed to load history", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}

	c.JSON(http.StatusOK, entries)
}

// GetStats 处理状态统计
func (h *Handlers) GetStats(c *gin.Context) {
	stats := gin.H{"timestamp": time.Now()}

	if h.deps.Limiter != nil {
		stats["ocr_limiter"] = h.deps.Limiter.Status()
	}
	if h.deps.Staging != nil {
		pending, err := h.deps.Staging.Pending()
		if err != nil {
			h.log.Warn("failed to inspect staging area", "error", err)
			stats["staging"] = gin.H{"error": "unavailable"}
		} else {
			stats["staging"] = gin.H{"pending": len(pending)}
		}
	}

	c.JSON(http.StatusOK, stats)
}

func uploadedFile(fh *multipart.FileHeader) model.UploadedFile {
	return model.UploadedFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": model.PublicMessage(err)})
}

func statusFor(err error) int {
	switch {
	case model.IsErrorType(err, model.ErrCodeInvalidInput):
		return http.StatusBadRequest
	case model.IsErrorType(err, model.ErrCodeUnauthorized):
		return http.StatusUnauthorized
	case model.IsErrorType(err, model.ErrCodeForbidden):
		return http.StatusForbidden
	case model.IsErrorType(err, model.ErrCodeNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
