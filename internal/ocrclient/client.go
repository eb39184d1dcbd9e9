// Package ocrclient OCR推理服务客户端
package ocrclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/freedkr/ocrflow/internal/metrics"
	"github.com/freedkr/ocrflow/internal/model"
)

// 返回给用户的失败概要，传输层错误只进日志
const (
	reasonPrepare         = "failed to prepare ocr request"
	reasonUnavailable     = "ocr service unavailable"
	reasonInvalidResponse = "invalid response from ocr service"
)

// Config OCR服务配置
type Config struct {
	URL       string        `yaml:"url" env:"OCR_SERVICE_URL" default:"http://ml-service:6000/ocr" validate:"required,url"`
	HealthURL string        `yaml:"health_url" env:"OCR_HEALTH_URL" default:""`
	Timeout   time.Duration `yaml:"timeout" env:"OCR_TIMEOUT" default:"30s" validate:"gt=0"`
	FileField string        `yaml:"file_field" env:"OCR_FILE_FIELD" default:"file" validate:"required"`
	// MaxErrorBody 读取错误响应体的上限
	MaxErrorBody int64 `yaml:"max_error_body" env:"OCR_MAX_ERROR_BODY" default:"65536"`
}

// Client OCR服务客户端，不做重试
type Client struct {
	config     Config
	httpClient *http.Client
	strategies []Strategy
}

// NewClient 创建OCR客户端
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		strategies: DefaultStrategies,
	}
}

// ExtractText 将文件发送给OCR服务并提取文本
func (c *Client) ExtractText(ctx context.Context, r io.Reader, filename, contentType string) (result *model.OcrResult, err error) {
	startTime := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		} else if result.Strategy == "fallback" {
			outcome = "empty"
		}
		metrics.ObserveOCRCall(outcome, time.Since(startTime))
	}()

	body, formContentType, err := c.buildMultipart(r, filename, contentType)
	if err != nil {
		return nil, model.NewOCRError(filename, 0, "", err).WithReason(reasonPrepare)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, body)
	if err != nil {
		return nil, model.NewOCRError(filename, 0, "", fmt.Errorf("create request failed: %w", err)).WithReason(reasonPrepare)
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := reasonUnavailable
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			reason = fmt.Sprintf("ocr request timed out after %s", c.config.Timeout)
		}
		return nil, model.NewOCRError(filename, 0, "", err).WithReason(reason)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxErrorBody()))
		return nil, model.NewOCRError(filename, resp.StatusCode, upstreamDetail(raw), nil)
	}

	var payload inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, model.NewOCRError(filename, resp.StatusCode, "", fmt.Errorf("decode ocr response failed: %w", err)).
			WithReason(reasonInvalidResponse)
	}

	return extract(&payload, c.strategies), nil
}

// Ping 检查OCR服务健康状态，未配置健康检查地址时直接返回
func (c *Client) Ping(ctx context.Context) error {
	if c.config.HealthURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.HealthURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ocr health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ocr health check returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) buildMultipart(r io.Reader, filename, contentType string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(c.config.FileField), escapeQuotes(filepath.Base(filename))))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part failed: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("copy file into request failed: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer failed: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}

func (c *Client) maxErrorBody() int64 {
	if c.config.MaxErrorBody > 0 {
		return c.config.MaxErrorBody
	}
	return 64 << 10
}

// upstreamDetail 解析错误响应中的 detail 字段，结构化 detail 原样保留JSON
func upstreamDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 || string(body.Detail) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(body.Detail)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
