package model

import (
	"bytes"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// NoTextExtracted OCR服务未返回任何文本时使用的占位内容
const NoTextExtracted = "No text extracted"

// 预览长度
const (
	UploadPreviewLength  = 200
	HistoryPreviewLength = 150
)

// UploadedFile 一次上传中的单个文件
type UploadedFile struct {
	Filename    string
	ContentType string
	Size        int64
	// Open 打开文件内容，每次调用返回新的读取器
	Open func() (io.ReadCloser, error)
}

// NewUploadedFile 用内存数据构造上传文件
func NewUploadedFile(filename, contentType string, data []byte) UploadedFile {
	return UploadedFile{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// OcrResult OCR识别结果
type OcrResult struct {
	Text       string   `json:"text"`
	Strategy   string   `json:"strategy"`
	Confidence *float64 `json:"confidence,omitempty"`
	Lines      []string `json:"lines,omitempty"`
}

// ArtifactFormat 产物格式
type ArtifactFormat string

const (
	FormatText ArtifactFormat = "text"
	FormatPDF  ArtifactFormat = "pdf"
	FormatDOCX ArtifactFormat = "docx"
)

// AllFormats 三种产物格式，顺序固定
var AllFormats = []ArtifactFormat{FormatText, FormatPDF, FormatDOCX}

// ParseArtifactFormat 解析下载类型
func ParseArtifactFormat(s string) (ArtifactFormat, bool) {
	switch ArtifactFormat(s) {
	case FormatText, FormatPDF, FormatDOCX:
		return ArtifactFormat(s), true
	}
	return "", false
}

// Extension 产物文件扩展名
func (f ArtifactFormat) Extension() string {
	if f == FormatText {
		return "txt"
	}
	return string(f)
}

// ContentType 产物的MIME类型
func (f ArtifactFormat) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain; charset=utf-8"
	}
}

// ArtifactKey 产物存储键 {fileId}.{ext}
func ArtifactKey(fileID string, f ArtifactFormat) string {
	return fileID + "." + f.Extension()
}

// ArtifactSet 同一份文本的三种编码结果
type ArtifactSet struct {
	Text []byte
	PDF  []byte
	DOCX []byte
}

// Get 按格式取出编码结果
func (s *ArtifactSet) Get(f ArtifactFormat) []byte {
	switch f {
	case FormatText:
		return s.Text
	case FormatPDF:
		return s.PDF
	case FormatDOCX:
		return s.DOCX
	}
	return nil
}

// Downloads 三种产物的下载地址
type Downloads struct {
	Text string `json:"text"`
	PDF  string `json:"pdf"`
	DOCX string `json:"docx"`
}

// NewDownloads 根据前缀生成下载地址
func NewDownloads(prefix, fileID string) *Downloads {
	prefix = strings.TrimRight(prefix, "/")
	return &Downloads{
		Text: prefix + "/" + fileID + "/" + string(FormatText),
		PDF:  prefix + "/" + fileID + "/" + string(FormatPDF),
		DOCX: prefix + "/" + fileID + "/" + string(FormatDOCX),
	}
}

// FileOutcome 单个文件的处理结果，成功时 Error 为空
type FileOutcome struct {
	DocumentID       string     `json:"documentId,omitempty"`
	FileID           string     `json:"fileId,omitempty"`
	OriginalFilename string     `json:"originalFilename"`
	Preview          *string    `json:"preview,omitempty"`
	Downloads        *Downloads `json:"downloads,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Succeeded 是否处理成功
func (o FileOutcome) Succeeded() bool {
	return o.Error == ""
}

// BatchResult 一次批量上传的结果，顺序与输入一致
type BatchResult struct {
	Results []FileOutcome `json:"results"`
}

// Counts 返回成功与失败数量
func (b *BatchResult) Counts() (succeeded, failed int) {
	for _, r := range b.Results {
		if r.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// HistoryEntry 历史记录条目
type HistoryEntry struct {
	ID         string `json:"id"`
	FileID     string `json:"fileId"`
	Filename   string `json:"filename"`
	UploadedAt string `json:"uploadedAt"`
	Preview    string `json:"preview"`
}

// ArtifactDownload 下载结果，调用方负责关闭 Reader
type ArtifactDownload struct {
	Reader      io.ReadCloser
	Size        int64
	ContentType string
	Filename    string
}

// Preview 截取前 limit 个字符，超出时追加省略号
func Preview(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}

// ISOTime 按 2006-01-02T15:04:05.000Z 格式输出UTC时间
func ISOTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
