package pipeline

import "time"

// Config 批处理配置
type Config struct {
	// MaxConcurrency 单个批次内同时处理的文件数
	MaxConcurrency   int `yaml:"max_concurrency" env:"PIPELINE_MAX_CONCURRENCY" default:"4" validate:"min=1"`
	MaxFilesPerBatch int `yaml:"max_files_per_batch" env:"PIPELINE_MAX_FILES_PER_BATCH" default:"50" validate:"min=1"`
	// GlobalMaxInFlight 所有批次共享的OCR调用上限
	GlobalMaxInFlight int           `yaml:"global_max_in_flight" env:"PIPELINE_GLOBAL_MAX_IN_FLIGHT" default:"8" validate:"min=1"`
	RequestInterval   time.Duration `yaml:"request_interval" env:"PIPELINE_REQUEST_INTERVAL" default:"0s"`
	PreviewLength     int           `yaml:"preview_length" env:"PIPELINE_PREVIEW_LENGTH" default:"200" validate:"min=1"`
	DownloadPrefix    string        `yaml:"download_prefix" env:"PIPELINE_DOWNLOAD_PREFIX" default:"/api/v1/ocr/download" validate:"required"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:    4,
		MaxFilesPerBatch:  50,
		GlobalMaxInFlight: 8,
		PreviewLength:     200,
		DownloadPrefix:    "/api/v1/ocr/download",
	}
}
