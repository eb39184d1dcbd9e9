// Package config 加载服务配置：默认值 → YAML文件 → 环境变量 → 校验
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/freedkr/ocrflow/internal/auth"
	"github.com/freedkr/ocrflow/internal/cache"
	"github.com/freedkr/ocrflow/internal/database"
	"github.com/freedkr/ocrflow/internal/encoder"
	"github.com/freedkr/ocrflow/internal/history"
	"github.com/freedkr/ocrflow/internal/ocrclient"
	"github.com/freedkr/ocrflow/internal/pipeline"
	"github.com/freedkr/ocrflow/internal/staging"
	"github.com/freedkr/ocrflow/internal/storage"
)

// Config 服务配置
type Config struct {
	App       AppConfig                 `yaml:"app"`
	APIServer APIServerConfig           `yaml:"api_server"`
	Database  database.PostgreSQLConfig `yaml:"database"`
	Storage   storage.Config            `yaml:"storage"`
	Staging   staging.Config            `yaml:"staging"`
	Cache     cache.RedisConfig         `yaml:"cache"`
	OCR       ocrclient.Config          `yaml:"ocr"`
	Pipeline  pipeline.Config           `yaml:"pipeline"`
	PDF       encoder.PDFLayout         `yaml:"pdf"`
	History   history.Config            `yaml:"history"`
	Auth      auth.Config               `yaml:"auth"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" env:"APP_NAME" default:"ocrflow"`
	Environment string `yaml:"environment" env:"APP_ENV" default:"development" validate:"oneof=development staging production test"`
	Debug       bool   `yaml:"debug" env:"APP_DEBUG" default:"false"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

// APIServerConfig API服务器配置
type APIServerConfig struct {
	Host            string        `yaml:"host" env:"API_HOST" default:"0.0.0.0"`
	Port            int           `yaml:"port" env:"API_PORT" default:"8080" validate:"min=1,max=65535"`
	Mode            string        `yaml:"mode" env:"GIN_MODE" default:"release" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"API_READ_TIMEOUT" default:"60s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"API_WRITE_TIMEOUT" default:"10m"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"API_SHUTDOWN_TIMEOUT" default:"30s"`
	// MaxUploadSize 单次上传请求体的上限（字节）
	MaxUploadSize int64    `yaml:"max_upload_size" env:"API_MAX_UPLOAD_SIZE" default:"104857600" validate:"min=1"`
	CORSOrigins   []string `yaml:"cors_origins" env:"API_CORS_ORIGINS" envSeparator:"," default:"[\"*\"]"`
}

// RateLimitConfig 按用户的请求限流
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS" default:"5" validate:"gt=0"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST" default:"10" validate:"min=1"`
}

// LoadConfig 加载配置。path 为空或文件不存在时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("设置默认配置失败: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// 没有配置文件时完全依赖环境变量
		default:
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Storage.Backend == storage.BackendMinIO && c.Storage.MinIO.BucketName == "" {
		return fmt.Errorf("配置校验失败: minio backend requires a bucket name")
	}
	return nil
}

// Address 监听地址
func (c *APIServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
