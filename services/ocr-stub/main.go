package main

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/creasty/defaults"
	"github.com/gin-gonic/gin"

	applog "github.com/freedkr/ocrflow/pkg/logger"
)

// Config 本地OCR替身服务配置
type Config struct {
	Addr      string        `env:"OCR_STUB_ADDR" default:":6000"`
	Delay     time.Duration `env:"OCR_STUB_DELAY" default:"0s"`
	LogLevel  string        `env:"LOG_LEVEL" default:"info"`
	LogFormat string        `env:"LOG_FORMAT" default:"text"`
}

type fileResult struct {
	FileIndex int      `json:"file_index"`
	Filename  string   `json:"filename"`
	Text      string   `json:"text"`
	Lines     []string `json:"lines"`
}

type textBlock struct {
	Text  string   `json:"text"`
	Lines []string `json:"lines"`
}

type ocrResponse struct {
	NumFiles     int          `json:"num_files"`
	Results      []fileResult `json:"results"`
	Concatenated textBlock    `json:"concatenated"`
}

func main() {
	cfg := Config{}
	if err := defaults.Set(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "设置默认配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "解析环境变量失败: %v\n", err)
		os.Exit(1)
	}
	applog.Init(cfg.LogLevel, cfg.LogFormat)
	log := applog.NewLogger("ocr-stub")

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{Addr: cfg.Addr, Handler: newRouter(cfg)}

	go func() {
		log.Info("OCR替身服务启动", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("服务启动失败", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("服务关闭失败", "error", err)
	}
}

func newRouter(cfg Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/ocr", func(c *gin.Context) {
		if cfg.Delay > 0 {
			select {
			case <-time.After(cfg.Delay):
			case <-c.Request.Context().Done():
				return
			}
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "multipart form expected"})
			return
		}
		// 兼容单文件字段 file 和多文件字段 files
		headers := append([]*multipart.FileHeader{}, form.File["files"]...)
		headers = append(headers, form.File["file"]...)
		if len(headers) == 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "No files provided"})
			return
		}

		c.JSON(http.StatusOK, stockResponse(headers))
	})
	return router
}

// stockResponse 为每个文件生成固定文本
func stockResponse(headers []*multipart.FileHeader) ocrResponse {
	resp := ocrResponse{NumFiles: len(headers)}
	lines := make([]string, 0, len(headers))
	for i, h := range headers {
		text := "This is a stock response for " + h.Filename
		resp.Results = append(resp.Results, fileResult{
			FileIndex: i,
			Filename:  h.Filename,
			Text:      text,
			Lines:     []string{text},
		})
		lines = append(lines, text)
	}
	resp.Concatenated = textBlock{Text: strings.Join(lines, "\n"), Lines: lines}
	return resp
}
