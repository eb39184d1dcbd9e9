package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/freedkr/ocrflow/internal/auth"
	"github.com/freedkr/ocrflow/internal/cache"
	"github.com/freedkr/ocrflow/internal/config"
	"github.com/freedkr/ocrflow/internal/database"
	"github.com/freedkr/ocrflow/internal/encoder"
	"github.com/freedkr/ocrflow/internal/history"
	"github.com/freedkr/ocrflow/internal/ocrclient"
	"github.com/freedkr/ocrflow/internal/pipeline"
	"github.com/freedkr/ocrflow/internal/staging"
	"github.com/freedkr/ocrflow/internal/storage"
	"github.com/freedkr/ocrflow/services/api-server/handlers"
	"github.com/freedkr/ocrflow/services/api-server/middleware"
	applog "github.com/freedkr/ocrflow/pkg/logger"
)

type Server struct {
	config   *config.Config
	db       database.DatabaseInterface
	cache    *cache.HistoryCache
	router   *gin.Engine
	handlers *handlers.Handlers
	verifier auth.Verifier
	log      *applog.Logger
}

func main() {
	// 解析命令行参数
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载API服务器配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	applog.Init(cfg.App.LogLevel, cfg.App.LogFormat)
	log := applog.NewLogger("main")

	// 创建服务器
	server, err := NewServer(cfg)
	if err != nil {
		log.Error("创建服务器失败", "error", err)
		os.Exit(1)
	}

	// 启动服务器
	if err := server.Start(); err != nil {
		log.Error("启动服务器失败", "error", err)
		os.Exit(1)
	}
}

func NewServer(cfg *config.Config) (*Server, error) {
	log := applog.NewLogger("api-server")

	// 设置Gin模式
	gin.SetMode(cfg.APIServer.Mode)
	if cfg.App.Debug {
		gin.SetMode(gin.DebugMode)
	}

	log.Info("正在初始化数据库连接", "db", cfg.Database.Database, "schema", cfg.Database.Schema)
	db, err := database.NewPostgreSQLDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	// 创建表结构
	ctx := context.Background()
	if err := db.CreateTables(ctx); err != nil {
		return nil, fmt.Errorf("创建数据库表失败: %w", err)
	}

	artifacts, err := newArtifactStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	stagingStore, err := staging.NewStore(cfg.Staging)
	if err != nil {
		return nil, fmt.Errorf("初始化暂存区失败: %w", err)
	}

	// 历史缓存可选，未启用时保持接口为nil
	var historyCache *cache.HistoryCache
	var cacheReader history.Cache
	var invalidator pipeline.HistoryInvalidator
	if cfg.Cache.Enabled {
		historyCache, err = cache.NewHistoryCache(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("初始化缓存失败: %w", err)
		}
		cacheReader = historyCache
		invalidator = historyCache
	}

	ocr := ocrclient.NewClient(cfg.OCR)
	limiter := pipeline.NewLimiter(cfg.Pipeline.GlobalMaxInFlight, cfg.Pipeline.RequestInterval)

	processor, err := pipeline.NewProcessor(cfg.Pipeline, pipeline.Dependencies{
		Staging:   stagingStore,
		OCR:       ocr,
		Encoder:   encoder.New(cfg.PDF),
		Artifacts: artifacts,
		Records:   db,
		Limiter:   limiter,
		History:   invalidator,
		Logger:    applog.NewLogger("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化处理器失败: %w", err)
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("初始化认证失败: %w", err)
	}

	// 创建处理器
	h := handlers.NewHandlers(handlers.Dependencies{
		Processor: processor,
		Documents: history.NewService(cfg.History, db, artifacts, cacheReader),
		Database:  db,
		OCR:       ocr,
		Limiter:   limiter,
		Staging:   stagingStore,
	})

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS(cfg.APIServer.CORSOrigins))
	router.MaxMultipartMemory = 32 << 20

	server := &Server{
		config:   cfg,
		db:       db,
		cache:    historyCache,
		router:   router,
		handlers: h,
		verifier: verifier,
		log:      log,
	}

	// 设置路由
	server.setupRoutes()

	return server, nil
}

func newArtifactStore(ctx context.Context, cfg storage.Config) (storage.ArtifactStore, error) {
	switch cfg.Backend {
	case storage.BackendMinIO:
		minioStorage, err := storage.NewMinIOStorage(&cfg.MinIO)
		if err != nil {
			return nil, err
		}
		// 确保存储桶存在
		if err := minioStorage.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("确保存储桶失败: %w", err)
		}
		return minioStorage, nil
	default:
		return storage.NewLocalStorage(&cfg.Local)
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")

	// 健康检查
	api.GET("/health", s.handlers.Health)
	api.GET("/ready", s.handlers.Ready)

	secured := api.Group("", middleware.Auth(s.verifier))
	if s.config.RateLimit.Enabled {
		limiter := middleware.NewOwnerRateLimiter(rate.Limit(s.config.RateLimit.RequestsPerSecond), s.config.RateLimit.Burst)
		secured.Use(middleware.RateLimiter(limiter))
	}

	// OCR
	ocr := secured.Group("/ocr")
	{
		ocr.POST("/upload", s.bodyLimit(), s.handlers.UploadFile)
		ocr.GET("/download/:fileId/:type", s.handlers.Download)
		ocr.GET("/history", s.handlers.History)
	}

	// 监控和统计
	monitor := secured.Group("/monitor")
	{
		monitor.GET("/stats", s.handlers.GetStats)
	}
}

// bodyLimit 限制上传请求体大小
func (s *Server) bodyLimit() gin.HandlerFunc {
	limit := s.config.APIServer.MaxUploadSize
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func (s *Server) Start() error {
	addr := s.config.APIServer.Address()

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.APIServer.ReadTimeout,
		WriteTimeout: s.config.APIServer.WriteTimeout,
	}

	// 在goroutine中启动服务器
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API服务器启动", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	s.log.Info("正在关闭服务器...")

	// 创建关闭上下文
	ctx, cancel := context.WithTimeout(context.Background(), s.config.APIServer.ShutdownTimeout)
	defer cancel()

	// 关闭HTTP服务器
	if err := server.Shutdown(ctx); err != nil {
		s.log.Error("服务器关闭失败", "error", err)
		return err
	}

	// 关闭数据库连接
	if err := s.db.Close(); err != nil {
		s.log.Error("关闭数据库失败", "error", err)
	}

	// 关闭缓存连接
	if s.cache != nil {
		s.cache.Close()
	}

	s.log.Info("服务器已关闭")
	return nil
}
