package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/freedkr/ocrflow/internal/metrics"
	"github.com/freedkr/ocrflow/internal/model"
	applog "github.com/freedkr/ocrflow/pkg/logger"
)

// dependencyName 指标中的服务名
const dependencyName = "postgres"

// PostgreSQLConfig PostgreSQL配置
type PostgreSQLConfig struct {
	Host            string        `yaml:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" env:"POSTGRES_PORT" default:"5432"`
	Database        string        `yaml:"database" env:"POSTGRES_DB" default:"ocrflow"`
	Username        string        `yaml:"username" env:"POSTGRES_USER" default:"postgres"`
	Password        string        `yaml:"password" env:"POSTGRES_PASSWORD" default:""`
	SSLMode         string        `yaml:"ssl_mode" env:"POSTGRES_SSLMODE" default:"disable"`
	Schema          string        `yaml:"schema" env:"POSTGRES_SCHEMA" default:"ocrflow"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"POSTGRES_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"POSTGRES_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"POSTGRES_CONN_MAX_IDLE_TIME" default:"5m"`
	LogSQL          bool          `yaml:"log_sql" env:"POSTGRES_LOG_SQL" default:"false"`
}

// DocumentGateway 文档记录访问接口，所有查询都按所有者隔离
type DocumentGateway interface {
	CreateDocument(ctx context.Context, doc *DocumentRecord) error
	FindDocumentByFileID(ctx context.Context, fileID, ownerID string) (*DocumentRecord, error)
	ListRecentDocuments(ctx context.Context, ownerID string, limit int) ([]*DocumentRecord, error)
}

// DatabaseInterface 数据库接口
type DatabaseInterface interface {
	DocumentGateway
	CreateTables(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// PostgreSQLDB PostgreSQL数据库
type PostgreSQLDB struct {
	db  *gorm.DB
	log *applog.Logger
}

// NewPostgreSQLDB 创建PostgreSQL数据库连接
func NewPostgreSQLDB(config *PostgreSQLConfig) (*PostgreSQLDB, error) {
	log := applog.NewLogger("database")

	// 如果schema为空，使用默认值
	if config.Schema == "" {
		config.Schema = "ocrflow"
		log.Warn("schema was empty, using default", "schema", config.Schema)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode, config.Schema)

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if config.LogSQL {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", config.Schema)).Error; err != nil {
		return nil, fmt.Errorf("创建schema失败: %w", err)
	}
	// 确保设置正确的schema search_path
	if err := db.Exec(fmt.Sprintf("SET search_path TO %q", config.Schema)).Error; err != nil {
		return nil, fmt.Errorf("设置schema失败: %w", err)
	}

	// 设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库ping失败: %w", err)
	}

	return NewFromGorm(db, log), nil
}

// NewFromGorm 用已打开的gorm连接构造
func NewFromGorm(db *gorm.DB, log *applog.Logger) *PostgreSQLDB {
	if log == nil {
		log = applog.NewLogger("database")
	}
	return &PostgreSQLDB{db: db, log: log}
}

// CreateTables 创建表结构
func (p *PostgreSQLDB) CreateTables(ctx context.Context) error {
	// 使用 GORM 的 AutoMigrate 功能
	if err := p.db.WithContext(ctx).AutoMigrate(&DocumentRecord{}); err != nil {
		return fmt.Errorf("自动迁移失败: %w", err)
	}
	return nil
}

// CreateDocument 创建文档记录
func (p *PostgreSQLDB) CreateDocument(ctx context.Context, doc *DocumentRecord) error {
	if doc.OwnerID == "" || doc.FileID == "" {
		return model.NewInputError("document", "owner and file identifier are required")
	}
	start := time.Now()
	err := p.db.WithContext(ctx).Create(doc).Error
	metrics.ObserveDependency(dependencyName, time.Since(start), err)
	if err != nil {
		p.log.Error("[SQL ERROR] CreateDocument failed", "file_id", doc.FileID, "error", err)
		return fmt.Errorf("创建文档记录失败: %w", err)
	}
	return nil
}

// FindDocumentByFileID 按文件标识查询，只返回属于 ownerID 的记录
func (p *PostgreSQLDB) FindDocumentByFileID(ctx context.Context, fileID, ownerID string) (*DocumentRecord, error) {
	var doc DocumentRecord
	start := time.Now()
	err := p.db.WithContext(ctx).
		Where("file_id = ? AND owner_id = ?", fileID, ownerID).
		First(&doc).Error
	notFound := errors.Is(err, gorm.ErrRecordNotFound)
	observed := err
	if notFound {
		observed = nil
	}
	metrics.ObserveDependency(dependencyName, time.Since(start), observed)
	if err != nil {
		if notFound {
			return nil, model.NewNotFoundError("document", fileID, "document not found")
		}
		return nil, fmt.Errorf("查询文档记录失败: %w", err)
	}
	return &doc, nil
}

// ListRecentDocuments 按创建时间倒序列出最近的记录
func (p *PostgreSQLDB) ListRecentDocuments(ctx context.Context, ownerID string, limit int) ([]*DocumentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var docs []*DocumentRecord
	start := time.Now()
	err := p.db.WithContext(ctx).
		Select("id", "file_id", "owner_id", "original_filename", "extracted_text", "created_at").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&docs).Error
	metrics.ObserveDependency(dependencyName, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("列出文档记录失败: %w", err)
	}
	return docs, nil
}

// Close 关闭数据库连接
func (p *PostgreSQLDB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 检查数据库连接
func (p *PostgreSQLDB) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
