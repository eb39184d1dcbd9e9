// Package cache 基于Redis的历史记录缓存
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/freedkr/ocrflow/internal/metrics"
	"github.com/freedkr/ocrflow/internal/model"
)

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"REDIS_ENABLED" default:"false"`
	Addr      string        `yaml:"addr" env:"REDIS_ADDR" default:"localhost:6379"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD" default:""`
	DB        int           `yaml:"db" env:"REDIS_DB" default:"0"`
	TTL       time.Duration `yaml:"ttl" env:"REDIS_HISTORY_TTL" default:"5m"`
	KeyPrefix string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" default:"ocrflow"`
}

// versionTTL 版本键的过期时间，远长于列表TTL
const versionTTL = 24 * time.Hour

var errVersionChanged = errors.New("history version changed")

// HistoryCache 按用户缓存历史列表，新文档入库后失效。
// 每个用户有一个版本号，失效时递增；只有版本未变时才回写列表。
type HistoryCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewHistoryCache 连接Redis并创建缓存
func NewHistoryCache(cfg RedisConfig) (*HistoryCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewHistoryCacheWithClient(rdb, cfg.TTL, cfg.KeyPrefix), nil
}

// NewHistoryCacheWithClient 使用已有的Redis客户端
func NewHistoryCacheWithClient(rdb *redis.Client, ttl time.Duration, prefix string) *HistoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HistoryCache{client: rdb, ttl: ttl, prefix: prefix}
}

// GetHistory 读取缓存，未命中时返回 nil, false
func (c *HistoryCache) GetHistory(ctx context.Context, ownerID string) (entries []model.HistoryEntry, hit bool, err error) {
	defer observe(time.Now(), &err)

	raw, err := c.client.Get(ctx, c.key(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get history: %w", err)
	}

	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return entries, true, nil
}

// Version 返回用户历史的当前版本，需要在查库之前读取
func (c *HistoryCache) Version(ctx context.Context, ownerID string) (version int64, err error) {
	defer observe(time.Now(), &err)

	version, err = c.client.Get(ctx, c.versionKey(ownerID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get history version: %w", err)
	}
	return version, nil
}

// SetHistory 在版本仍为 version 时写入缓存。
// 期间发生过失效则不写，返回 false。
func (c *HistoryCache) SetHistory(ctx context.Context, ownerID string, version int64, entries []model.HistoryEntry) (stored bool, err error) {
	defer observe(time.Now(), &err)

	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return false, fmt.Errorf("failed to marshal history: %w", err)
	}

	vkey := c.versionKey(ownerID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errVersionChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(ownerID), data, c.ttl)
			return nil
		})
		return err
	}, vkey)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errVersionChanged), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("failed to save history: %w", err)
	}
}

// Invalidate 递增版本并删除用户的历史缓存
func (c *HistoryCache) Invalidate(ctx context.Context, ownerID string) (err error) {
	defer observe(time.Now(), &err)

	vkey := c.versionKey(ownerID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		pipe.Del(ctx, c.key(ownerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate history: %w", err)
	}
	return nil
}

// Ping 检查Redis连接
func (c *HistoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *HistoryCache) Close() error {
	return c.client.Close()
}

func (c *HistoryCache) key(ownerID string) string {
	if c.prefix == "" {
		return fmt.Sprintf("history:%s", ownerID)
	}
	return fmt.Sprintf("%s:history:%s", c.prefix, ownerID)
}

func (c *HistoryCache) versionKey(ownerID string) string {
	return c.key(ownerID) + ":version"
}

func observe(start time.Time, err *error) {
	metrics.ObserveDependency("redis", time.Since(start), *err)
}
