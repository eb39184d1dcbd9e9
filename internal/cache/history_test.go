package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/ocrflow/internal/model"
)

func newTestCache(t *testing.T) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewHistoryCache(RedisConfig{Addr: mr.Addr(), TTL: time.Minute, KeyPrefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func mustSet(t *testing.T, c *HistoryCache, ownerID string, entries []model.HistoryEntry) {
	t.Helper()
	ctx := context.Background()
	version, err := c.Version(ctx, ownerID)
	require.NoError(t, err)
	stored, err := c.SetHistory(ctx, ownerID, version, entries)
	require.NoError(t, err)
	require.True(t, stored)
}

func TestHistoryCache_MissThenHit(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	entries, ok, err := c.GetHistory(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, entries)

	want := []model.HistoryEntry{
		{ID: "d-2", FileID: "f-2", Filename: "b.png", UploadedAt: "2024-01-01T00:01:00.000Z", Preview: "bb"},
		{ID: "d-1", FileID: "f-1", Filename: "a.png", UploadedAt: "2024-01-01T00:00:00.000Z", Preview: "aa"},
	}
	mustSet(t, c, "user-1", want)
	assert.True(t, mr.Exists("test:history:user-1"))

	got, ok, err := c.GetHistory(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got, "缓存应保持顺序")

	_, ok, err = c.GetHistory(ctx, "user-2")
	require.NoError(t, err)
	assert.False(t, ok, "不同用户的缓存互相隔离")
}

func TestHistoryCache_EmptyListIsCached(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	mustSet(t, c, "user-1", nil)
	got, ok, err := c.GetHistory(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestHistoryCache_TTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	mustSet(t, c, "user-1", []model.HistoryEntry{{ID: "d-1"}})
	assert.Equal(t, time.Minute, mr.TTL("test:history:user-1"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.GetHistory(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "过期后应该未命中")
}

func TestHistoryCache_Invalidate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	mustSet(t, c, "user-1", []model.HistoryEntry{{ID: "d-1"}})
	require.NoError(t, c.Invalidate(ctx, "user-1"))
	assert.False(t, mr.Exists("test:history:user-1"))

	assert.NoError(t, c.Invalidate(ctx, "never-cached"))

	version, err := c.Version(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, version, "失效会递增版本")
	assert.Equal(t, versionTTL, mr.TTL("test:history:user-1:version"))
}

func TestHistoryCache_SetSkippedAfterInvalidate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	// 查库前读到的版本
	version, err := c.Version(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, version)

	// 查库期间有新文档入库并失效
	require.NoError(t, c.Invalidate(ctx, "user-1"))

	stored, err := c.SetHistory(ctx, "user-1", version, []model.HistoryEntry{})
	require.NoError(t, err)
	assert.False(t, stored, "旧版本的结果不能写回缓存")
	assert.False(t, mr.Exists("test:history:user-1"))

	current, err := c.Version(ctx, "user-1")
	require.NoError(t, err)
	stored, err = c.SetHistory(ctx, "user-1", current, []model.HistoryEntry{{ID: "d-1"}})
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists("test:history:user-1"))
}

func TestHistoryCache_CorruptEntry(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("test:history:user-1", "{not json"))

	_, ok, err := c.GetHistory(context.Background(), "user-1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewHistoryCache_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewHistoryCache(RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestHistoryCache_DefaultKeyAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewHistoryCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0, "")
	defer c.Close()

	mustSet(t, c, "u", nil)
	assert.True(t, mr.Exists("history:u"))
	assert.Equal(t, 5*time.Minute, mr.TTL("history:u"))
	assert.NoError(t, c.Ping(context.Background()))
}
