package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/freedkr/ocrflow/internal/metrics"
	"github.com/freedkr/ocrflow/internal/model"
)

func newTestDB(t *testing.T) *PostgreSQLDB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// 内存库只在单个连接内可见
	sqlDB.SetMaxOpenConns(1)

	db := NewFromGorm(gdb, nil)
	require.NoError(t, db.CreateTables(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgreSQLDB_CreateAndFind(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	doc := &DocumentRecord{
		FileID:           "file-1",
		OwnerID:          "user-1",
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
		SizeBytes:        42,
		ExtractedText:    "hello",
		Metadata:         datatypes.JSON(`{"strategy":"text"}`),
	}
	require.NoError(t, db.CreateDocument(ctx, doc))
	assert.NotEmpty(t, doc.ID, "ID应该由钩子生成")
	assert.False(t, doc.CreatedAt.IsZero())

	found, err := db.FindDocumentByFileID(ctx, "file-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)
	assert.Equal(t, "scan.png", found.OriginalFilename)
	assert.Equal(t, "hello", found.ExtractedText)
	assert.JSONEq(t, `{"strategy":"text"}`, string(found.Metadata))
}

func TestPostgreSQLDB_FindIsOwnerScoped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateDocument(ctx, &DocumentRecord{
		FileID: "file-1", OwnerID: "user-1", OriginalFilename: "a.png", ExtractedText: "x",
	}))

	_, err := db.FindDocumentByFileID(ctx, "file-1", "user-2")
	require.Error(t, err)
	var nf *model.NotFoundError
	assert.True(t, errors.As(err, &nf), "其他用户查询应该得到未找到")

	_, err = db.FindDocumentByFileID(ctx, "missing", "user-1")
	assert.True(t, model.IsErrorType(err, model.ErrCodeNotFound))
}

func TestPostgreSQLDB_FileIDIsUnique(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &DocumentRecord{FileID: "dup", OwnerID: "user-1", OriginalFilename: "a.png", ExtractedText: "x"}
	require.NoError(t, db.CreateDocument(ctx, first))

	second := &DocumentRecord{FileID: "dup", OwnerID: "user-2", OriginalFilename: "b.png", ExtractedText: "y"}
	assert.Error(t, db.CreateDocument(ctx, second))
}

func TestPostgreSQLDB_CreateRequiresOwnerAndFileID(t *testing.T) {
	db := newTestDB(t)

	err := db.CreateDocument(context.Background(), &DocumentRecord{FileID: "f", OriginalFilename: "a"})
	assert.True(t, model.IsErrorType(err, model.ErrCodeInvalidInput))

	err = db.CreateDocument(context.Background(), &DocumentRecord{OwnerID: "u", OriginalFilename: "a"})
	assert.True(t, model.IsErrorType(err, model.ErrCodeInvalidInput))
}

func TestPostgreSQLDB_ListRecentDocuments(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 25; i++ {
		require.NoError(t, db.CreateDocument(ctx, &DocumentRecord{
			FileID:           fmt.Sprintf("file-%02d", i),
			OwnerID:          "user-1",
			OriginalFilename: fmt.Sprintf("scan-%02d.png", i),
			ExtractedText:    "text",
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, db.CreateDocument(ctx, &DocumentRecord{
		FileID: "other", OwnerID: "user-2", OriginalFilename: "x.png", ExtractedText: "x",
		CreatedAt: base.Add(time.Hour),
	}))

	docs, err := db.ListRecentDocuments(ctx, "user-1", 20)
	require.NoError(t, err)
	require.Len(t, docs, 20, "不应超过限制")

	assert.Equal(t, "file-24", docs[0].FileID, "最新的记录排在最前")
	for i := 1; i < len(docs); i++ {
		assert.True(t, docs[i-1].CreatedAt.After(docs[i].CreatedAt), "应该严格按创建时间倒序")
	}
	for _, d := range docs {
		assert.Equal(t, "user-1", d.OwnerID)
	}

	none, err := db.ListRecentDocuments(ctx, "nobody", 20)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgreSQLDB_Ping(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestPostgreSQLDB_ObservesQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	calls := func(outcome string) float64 {
		return testutil.ToFloat64(metrics.DependencyCallsTotal.WithLabelValues(dependencyName, outcome))
	}
	okBefore, errBefore := calls("success"), calls("error")

	doc := &DocumentRecord{FileID: "m-1", OwnerID: "user-1", OriginalFilename: "a.png", ExtractedText: "x"}
	require.NoError(t, db.CreateDocument(ctx, doc))
	_, err := db.FindDocumentByFileID(ctx, "missing", "user-1")
	require.Error(t, err)
	_, err = db.ListRecentDocuments(ctx, "user-1", 5)
	require.NoError(t, err)
	require.Error(t, db.CreateDocument(ctx, &DocumentRecord{FileID: "m-1", OwnerID: "user-2", OriginalFilename: "b.png"}))

	assert.Equal(t, okBefore+3, calls("success"), "未找到记录不算依赖故障")
	assert.Equal(t, errBefore+1, calls("error"))
}
