package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/freedkr/ocrflow/internal/auth"
	"github.com/freedkr/ocrflow/internal/database"
	"github.com/freedkr/ocrflow/internal/encoder"
	"github.com/freedkr/ocrflow/internal/history"
	"github.com/freedkr/ocrflow/internal/model"
	"github.com/freedkr/ocrflow/internal/ocrclient"
	"github.com/freedkr/ocrflow/internal/pipeline"
	"github.com/freedkr/ocrflow/internal/staging"
	"github.com/freedkr/ocrflow/internal/storage"
	"github.com/freedkr/ocrflow/services/api-server/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeOCR 模拟推理服务：文件名包含 fail 时返回500，包含 slow 时超时
func fakeOCR(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"detail":"missing file part"}`)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(header.Filename, "fail"):
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"detail":"model crashed"}`)
		case strings.Contains(header.Filename, "slow"):
			time.Sleep(500 * time.Millisecond)
			fmt.Fprint(w, `{"text":"too late"}`)
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"num_files":    1,
				"concatenated": map[string]any{"text": "  recognized " + string(content) + "  "},
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	router   *gin.Engine
	verifier *auth.JWTVerifier
	staging  *staging.Store
	db       *database.PostgreSQLDB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	db := database.NewFromGorm(gdb, nil)
	require.NoError(t, db.CreateTables(context.Background()))
	t.Cleanup(func() { db.Close() })

	stagingStore, err := staging.NewStore(staging.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	artifacts, err := storage.NewLocalStorage(&storage.LocalConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	ocr := ocrclient.NewClient(ocrclient.Config{
		URL:       fakeOCR(t).URL,
		Timeout:   200 * time.Millisecond,
		FileField: "file",
	})

	limiter := pipeline.NewLimiter(4, 0)
	processor, err := pipeline.NewProcessor(pipeline.DefaultConfig(), pipeline.Dependencies{
		Staging:   stagingStore,
		OCR:       ocr,
		Encoder:   encoder.New(encoder.DefaultPDFLayout()),
		Artifacts: artifacts,
		Records:   db,
		Limiter:   limiter,
	})
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier(auth.Config{JWTSecret: "handler-secret"})
	require.NoError(t, err)

	h := NewHandlers(Dependencies{
		Processor: processor,
		Documents: history.NewService(history.Config{}, db, artifacts, nil),
		Database:  db,
		OCR:       ocr,
		Limiter:   limiter,
		Staging:   stagingStore,
	})

	router := gin.New()
	api := router.Group("/api/v1")
	api.GET("/health", h.Health)
	api.GET("/ready", h.Ready)
	secured := api.Group("", middleware.Auth(verifier))
	secured.POST("/ocr/upload", h.UploadFile)
	secured.GET("/ocr/download/:fileId/:type", h.Download)
	secured.GET("/ocr/history", h.History)
	secured.GET("/monitor/stats", h.GetStats)

	return &testServer{router: router, verifier: verifier, staging: stagingStore, db: db}
}

func (s *testServer) token(t *testing.T, owner string) string {
	t.Helper()
	token, err := s.verifier.Sign(owner, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) upload(t *testing.T, owner string, files map[string]string, order []string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, name := range order {
		part, err := mw.CreateFormFile(UploadField, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ocr/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", s.token(t, owner))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(t *testing.T, owner, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if owner != "" {
		req.Header.Set("Authorization", s.token(t, owner))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeUpload(t *testing.T, w *httptest.ResponseRecorder) UploadResponse {
	t.Helper()
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestUpload_BatchWithFailure(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, "alice", map[string]string{
		"one.png":  "first",
		"fail.png": "second",
		"two.png":  "third",
	}, []string{"one.png", "fail.png", "two.png"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeUpload(t, w)
	assert.Equal(t, "OCR processing complete", resp.Message)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, "one.png", resp.Results[0].OriginalFilename)
	assert.Equal(t, "recognized first", *resp.Results[0].Preview, "文本应去除首尾空白")
	assert.NotEmpty(t, resp.Results[0].DocumentID)
	assert.Equal(t, "/api/v1/ocr/download/"+resp.Results[0].FileID+"/docx", resp.Results[0].Downloads.DOCX)

	assert.Equal(t, "fail.png", resp.Results[1].OriginalFilename)
	assert.Equal(t, "model crashed", resp.Results[1].Error)
	assert.Nil(t, resp.Results[1].Downloads)

	assert.Equal(t, "two.png", resp.Results[2].OriginalFilename)
	assert.True(t, resp.Results[2].Succeeded())

	pending, err := s.staging.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	docs, err := s.db.ListRecentDocuments(context.Background(), "alice", 20)
	require.NoError(t, err)
	assert.Len(t, docs, 2, "失败的文件不应产生记录")
}

func TestUpload_ErrorEntryJSONShape(t *testing.T) {
	s := newTestServer(t)
	w := s.upload(t, "alice", map[string]string{"fail.png": "x"}, []string{"fail.png"})
	require.Equal(t, http.StatusOK, w.Code)

	var raw struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.Results, 1)
	assert.Equal(t, map[string]any{"originalFilename": "fail.png", "error": "model crashed"}, raw.Results[0])
}

func TestUpload_TimeoutIsPerFile(t *testing.T) {
	s := newTestServer(t)
	w := s.upload(t, "alice", map[string]string{"slow.png": "x"}, []string{"slow.png"})

	require.Equal(t, http.StatusOK, w.Code, "单个文件超时仍返回200")
	resp := decodeUpload(t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "ocr request timed out after 200ms", resp.Results[0].Error)
	assert.NotContains(t, resp.Results[0].Error, "http://", "响应中不能出现内部服务地址")

	docs, err := s.db.ListRecentDocuments(context.Background(), "alice", 20)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUpload_UnrenderableTextIsErrorEntry(t *testing.T) {
	s := newTestServer(t)
	w := s.upload(t, "alice", map[string]string{
		"cn.png": "发票 编号",
		"ru.png": "Привет",
	}, []string{"cn.png", "ru.png"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeUpload(t, w)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "text contains characters that cannot be rendered in PDF", resp.Results[0].Error)
	assert.True(t, resp.Results[1].Succeeded(), resp.Results[1].Error)

	docs, err := s.db.ListRecentDocuments(context.Background(), "alice", 20)
	require.NoError(t, err)
	require.Len(t, docs, 1, "无法完整编码的文本不能产生记录")
	assert.Equal(t, "ru.png", docs[0].OriginalFilename)
}

func TestUpload_BodyTooLarge(t *testing.T) {
	h := NewHandlers(Dependencies{})
	router := gin.New()
	router.POST("/upload", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 512)
		c.Next()
	}, h.UploadFile)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(UploadField, "big.png")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 4096))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"error":"Upload exceeds the 512 byte limit"}`, w.Body.String())
}

func TestUpload_NoFiles(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, "alice", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No files uploaded"}`, w.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ocr/upload", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.token(t, "alice"))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_RequiresAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ocr/upload", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDownload_Flow(t *testing.T) {
	s := newTestServer(t)
	resp := decodeUpload(t, s.upload(t, "alice", map[string]string{"invoice.2024.png": "hello"}, []string{"invoice.2024.png"}))
	fileID := resp.Results[0].FileID
	require.NotEmpty(t, fileID)

	w := s.get(t, "alice", "/api/v1/ocr/download/"+fileID+"/text")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "recognized hello", w.Body.String())
	assert.Equal(t, `attachment; filename="invoice.2024.txt"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	w = s.get(t, "alice", "/api/v1/ocr/download/"+fileID+"/pdf")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
	assert.Equal(t, `attachment; filename="invoice.2024.pdf"`, w.Header().Get("Content-Disposition"))

	w = s.get(t, "alice", "/api/v1/ocr/download/"+fileID+"/docx")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	assert.Equal(t, http.StatusBadRequest, s.get(t, "alice", "/api/v1/ocr/download/"+fileID+"/xlsx").Code)
	assert.Equal(t, http.StatusNotFound, s.get(t, "alice", "/api/v1/ocr/download/does-not-exist/pdf").Code)

	w = s.get(t, "mallory", "/api/v1/ocr/download/"+fileID+"/pdf")
	assert.Equal(t, http.StatusForbidden, w.Code, "其他用户即使知道fileId也不能下载")
	assert.JSONEq(t, `{"error":"Unauthorized access"}`, w.Body.String())
}

func TestHistory_Endpoint(t *testing.T) {
	s := newTestServer(t)
	decodeUpload(t, s.upload(t, "alice", map[string]string{"a.png": "one"}, []string{"a.png"}))
	decodeUpload(t, s.upload(t, "bob", map[string]string{"b.png": "two"}, []string{"b.png"}))

	w := s.get(t, "alice", "/api/v1/ocr/history")
	require.Equal(t, http.StatusOK, w.Code)

	var entries []model.HistoryEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "a.png", entries[0].Filename)
	assert.Equal(t, "recognized one", entries[0].Preview)
	_, err := time.Parse("2006-01-02T15:04:05.000Z", entries[0].UploadedAt)
	assert.NoError(t, err)

	w = s.get(t, "carol", "/api/v1/ocr/history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "", "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = s.get(t, "", "/api/v1/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, s.db.Close())
	w = s.get(t, "", "/api/v1/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetStats(t *testing.T) {
	s := newTestServer(t)
	w := s.get(t, "alice", "/api/v1/monitor/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Limiter pipeline.LimiterStatus `json:"ocr_limiter"`
		Staging struct {
			Pending int `json:"pending"`
		} `json:"staging"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Limiter.Capacity)
	assert.Equal(t, 0, body.Staging.Pending)
}

// stubDocuments 用于验证错误到状态码的映射
type stubDocuments struct {
	err error
}

func (s stubDocuments) History(context.Context, string) ([]model.HistoryEntry, error) {
	return nil, s.err
}

func (s stubDocuments) Download(context.Context, string, string, string) (*model.ArtifactDownload, error) {
	return nil, s.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		body   string
	}{
		{model.NewInputError("type", "Invalid file type"), http.StatusBadRequest, `{"error":"Invalid file type"}`},
		{model.NewNotFoundError("artifact", "x", "File not found"), http.StatusNotFound, `{"error":"File not found"}`},
		{model.NewAuthorizationError("u", "x", "Unauthorized access"), http.StatusForbidden, `{"error":"Unauthorized access"}`},
		{errors.New("disk on fire"), http.StatusInternalServerError, `{"error":"Internal server error"}`},
	}
	for _, tt := range tests {
		h := NewHandlers(Dependencies{Documents: stubDocuments{err: tt.err}})
		router := gin.New()
		router.GET("/d", h.Download)
		router.GET("/h", h.History)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/d", nil))
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
		assert.JSONEq(t, tt.body, w.Body.String())
	}

	h := NewHandlers(Dependencies{Documents: stubDocuments{err: errors.New("db down")}})
	router := gin.New()
	router.GET("/h", h.History)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/h", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to load history"}`, w.Body.String())
}
