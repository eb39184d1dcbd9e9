package main

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/ocrflow/internal/ocrclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStub_Health(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(Config{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStub_MultipleFiles(t *testing.T) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, name := range []string{"a.png", "b.png"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		part.Write([]byte("data"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ocr", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	newRouter(Config{}).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"num_files": 2,
		"results": [
			{"file_index": 0, "filename": "a.png", "text": "This is a stock response for a.png", "lines": ["This is a stock response for a.png"]},
			{"file_index": 1, "filename": "b.png", "text": "This is a stock response for b.png", "lines": ["This is a stock response for b.png"]}
		],
		"concatenated": {
			"text": "This is a stock response for a.png\nThis is a stock response for b.png",
			"lines": ["This is a stock response for a.png", "This is a stock response for b.png"]
		}
	}`, w.Body.String())
}

func TestStub_NoFiles(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/ocr", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newRouter(Config{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestStub_WorksWithClient(t *testing.T) {
	srv := httptest.NewServer(newRouter(Config{}))
	defer srv.Close()

	client := ocrclient.NewClient(ocrclient.Config{
		URL:       srv.URL + "/ocr",
		HealthURL: srv.URL + "/health",
		Timeout:   5 * time.Second,
		FileField: "file",
	})
	require.NoError(t, client.Ping(context.Background()))

	result, err := client.ExtractText(context.Background(), strings.NewReader("img"), "scan.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "This is a stock response for scan.png", result.Text)
	assert.Equal(t, "concatenated", result.Strategy)
}
