package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "json")

	NewLogger("pipeline").With("owner_id", "u-1").Info("batch processed", "files", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pipeline", entry["component"])
	assert.Equal(t, "u-1", entry["owner_id"])
	assert.Equal(t, "batch processed", entry["msg"])
	assert.EqualValues(t, 2, entry["files"])
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "warn", "text")

	log := NewLogger("test")
	log.Debug("hidden")
	log.Info("hidden too")
	assert.Empty(t, buf.String(), "低于warn级别的日志不应输出")

	log.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}
