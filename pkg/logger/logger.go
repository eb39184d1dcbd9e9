// Package logger 基于 log/slog 的组件日志封装
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger 组件日志器
type Logger struct {
	inner *slog.Logger
}

// Init 初始化全局日志处理器，format 为 json 时输出结构化日志
func Init(level, format string) {
	InitWithWriter(os.Stdout, level, format)
}

// InitWithWriter 使用指定输出初始化全局日志处理器
func InitWithWriter(w io.Writer, level, format string) {
	options := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, options)
	} else {
		handler = slog.NewTextHandler(w, options)
	}
	slog.SetDefault(slog.New(handler))
}

// NewLogger 创建带组件名的日志器
func NewLogger(component string) *Logger {
	return &Logger{
		inner: slog.Default().With("component", component),
	}
}

func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, args...)
}

// With 返回附加了字段的新日志器
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		inner: l.inner.With(args...),
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
