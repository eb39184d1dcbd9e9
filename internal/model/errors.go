// Package model 定义领域类型与错误分类
package model

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// 访问控制
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// 单文件处理错误
	ErrCodeOCRFailed      ErrorCode = "OCR_FAILED"
	ErrCodeFileNotFound   ErrorCode = "FILE_NOT_FOUND"
	ErrCodeFileWriteError ErrorCode = "FILE_WRITE_ERROR"
	ErrCodeEncodingError  ErrorCode = "ENCODING_ERROR"
	ErrCodeStorageError   ErrorCode = "STORAGE_ERROR"
)

// coded 所有携带错误代码的错误
type coded interface {
	error
	GetCode() ErrorCode
	GetMessage() string
}

// BaseError 基础错误结构
type BaseError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	StackTrace string    `json:"stack_trace,omitempty"`
}

// Error 实现error接口
func (e *BaseError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// GetCode 获取错误代码
func (e *BaseError) GetCode() ErrorCode {
	return e.Code
}

// GetMessage 获取错误消息
func (e *BaseError) GetMessage() string {
	return e.Message
}

// WithStackTrace 添加堆栈跟踪
func (e *BaseError) WithStackTrace() *BaseError {
	if e.StackTrace == "" {
		e.StackTrace = getStackTrace()
	}
	return e
}

func newBase(code ErrorCode, message string) BaseError {
	return BaseError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// InputError 客户端输入错误，整个请求被拒绝
type InputError struct {
	BaseError
	Field string `json:"field,omitempty"`
}

// NewInputError 创建输入错误
func NewInputError(field, message string) *InputError {
	return &InputError{
		BaseError: newBase(ErrCodeInvalidInput, message),
		Field:     field,
	}
}

// NotFoundError 资源不存在
type NotFoundError struct {
	BaseError
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(resource, id, message string) *NotFoundError {
	return &NotFoundError{
		BaseError: newBase(ErrCodeNotFound, message),
		Resource:  resource,
		ID:        id,
	}
}

// Error 实现error接口
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("[%s] %s %s: %s", e.Code, e.Resource, e.ID, e.Message)
}

// AuthorizationError 资源存在但不属于请求者
type AuthorizationError struct {
	BaseError
	OwnerID  string `json:"owner_id"`
	Resource string `json:"resource"`
}

// NewAuthorizationError 创建越权错误
func NewAuthorizationError(ownerID, resource, message string) *AuthorizationError {
	return &AuthorizationError{
		BaseError: newBase(ErrCodeForbidden, message),
		OwnerID:   ownerID,
		Resource:  resource,
	}
}

// Error 实现error接口
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("[%s] 用户'%s'无权访问%s: %s", e.Code, e.OwnerID, e.Resource, e.Message)
}

// OCRError OCR推理服务调用失败
type OCRError struct {
	BaseError
	Filename       string `json:"filename"`
	StatusCode     int    `json:"status_code,omitempty"`
	UpstreamDetail string `json:"upstream_detail,omitempty"`
	// Reason 可以展示给用户的概要，不含内部地址
	Reason string `json:"reason,omitempty"`
	Cause  error  `json:"-"`
}

// NewOCRError 创建OCR错误，cause 只用于日志
func NewOCRError(filename string, statusCode int, upstreamDetail string, cause error) *OCRError {
	e := &OCRError{
		BaseError:      newBase(ErrCodeOCRFailed, "OCR处理失败"),
		Filename:       filename,
		StatusCode:     statusCode,
		UpstreamDetail: upstreamDetail,
		Cause:          cause,
	}
	e.Details = e.Detail()
	return e
}

// WithReason 设置面向用户的失败概要
func (e *OCRError) WithReason(reason string) *OCRError {
	e.Reason = reason
	e.Details = e.Detail()
	return e
}

// Detail 返回上游服务的错误详情，其次是失败概要
func (e *OCRError) Detail() string {
	if e.UpstreamDetail != "" {
		return e.UpstreamDetail
	}
	if e.Reason != "" {
		return e.Reason
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("ocr service returned status %d", e.StatusCode)
	}
	return "Processing failed"
}

// Error 实现error接口
func (e *OCRError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s('%s'): %s (原因: %v)", e.Code, e.Message, e.Filename, e.Detail(), e.Cause)
	}
	return fmt.Sprintf("[%s] %s('%s'): %s", e.Code, e.Message, e.Filename, e.Detail())
}

// Unwrap 返回原始错误
func (e *OCRError) Unwrap() error {
	return e.Cause
}

// SystemError 系统错误
type SystemError struct {
	BaseError
	Component string `json:"component"`
	Operation string `json:"operation"`
	Cause     error  `json:"cause,omitempty"`
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, component, operation, message string, cause error) *SystemError {
	return &SystemError{
		BaseError: newBase(code, message),
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error 实现error接口
func (e *SystemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s.%s失败: %s (原因: %v)",
			e.Code, e.Component, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s.%s失败: %s",
		e.Code, e.Component, e.Operation, e.Message)
}

// Unwrap 返回原始错误
func (e *SystemError) Unwrap() error {
	return e.Cause
}

// FileError 文件操作错误
type FileError struct {
	BaseError
	FilePath  string `json:"file_path"`
	Operation string `json:"operation"`
	Cause     error  `json:"cause,omitempty"`
}

// NewFileError 创建文件错误
func NewFileError(code ErrorCode, filepath, operation, message string, cause error) *FileError {
	return &FileError{
		BaseError: newBase(code, message),
		FilePath:  filepath,
		Operation: operation,
		Cause:     cause,
	}
}

// Error 实现error接口
func (e *FileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] 文件操作失败 %s('%s'): %s (原因: %v)",
			e.Code, e.Operation, e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] 文件操作失败 %s('%s'): %s",
		e.Code, e.Operation, e.FilePath, e.Message)
}

// Unwrap 返回原始错误
func (e *FileError) Unwrap() error {
	return e.Cause
}

// IsErrorType 检查错误链中是否存在指定代码的错误
func IsErrorType(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	for err != nil {
		if c, ok := err.(coded); ok && c.GetCode() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// PublicMessage 返回可以展示给用户的错误信息
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return ocrErr.Detail()
	}
	var c coded
	if errors.As(err, &c) && c.GetMessage() != "" {
		return c.GetMessage()
	}
	return "Processing failed"
}

// 辅助函数：获取堆栈跟踪
func getStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var traces []string
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		traces = append(traces, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}

	return strings.Join(traces, "\n")
}
