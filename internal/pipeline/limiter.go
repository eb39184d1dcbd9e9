package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freedkr/ocrflow/internal/metrics"
)

// Limiter OCR调用许可，所有批次共享，保护下游推理服务
type Limiter struct {
	semaphore chan struct{}
	timer     *RequestTimer
	inFlight  atomic.Int64
	acquired  atomic.Int64
}

// RequestTimer 请求时间控制器
type RequestTimer struct {
	interval    time.Duration
	lastRequest time.Time
	mutex       sync.Mutex
}

// LimiterStatus 许可使用情况
type LimiterStatus struct {
	InFlight      int64         `json:"in_flight"`
	Capacity      int           `json:"capacity"`
	TotalAcquired int64         `json:"total_acquired"`
	Interval      time.Duration `json:"request_interval"`
}

// NewLimiter 创建限流器，interval 为0时不限制请求间隔
func NewLimiter(maxInFlight int, interval time.Duration) *Limiter {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Limiter{
		semaphore: make(chan struct{}, maxInFlight),
		timer:     &RequestTimer{interval: interval},
	}
}

// Acquire 获取执行许可
func (l *Limiter) Acquire(ctx context.Context) error {
	// 1. 首先等待请求间隔
	if err := l.timer.WaitIfNeeded(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	// 2. 然后获取并发槽位
	select {
	case l.semaphore <- struct{}{}:
		l.inFlight.Add(1)
		l.acquired.Add(1)
		metrics.IncOCRInFlight()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release 释放执行许可
func (l *Limiter) Release() {
	select {
	case <-l.semaphore:
		l.inFlight.Add(-1)
		metrics.DecOCRInFlight()
	default:
		// 防止过度释放
	}
}

// Status 当前状态
func (l *Limiter) Status() LimiterStatus {
	return LimiterStatus{
		InFlight:      l.inFlight.Load(),
		Capacity:      cap(l.semaphore),
		TotalAcquired: l.acquired.Load(),
		Interval:      l.timer.interval,
	}
}

// WaitIfNeeded 等待请求间隔
func (t *RequestTimer) WaitIfNeeded(ctx context.Context) error {
	if t.interval <= 0 {
		return nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastRequest)

	if elapsed < t.interval {
		timer := time.NewTimer(t.interval - elapsed)
		defer timer.Stop()

		select {
		case <-timer.C:
			t.lastRequest = time.Now()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.lastRequest = now
	return nil
}
