package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// OwnerRateLimiter 按用户分配令牌桶，未认证的请求按客户端IP计算
type OwnerRateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rateLimit rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewOwnerRateLimiter 创建限流器
func NewOwnerRateLimiter(r rate.Limit, burst int) *OwnerRateLimiter {
	return &OwnerRateLimiter{
		visitors:  make(map[string]*visitor),
		rateLimit: r,
		burst:     burst,
		idleTTL:   10 * time.Minute,
		lastSweep: time.Now(),
	}
}

// GetLimiter 获取某个key对应的令牌桶
func (l *OwnerRateLimiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > l.idleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, exists := l.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.rateLimit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Size 当前跟踪的key数量
func (l *OwnerRateLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimiter 限流中间件，需要放在 Auth 之后
func RateLimiter(limiter *OwnerRateLimiter) gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		key := c.GetString(OwnerIDKey)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if !limiter.GetLimiter(key).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	})
}
