package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/freedkr/ocrflow/internal/auth"
	"github.com/freedkr/ocrflow/internal/metrics"
	applog "github.com/freedkr/ocrflow/pkg/logger"
)

// 上下文中的键
const (
	RequestIDKey = "RequestID"
	OwnerIDKey   = "OwnerID"
)

// CORS 跨域中间件。
// 配置列表中的来源原样回显并允许携带凭证；origins 包含 * 时其余来源得到 *，不带凭证。
func CORS(origins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return gin.HandlerFunc(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			_, listed := allowed[origin]
			switch {
			case listed:
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Vary", "Origin")
			case allowAll:
				c.Header("Access-Control-Allow-Origin", "*")
			}
			if listed || allowAll {
				c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization, Cache-Control, X-File-Name, X-Request-ID")
				c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Disposition, Content-Type, X-Request-ID")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
}

// RequestID 请求ID中间件
func RequestID() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	})
}

// Auth 校验Bearer令牌，通过后把用户ID写入上下文
func Auth(verifier auth.Verifier) gin.HandlerFunc {
	log := applog.NewLogger("auth")
	return gin.HandlerFunc(func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			return
		}

		ownerID, err := verifier.Verify(token)
		if err != nil {
			log.Debug("token rejected", "request_id", c.GetString(RequestIDKey), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(OwnerIDKey, ownerID)
		c.Next()
	})
}

// Logger 请求日志
func Logger() gin.HandlerFunc {
	log := applog.NewLogger("http")
	return gin.HandlerFunc(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"request_id", c.GetString(RequestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if owner := c.GetString(OwnerIDKey); owner != "" {
			args = append(args, "owner_id", owner)
		}
		if len(c.Errors) > 0 {
			args = append(args, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request completed", args...)
		case status >= http.StatusBadRequest:
			log.Warn("request completed", args...)
		default:
			log.Info("request completed", args...)
		}
	})
}

// Metrics 按路由和状态码统计请求数
func Metrics() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	})
}
