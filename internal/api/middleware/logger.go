package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
)

// LoggerMiddleware 访问日志，request_id 与追踪中间件共用响应头取值
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", c.Writer.Header().Get("X-Request-Id")),
		}
		if private := c.Errors.ByType(gin.ErrorTypePrivate); len(private) > 0 {
			fields = append(fields, zap.String("errors", private.String()))
		}
		logger.Info("http request", fields...)
	}
}
