package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/metrics"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/repository"
)

const headerAppCode = "X-Bk-App-Code"

// MetricsMiddleware 按视图与调用方统计请求数
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		view := c.FullPath()
		if view == "" {
			view = "unmatched"
		}
		appCode := c.GetHeader(headerAppCode)
		if appCode == "" {
			appCode = "unknown"
		}
		metrics.RequestsByViewAppCode.WithLabelValues(view, appCode, metrics.Hostname()).Inc()
	}
}

// TraceMiddleware 记录请求追踪，由周期任务按保留期清理
func TraceMiddleware(traces repository.RequestTraceRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-Id", requestID)

		c.Next()

		record := &model.RequestTraceRecord{
			RequestID: requestID,
			View:      c.FullPath(),
			AppCode:   c.GetHeader(headerAppCode),
			Detail: datatypes.JSON(
				`{"method":"` + c.Request.Method + `","status":` + strconv.Itoa(c.Writer.Status()) + `}`),
		}
		if err := traces.Create(record); err != nil {
			logger.Warn("请求追踪写入失败", zap.String("request_id", requestID), zap.Error(err))
		}
	}
}
