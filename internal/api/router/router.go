package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/cmdb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/api/handler"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/api/middleware"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/config"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/metrics"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/repository"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/service"
)

// Setup 设置路由
func Setup(cfg *config.Config, subscriptionService service.SubscriptionService,
	cmdbClient cmdb.Client, traces repository.RequestTraceRepository) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.TraceMiddleware(traces))

	// 健康检查
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// 指标暴露，拉取式文本格式
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry,
		promhttp.HandlerOpts{Registry: metrics.Registry})))

	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService)
	metaHandler := handler.NewMetaHandler(cmdbClient)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/biz", metaHandler.ListBiz)
		subscription := v1.Group("/subscription")
		{
			subscription.POST("", subscriptionHandler.Create)
			subscription.PUT("/:id", subscriptionHandler.Update)
			subscription.DELETE("/:id", subscriptionHandler.Delete)
			subscription.POST("/:id/run", subscriptionHandler.Run)
			subscription.GET("/:id/instance_status", subscriptionHandler.InstanceStatus)
		}
		task := v1.Group("/task")
		{
			task.POST("/:task_id/revoke", subscriptionHandler.Revoke)
			task.GET("/:task_id/result", subscriptionHandler.TaskResult)
		}
	}

	return r
}
