package metrics

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry 进程内唯一的指标注册表
var Registry = prometheus.NewRegistry()

// InstanceLabel 部署实例标识，worker 进程为 {hostname}-{pid}
var InstanceLabel string

var (
	// RequestsByViewAppCode 按视图与调用方 app_code 统计的请求数
	RequestsByViewAppCode = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_by_view_app_code",
			Help: "Number of requests partitioned by view and caller app code.",
		},
		[]string{"view", "app_code", "hostname"},
	)

	// UserTokenVerifyFailedTotal 凭证校验失败数
	UserTokenVerifyFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_token_verify_failed_total",
			Help: "Number of token verification failures.",
		},
		[]string{"hostname", "token_type", "err"},
	)

	// PipelineActivityTotal 按原子类型与结果统计的执行次数
	// instance 取 worker 实例标识 {hostname}-{worker_name}-{index}
	PipelineActivityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_activity_total",
			Help: "Number of pipeline activity executions partitioned by kind and status.",
		},
		[]string{"kind", "status", "instance"},
	)

	// PipelineActivityDurationSeconds 原子执行耗时
	PipelineActivityDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_activity_duration_seconds",
			Help:    "Duration of pipeline activity executions in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"kind", "instance"},
	)

	// InvariantViolationTotal 内部不变量破坏次数，用于告警
	InvariantViolationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "internal_invariant_violated_total",
			Help: "Number of internal invariant violations.",
		},
		[]string{"hostname", "fingerprint"},
	)
)

func init() {
	hostname, _ := os.Hostname()
	InstanceLabel = fmt.Sprintf("%s-%d", hostname, os.Getpid())

	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RequestsByViewAppCode,
		UserTokenVerifyFailedTotal,
		PipelineActivityTotal,
		PipelineActivityDurationSeconds,
		InvariantViolationTotal,
	)
}

// Hostname 当前主机名
func Hostname() string {
	hostname, _ := os.Hostname()
	return hostname
}

// WorkerInstanceLabel 池内 worker 的实例标识 {hostname}-{worker_name}-{concurrency_index}
func WorkerInstanceLabel(workerName string, index int) string {
	return fmt.Sprintf("%s-%s-%d", Hostname(), workerName, index)
}
