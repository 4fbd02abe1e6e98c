package jobplatform

import (
	"context"
)

// 作业执行状态
const (
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// TargetHost 作业目标主机
type TargetHost struct {
	BkHostID  int64  `json:"bk_host_id"`
	BkCloudID int64  `json:"bk_cloud_id"`
	IP        string `json:"ip"`
}

// FileSource 待分发文件
type FileSource struct {
	Name    string `json:"name"`
	Content []byte `json:"content"` // base64 编码后下发
	Path    string `json:"path"`    // 目标路径
}

// Client 作业平台客户端接口
type Client interface {
	// PushFile 分发文件到目标主机
	PushFile(ctx context.Context, hosts []TargetHost, files []FileSource, account string) (int64, error)
	// RunScript 在目标主机执行脚本
	RunScript(ctx context.Context, hosts []TargetHost, script string, params string, account string) (int64, error)
	// GetJobStatus 查询作业状态
	GetJobStatus(ctx context.Context, jobInstanceID int64) (string, error)
	// GetJobLog 查询单台主机的执行日志
	GetJobLog(ctx context.Context, jobInstanceID int64, host TargetHost) (string, error)
}
