package gse

import (
	"context"
)

// 进程操作类型
const (
	ProcOpStart      = 0
	ProcOpStop       = 1
	ProcOpRestart    = 7
	ProcOpDelegate   = 2
	ProcOpUndelegate = 3
)

// AgentHost 管控区域+IP 唯一定位一台 Agent
type AgentHost struct {
	BkCloudID int64  `json:"bk_cloud_id"`
	IP        string `json:"ip"`
	BkAgentID string `json:"bk_agent_id,omitempty"`
}

// AgentStatus Agent 心跳状态
type AgentStatus struct {
	Alive   bool   `json:"alive"`
	Version string `json:"version"`
}

// ProcInfo 托管进程描述
type ProcInfo struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	SetupPath string `json:"setup_path"`
	PidPath   string `json:"pid_path"`
	User      string `json:"user"`
	StartCmd  string `json:"start_cmd"`
	StopCmd   string `json:"stop_cmd"`
}

// ProcOperateResult 进程操作结果
type ProcOperateResult struct {
	Status string `json:"status"` // RUNNING / SUCCESS / FAILED
	Detail string `json:"detail"`
}

// Client GSE 客户端接口
type Client interface {
	// GetAgentStatus 批量查询 Agent 心跳
	GetAgentStatus(ctx context.Context, hosts []AgentHost) (map[string]AgentStatus, error)
	// RegisterProc 注册托管进程，幂等键保证重试不会重复注册
	RegisterProc(ctx context.Context, host AgentHost, proc ProcInfo, idempotencyKey string) (string, error)
	// OperateProc 对托管进程下发操作
	OperateProc(ctx context.Context, procID string, op int) (string, error)
	// GetProcOperateResult 查询进程操作结果
	GetProcOperateResult(ctx context.Context, taskID string) (ProcOperateResult, error)
}

// HostKey Agent 状态表的键
func HostKey(host AgentHost) string {
	if host.BkAgentID != "" {
		return host.BkAgentID
	}
	return agentKey(host.BkCloudID, host.IP)
}
