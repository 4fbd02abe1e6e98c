package gse

import (
	"context"
	"fmt"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/esb"
)

func agentKey(bkCloudID int64, ip string) string {
	return fmt.Sprintf("%d:%s", bkCloudID, ip)
}

type esbClient struct {
	esb *esb.Client
}

// NewEsbClient 创建经由网关的 GSE 客户端
func NewEsbClient(client *esb.Client) Client {
	return &esbClient{esb: client}
}

// GetAgentStatus 批量查询 Agent 心跳
func (c *esbClient) GetAgentStatus(ctx context.Context, hosts []AgentHost) (map[string]AgentStatus, error) {
	ipList := make([]map[string]interface{}, 0, len(hosts))
	for _, host := range hosts {
		ipList = append(ipList, map[string]interface{}{
			"bk_cloud_id": host.BkCloudID,
			"ip":          host.IP,
		})
	}
	var result map[string]struct {
		BkAgentAlive int    `json:"bk_agent_alive"`
		Version      string `json:"version"`
	}
	params := map[string]interface{}{"hosts": ipList}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/gse/get_agent_status/", params, &result); err != nil {
		return nil, err
	}
	statuses := make(map[string]AgentStatus, len(result))
	for key, item := range result {
		statuses[key] = AgentStatus{Alive: item.BkAgentAlive == 1, Version: item.Version}
	}
	return statuses, nil
}

// RegisterProc 注册托管进程
func (c *esbClient) RegisterProc(ctx context.Context, host AgentHost, proc ProcInfo, idempotencyKey string) (string, error) {
	var result struct {
		TaskID string `json:"task_id"`
	}
	params := map[string]interface{}{
		"meta": map[string]interface{}{
			"namespace": proc.Namespace,
			"name":      proc.Name,
		},
		"hosts": []map[string]interface{}{
			{"bk_cloud_id": host.BkCloudID, "ip": host.IP},
		},
		"spec": map[string]interface{}{
			"identity": map[string]interface{}{
				"user":       proc.User,
				"setup_path": proc.SetupPath,
				"pid_path":   proc.PidPath,
			},
			"control": map[string]interface{}{
				"start_cmd": proc.StartCmd,
				"stop_cmd":  proc.StopCmd,
			},
		},
		// GSE 按请求ID去重，重试沿用同一键不会重复注册
		"bk_request_id": idempotencyKey,
	}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/gse/register_proc_info/", params, &result); err != nil {
		return "", err
	}
	if result.TaskID != "" {
		return result.TaskID, nil
	}
	return fmt.Sprintf("%s:%s:%s", proc.Namespace, proc.Name, agentKey(host.BkCloudID, host.IP)), nil
}

// OperateProc 对托管进程下发操作
func (c *esbClient) OperateProc(ctx context.Context, procID string, op int) (string, error) {
	var result struct {
		TaskID string `json:"task_id"`
	}
	params := map[string]interface{}{
		"proc_id": procID,
		"op_type": op,
	}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/gse/operate_proc/", params, &result); err != nil {
		return "", err
	}
	return result.TaskID, nil
}

// GetProcOperateResult 查询进程操作结果
func (c *esbClient) GetProcOperateResult(ctx context.Context, taskID string) (ProcOperateResult, error) {
	var result map[string]struct {
		ErrorCode int    `json:"error_code"`
		ErrorMsg  string `json:"error_msg"`
		Content   string `json:"content"`
	}
	params := map[string]interface{}{"task_id": taskID}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/gse/get_proc_operate_result/", params, &result); err != nil {
		return ProcOperateResult{}, err
	}
	for _, item := range result {
		switch item.ErrorCode {
		case 0:
			return ProcOperateResult{Status: "SUCCESS", Detail: item.Content}, nil
		case 115: // 执行中
			return ProcOperateResult{Status: "RUNNING", Detail: item.Content}, nil
		default:
			return ProcOperateResult{Status: "FAILED", Detail: item.ErrorMsg}, nil
		}
	}
	return ProcOperateResult{Status: "RUNNING"}, nil
}
