package jobplatform

import (
	"context"
	"encoding/base64"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/esb"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// 作业平台的数字状态到状态串的映射
var jobStatusMap = map[int]string{
	1: JobStatusRunning, // 未执行
	2: JobStatusRunning,
	3: JobStatusSucceeded,
	4: JobStatusFailed,
	5: JobStatusFailed, // 等待确认，视为失败
	7: JobStatusFailed, // 强制终止
}

type esbClient struct {
	esb *esb.Client
}

// NewEsbClient 创建经由网关的作业平台客户端
func NewEsbClient(client *esb.Client) Client {
	return &esbClient{esb: client}
}

func targetServer(hosts []TargetHost) map[string]interface{} {
	ipList := make([]map[string]interface{}, 0, len(hosts))
	for _, host := range hosts {
		ipList = append(ipList, map[string]interface{}{
			"bk_host_id":  host.BkHostID,
			"bk_cloud_id": host.BkCloudID,
			"ip":          host.IP,
		})
	}
	return map[string]interface{}{"ip_list": ipList}
}

// PushFile 分发文件到目标主机
func (c *esbClient) PushFile(ctx context.Context, hosts []TargetHost, files []FileSource, account string) (int64, error) {
	fileList := make([]map[string]interface{}, 0, len(files))
	for _, file := range files {
		fileList = append(fileList, map[string]interface{}{
			"file_name": file.Name,
			"content":   base64.StdEncoding.EncodeToString(file.Content),
		})
	}
	var result struct {
		JobInstanceID int64 `json:"job_instance_id"`
	}
	params := map[string]interface{}{
		"file_list":        fileList,
		"account_alias":    account,
		"file_target_path": filesTargetPath(files),
		"target_server":    targetServer(hosts),
	}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/jobv3/push_config_file/", params, &result); err != nil {
		return 0, err
	}
	return result.JobInstanceID, nil
}

func filesTargetPath(files []FileSource) string {
	if len(files) > 0 {
		return files[0].Path
	}
	return ""
}

// RunScript 在目标主机执行脚本
func (c *esbClient) RunScript(ctx context.Context, hosts []TargetHost, script string, params string, account string) (int64, error) {
	var result struct {
		JobInstanceID int64 `json:"job_instance_id"`
	}
	body := map[string]interface{}{
		"script_content":  base64.StdEncoding.EncodeToString([]byte(script)),
		"script_param":    base64.StdEncoding.EncodeToString([]byte(params)),
		"script_language": 1,
		"account_alias":   account,
		"target_server":   targetServer(hosts),
	}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/jobv3/fast_execute_script/", body, &result); err != nil {
		return 0, err
	}
	return result.JobInstanceID, nil
}

// GetJobStatus 查询作业状态
func (c *esbClient) GetJobStatus(ctx context.Context, jobInstanceID int64) (string, error) {
	var result struct {
		JobInstance struct {
			Status int `json:"status"`
		} `json:"job_instance"`
	}
	params := map[string]interface{}{"job_instance_id": jobInstanceID}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/jobv3/get_job_instance_status/", params, &result); err != nil {
		return "", err
	}
	status, ok := jobStatusMap[result.JobInstance.Status]
	if !ok {
		return "", pkgErrors.WrapKind(pkgErrors.KindInternalInvariant, "作业平台返回未知状态", nil)
	}
	return status, nil
}

// GetJobLog 查询单台主机的执行日志
func (c *esbClient) GetJobLog(ctx context.Context, jobInstanceID int64, host TargetHost) (string, error) {
	var result struct {
		LogContent string `json:"log_content"`
	}
	params := map[string]interface{}{
		"job_instance_id": jobInstanceID,
		"bk_host_id":      host.BkHostID,
		"bk_cloud_id":     host.BkCloudID,
		"ip":              host.IP,
	}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/jobv3/get_job_instance_ip_log/", params, &result); err != nil {
		return "", err
	}
	return result.LogContent, nil
}
