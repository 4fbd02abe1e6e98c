package cmdb

import (
	"context"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/esb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/retry"
)

type esbClient struct {
	esb *esb.Client
}

// NewEsbClient 创建经由网关的配置平台客户端
func NewEsbClient(client *esb.Client) Client {
	return &esbClient{esb: client}
}

// read 只读接口调用，瞬时失败按默认策略重试
func (c *esbClient) read(ctx context.Context, path string, params interface{}, out interface{}) error {
	return retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		return c.esb.Call(ctx, path, params, out)
	})
}

// SearchBiz 查询业务列表
func (c *esbClient) SearchBiz(ctx context.Context, filter SearchFilter) ([]Biz, error) {
	var result struct {
		Count int   `json:"count"`
		Info  []Biz `json:"info"`
	}
	params := map[string]interface{}{}
	if filter.Condition != nil {
		params["condition"] = filter.Condition
	}
	if len(filter.Fields) > 0 {
		params["fields"] = filter.Fields
	}
	if err := c.read(ctx, "/api/c/compapi/v2/cc/search_business/", params, &result); err != nil {
		return nil, err
	}
	return result.Info, nil
}

// ListBizHosts 分页查询业务下主机
func (c *esbClient) ListBizHosts(ctx context.Context, bkBizID int64, filter SearchFilter, page Page) ([]HostInfo, int, error) {
	var result struct {
		Count int        `json:"count"`
		Info  []HostInfo `json:"info"`
	}
	params := map[string]interface{}{
		"bk_biz_id": bkBizID,
		"page":      page,
	}
	if len(filter.Fields) > 0 {
		params["fields"] = filter.Fields
	}
	if filter.Condition != nil {
		params["host_property_filter"] = filter.Condition
	}
	if err := c.read(ctx, "/api/c/compapi/v2/cc/list_biz_hosts/", params, &result); err != nil {
		return nil, 0, err
	}
	return result.Info, result.Count, nil
}

// ListHostsByTopoNode 查询拓扑节点下的主机
func (c *esbClient) ListHostsByTopoNode(ctx context.Context, bkBizID int64, node TopoNode) ([]HostInfo, error) {
	var hosts []HostInfo
	// 节点下主机可能超过单页上限，翻页取全
	start := 0
	const pageSize = 500
	for {
		var result struct {
			Count int        `json:"count"`
			Info  []HostInfo `json:"info"`
		}
		params := map[string]interface{}{
			"bk_biz_id":  bkBizID,
			"bk_obj_id":  node.BkObjID,
			"bk_inst_id": node.BkInstID,
			"page":       Page{Start: start, Limit: pageSize},
		}
		if err := c.read(ctx, "/api/c/compapi/v2/cc/find_host_by_topo/", params, &result); err != nil {
			return nil, err
		}
		hosts = append(hosts, result.Info...)
		start += pageSize
		if start >= result.Count || len(result.Info) == 0 {
			break
		}
	}
	return hosts, nil
}

// ListModuleIDsByServiceTemplate 服务模板展开为模块ID
func (c *esbClient) ListModuleIDsByServiceTemplate(ctx context.Context, bkBizID int64, templateID int64) ([]int64, error) {
	var result struct {
		Count int `json:"count"`
		Info  []struct {
			BkModuleID int64 `json:"bk_module_id"`
		} `json:"info"`
	}
	params := map[string]interface{}{
		"bk_biz_id":           bkBizID,
		"service_template_id": templateID,
		"page":                Page{Start: 0, Limit: 500},
	}
	if err := c.read(ctx, "/api/c/compapi/v2/cc/search_module/", params, &result); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(result.Info))
	for _, item := range result.Info {
		ids = append(ids, item.BkModuleID)
	}
	return ids, nil
}

// ListSetIDsBySetTemplate 集群模板展开为集群ID
func (c *esbClient) ListSetIDsBySetTemplate(ctx context.Context, bkBizID int64, templateID int64) ([]int64, error) {
	var result struct {
		Count int `json:"count"`
		Info  []struct {
			BkSetID int64 `json:"bk_set_id"`
		} `json:"info"`
	}
	params := map[string]interface{}{
		"bk_biz_id":       bkBizID,
		"set_template_id": templateID,
		"page":            Page{Start: 0, Limit: 500},
	}
	if err := c.read(ctx, "/api/c/compapi/v2/cc/search_set/", params, &result); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(result.Info))
	for _, item := range result.Info {
		ids = append(ids, item.BkSetID)
	}
	return ids, nil
}

// ListServiceInstances 查询模块下的服务实例
func (c *esbClient) ListServiceInstances(ctx context.Context, bkBizID int64, moduleIDs []int64) ([]ServiceInstance, error) {
	var instances []ServiceInstance
	for _, moduleID := range moduleIDs {
		var result struct {
			Count int               `json:"count"`
			Info  []ServiceInstance `json:"info"`
		}
		params := map[string]interface{}{
			"bk_biz_id":    bkBizID,
			"bk_module_id": moduleID,
			"page":         Page{Start: 0, Limit: 500},
		}
		if err := c.read(ctx, "/api/c/compapi/v2/cc/list_service_instance/", params, &result); err != nil {
			return nil, err
		}
		instances = append(instances, result.Info...)
	}
	return instances, nil
}

// WatchHostEvents 从游标处拉取主机事件
func (c *esbClient) WatchHostEvents(ctx context.Context, cursor string) ([]HostEvent, string, error) {
	var result struct {
		BkWatched bool        `json:"bk_watched"`
		BkEvents  []HostEvent `json:"bk_events"`
	}
	params := map[string]interface{}{
		"bk_resource": "host",
	}
	if cursor != "" {
		params["bk_cursor"] = cursor
	}
	if err := c.read(ctx, "/api/c/compapi/v2/cc/resource_watch/", params, &result); err != nil {
		return nil, cursor, err
	}
	next := cursor
	if len(result.BkEvents) > 0 {
		next = result.BkEvents[len(result.BkEvents)-1].Cursor
	}
	return result.BkEvents, next, nil
}

// RegisterHost 注册主机
func (c *esbClient) RegisterHost(ctx context.Context, host HostInfo, idempotencyKey string) (int64, error) {
	var result struct {
		BkHostIDs []int64 `json:"bk_host_ids"`
	}
	params := map[string]interface{}{
		"bk_biz_id": host.BkBizID,
		"host_info": map[string]interface{}{
			"bk_host_innerip": host.BkHostInnerIP,
			"bk_cloud_id":     host.BkCloudID,
			"bk_os_type":      host.BkOsType,
		},
		// 网关侧按请求ID去重，重试沿用同一键不会重复注册
		"bk_request_id": idempotencyKey,
	}
	if err := c.esb.Call(ctx, "/api/c/compapi/v2/cc/add_host_to_resource/", params, &result); err != nil {
		return 0, err
	}
	if len(result.BkHostIDs) > 0 {
		return result.BkHostIDs[0], nil
	}
	return host.BkHostID, nil
}
