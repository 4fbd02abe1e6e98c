package cmdb

import (
	"context"
)

// Biz 业务信息
type Biz struct {
	BkBizID   int64  `json:"bk_biz_id"`
	BkBizName string `json:"bk_biz_name"`
}

// TopoNode 拓扑节点
type TopoNode struct {
	BkObjID  string `json:"bk_obj_id"` // biz / set / module / 自定义层级
	BkInstID int64  `json:"bk_inst_id"`
}

// HostInfo 配置平台主机信息
type HostInfo struct {
	BkHostID          int64  `json:"bk_host_id"`
	BkBizID           int64  `json:"bk_biz_id"`
	BkCloudID         int64  `json:"bk_cloud_id"`
	BkHostInnerIP     string `json:"bk_host_innerip"`
	BkHostInnerIPv6   string `json:"bk_host_innerip_v6"`
	BkHostOuterIP     string `json:"bk_host_outerip"`
	BkOsType          string `json:"bk_os_type"`
	BkCpuArch         string `json:"bk_cpu_architecture"`
	BkSupplierAccount string `json:"bk_supplier_account"`
}

// ServiceInstance 服务实例
type ServiceInstance struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	BkHostID int64  `json:"bk_host_id"`
	BkBizID  int64  `json:"bk_biz_id"`
	ModuleID int64  `json:"bk_module_id"`
}

// HostEvent 主机事件，供增量同步消费
type HostEvent struct {
	Cursor string    `json:"bk_cursor"`
	Type   string    `json:"bk_event_type"` // create / update / delete
	Host   *HostInfo `json:"bk_detail"`
}

// SearchFilter 业务查询过滤条件
type SearchFilter struct {
	Fields    []string               `json:"fields,omitempty"`
	Condition map[string]interface{} `json:"condition,omitempty"`
}

// Page 分页参数
type Page struct {
	Start int `json:"start"`
	Limit int `json:"limit"`
}

// Client 配置平台客户端接口
type Client interface {
	// SearchBiz 查询业务列表
	SearchBiz(ctx context.Context, filter SearchFilter) ([]Biz, error)
	// ListBizHosts 分页查询业务下主机
	ListBizHosts(ctx context.Context, bkBizID int64, filter SearchFilter, page Page) ([]HostInfo, int, error)
	// ListHostsByTopoNode 查询拓扑节点（含子树）下的主机
	ListHostsByTopoNode(ctx context.Context, bkBizID int64, node TopoNode) ([]HostInfo, error)
	// ListModuleIDsByServiceTemplate 服务模板展开为模块ID
	ListModuleIDsByServiceTemplate(ctx context.Context, bkBizID int64, templateID int64) ([]int64, error)
	// ListSetIDsBySetTemplate 集群模板展开为集群ID
	ListSetIDsBySetTemplate(ctx context.Context, bkBizID int64, templateID int64) ([]int64, error)
	// ListServiceInstances 查询模块下的服务实例
	ListServiceInstances(ctx context.Context, bkBizID int64, moduleIDs []int64) ([]ServiceInstance, error)
	// WatchHostEvents 从游标处拉取主机事件
	WatchHostEvents(ctx context.Context, cursor string) ([]HostEvent, string, error)
	// RegisterHost 注册主机，幂等键保证重试不会重复注册
	RegisterHost(ctx context.Context, host HostInfo, idempotencyKey string) (int64, error)
}
