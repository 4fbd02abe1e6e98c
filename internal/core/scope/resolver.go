package scope

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/cmdb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// Node 订阅范围内的单个节点声明
type Node struct {
	BkBizID   int64  `json:"bk_biz_id,omitempty"`
	BkHostID  int64  `json:"bk_host_id,omitempty"`
	BkCloudID *int64 `json:"bk_cloud_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	// TOPO 节点
	BkObjID  string `json:"bk_obj_id,omitempty"`
	BkInstID int64  `json:"bk_inst_id,omitempty"`
	// SERVICE_TEMPLATE / SET_TEMPLATE 的模板ID
	BkTemplateID int64 `json:"bk_template_id,omitempty"`
}

// Snapshot 范围解析输入，任务创建时冻结
type Snapshot struct {
	BkBizID    *int64
	ObjectType string
	NodeType   string
	Nodes      []Node
}

// Instance 解析得到的实例
type Instance struct {
	ID   string
	Info map[string]interface{}
	Host cmdb.HostInfo
}

// Resolver 订阅范围解析器，对 CMDB 快照的无状态函数
type Resolver struct {
	cmdb cmdb.Client
}

// NewResolver 创建解析器
func NewResolver(client cmdb.Client) *Resolver {
	return &Resolver{cmdb: client}
}

// ParseNodes 解析订阅 nodes JSON
func ParseNodes(raw []byte) ([]Node, error) {
	var nodes []Node
	if len(raw) == 0 {
		return nodes, nil
	}
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeValidationError, "订阅范围格式不合法", err)
	}
	return nodes, nil
}

// SnapshotOf 从订阅模型构造范围快照
func SnapshotOf(subscription *model.Subscription) (Snapshot, error) {
	nodes, err := ParseNodes(subscription.Nodes)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		BkBizID:    subscription.BkBizID,
		ObjectType: subscription.ObjectType,
		NodeType:   subscription.NodeType,
		Nodes:      nodes,
	}, nil
}

// Resolve 展开范围内的全部主机实例
// 结果按 (bk_biz_id, bk_cloud_id, bk_host_id) 稳定排序，按 bk_host_id 去重
func (r *Resolver) Resolve(ctx context.Context, snapshot Snapshot) ([]Instance, error) {
	if len(snapshot.Nodes) == 0 {
		return nil, nil
	}

	var hosts []cmdb.HostInfo
	var modulesByBiz map[int64][]int64
	var err error
	switch snapshot.NodeType {
	case constants.NodeTypeInstance:
		hosts, err = r.resolveInstanceNodes(ctx, snapshot)
	case constants.NodeTypeTopo:
		hosts, err = r.resolveTopoNodes(ctx, snapshot)
	case constants.NodeTypeServiceTemplate:
		hosts, modulesByBiz, err = r.resolveServiceTemplateNodes(ctx, snapshot)
	case constants.NodeTypeSetTemplate:
		hosts, err = r.resolveSetTemplateNodes(ctx, snapshot)
	default:
		return nil, pkgErrors.New(pkgErrors.CodeValidationError, "不支持的范围节点类型 "+snapshot.NodeType)
	}
	if err != nil {
		return nil, err
	}

	svcByHost, err := r.serviceInstancesByHost(ctx, snapshot, modulesByBiz)
	if err != nil {
		return nil, err
	}

	// 多个节点可能覆盖同一主机
	hosts = lo.UniqBy(hosts, func(host cmdb.HostInfo) int64 { return host.BkHostID })
	sort.Slice(hosts, func(i, j int) bool {
		a, b := hosts[i], hosts[j]
		if a.BkBizID != b.BkBizID {
			return a.BkBizID < b.BkBizID
		}
		if a.BkCloudID != b.BkCloudID {
			return a.BkCloudID < b.BkCloudID
		}
		return a.BkHostID < b.BkHostID
	})

	instances := make([]Instance, 0, len(hosts))
	for _, host := range hosts {
		info := hostInstanceInfo(host)
		if services := svcByHost[host.BkHostID]; len(services) > 0 {
			info["service"] = serviceInstanceInfo(services)
		}
		instances = append(instances, Instance{
			ID:   constants.InstanceNodeID(snapshot.ObjectType, snapshot.NodeType, host.BkHostID),
			Info: info,
			Host: host,
		})
	}
	return instances, nil
}

// serviceInstancesByHost SERVICE 对象快照冻结模块内服务实例
func (r *Resolver) serviceInstancesByHost(ctx context.Context, snapshot Snapshot,
	modulesByBiz map[int64][]int64) (map[int64][]cmdb.ServiceInstance, error) {

	if snapshot.ObjectType != constants.ObjectTypeService || len(modulesByBiz) == 0 {
		return nil, nil
	}
	byHost := map[int64][]cmdb.ServiceInstance{}
	for bizID, moduleIDs := range modulesByBiz {
		found, err := r.cmdb.ListServiceInstances(ctx, bizID, moduleIDs)
		if err != nil {
			return nil, err
		}
		for _, svc := range found {
			byHost[svc.BkHostID] = append(byHost[svc.BkHostID], svc)
		}
	}
	return byHost, nil
}

func serviceInstanceInfo(services []cmdb.ServiceInstance) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(services))
	for _, svc := range services {
		out = append(out, map[string]interface{}{
			"id":           svc.ID,
			"name":         svc.Name,
			"bk_module_id": svc.ModuleID,
		})
	}
	return out
}

// resolveInstanceNodes 字面量主机节点：校验存在并补全主机信息
func (r *Resolver) resolveInstanceNodes(ctx context.Context, snapshot Snapshot) ([]cmdb.HostInfo, error) {
	var hosts []cmdb.HostInfo
	for _, node := range snapshot.Nodes {
		bizID := node.BkBizID
		if bizID == 0 && snapshot.BkBizID != nil {
			bizID = *snapshot.BkBizID
		}
		filter := cmdb.SearchFilter{Condition: instanceNodeFilter(node)}
		found, _, err := r.cmdb.ListBizHosts(ctx, bizID, filter, cmdb.Page{Start: 0, Limit: 2})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, pkgErrors.WrapKind(pkgErrors.KindScopeUnresolvable,
				fmt.Sprintf("主机不存在: %s", nodeKey(node)), nil)
		}
		hosts = append(hosts, found[0])
	}
	return hosts, nil
}

func instanceNodeFilter(node Node) map[string]interface{} {
	if node.BkHostID != 0 {
		return map[string]interface{}{"bk_host_id": node.BkHostID}
	}
	filter := map[string]interface{}{"bk_host_innerip": node.IP}
	if node.BkCloudID != nil {
		filter["bk_cloud_id"] = *node.BkCloudID
	}
	return filter
}

func nodeKey(node Node) string {
	if node.BkHostID != 0 {
		return fmt.Sprintf("bk_host_id=%d", node.BkHostID)
	}
	cloudID := int64(constants.DefaultCloudID)
	if node.BkCloudID != nil {
		cloudID = *node.BkCloudID
	}
	return fmt.Sprintf("%d:%s", cloudID, node.IP)
}

// resolveTopoNodes 拓扑节点展开为子树内全部主机
func (r *Resolver) resolveTopoNodes(ctx context.Context, snapshot Snapshot) ([]cmdb.HostInfo, error) {
	var hosts []cmdb.HostInfo
	for _, node := range snapshot.Nodes {
		found, err := r.cmdb.ListHostsByTopoNode(ctx, node.BkBizID,
			cmdb.TopoNode{BkObjID: node.BkObjID, BkInstID: node.BkInstID})
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, found...)
	}
	return hosts, nil
}

// resolveServiceTemplateNodes 服务模板经模块展开为主机集合，模块清单留给服务实例冻结
func (r *Resolver) resolveServiceTemplateNodes(ctx context.Context,
	snapshot Snapshot) ([]cmdb.HostInfo, map[int64][]int64, error) {

	var hosts []cmdb.HostInfo
	modulesByBiz := map[int64][]int64{}
	for _, node := range snapshot.Nodes {
		templateID := node.BkTemplateID
		if templateID == 0 {
			templateID = node.BkInstID
		}
		moduleIDs, err := r.cmdb.ListModuleIDsByServiceTemplate(ctx, node.BkBizID, templateID)
		if err != nil {
			return nil, nil, err
		}
		modulesByBiz[node.BkBizID] = append(modulesByBiz[node.BkBizID], moduleIDs...)
		for _, moduleID := range moduleIDs {
			found, err := r.cmdb.ListHostsByTopoNode(ctx, node.BkBizID,
				cmdb.TopoNode{BkObjID: "module", BkInstID: moduleID})
			if err != nil {
				return nil, nil, err
			}
			hosts = append(hosts, found...)
		}
	}
	return hosts, modulesByBiz, nil
}

// resolveSetTemplateNodes 集群模板先展开集群，再取集群子树主机
func (r *Resolver) resolveSetTemplateNodes(ctx context.Context, snapshot Snapshot) ([]cmdb.HostInfo, error) {
	var hosts []cmdb.HostInfo
	for _, node := range snapshot.Nodes {
		templateID := node.BkTemplateID
		if templateID == 0 {
			templateID = node.BkInstID
		}
		setIDs, err := r.cmdb.ListSetIDsBySetTemplate(ctx, node.BkBizID, templateID)
		if err != nil {
			return nil, err
		}
		for _, setID := range setIDs {
			found, err := r.cmdb.ListHostsByTopoNode(ctx, node.BkBizID,
				cmdb.TopoNode{BkObjID: "set", BkInstID: setID})
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, found...)
		}
	}
	return hosts, nil
}

func hostInstanceInfo(host cmdb.HostInfo) map[string]interface{} {
	return map[string]interface{}{
		"host": map[string]interface{}{
			"bk_host_id":         host.BkHostID,
			"bk_biz_id":          host.BkBizID,
			"bk_cloud_id":        host.BkCloudID,
			"bk_host_innerip":    host.BkHostInnerIP,
			"bk_host_innerip_v6": host.BkHostInnerIPv6,
			"bk_host_outerip":    host.BkHostOuterIP,
			"bk_os_type":         host.BkOsType,
			"bk_cpu_arch":        host.BkCpuArch,
		},
	}
}
