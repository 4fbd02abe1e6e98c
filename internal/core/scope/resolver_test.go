package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/cmdb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

func TestParseNodes(t *testing.T) {
	nodes, err := ParseNodes([]byte(`[{"bk_host_id": 1001}, {"ip": "192.168.1.10", "bk_cloud_id": 0}]`))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, int64(1001), nodes[0].BkHostID)
	assert.Equal(t, "192.168.1.10", nodes[1].IP)
	require.NotNil(t, nodes[1].BkCloudID)
	assert.Equal(t, int64(0), *nodes[1].BkCloudID)

	nodes, err = ParseNodes(nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	_, err = ParseNodes([]byte(`{"not": "a list"}`))
	require.Error(t, err)
}

func TestResolveInstanceNodes(t *testing.T) {
	mock := cmdb.NewMockClient()
	mock.HostsByBiz[2] = []cmdb.HostInfo{
		{BkHostID: 1001, BkBizID: 2, BkCloudID: 0, BkHostInnerIP: "192.168.1.10", BkOsType: "LINUX"},
	}
	resolver := NewResolver(mock)

	instances, err := resolver.Resolve(context.Background(), Snapshot{
		ObjectType: constants.ObjectTypeHost,
		NodeType:   constants.NodeTypeInstance,
		Nodes:      []Node{{BkBizID: 2, BkHostID: 1001}},
	})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "host|instance|host|1001", instances[0].ID)
	assert.Equal(t, int64(1001), instances[0].Host.BkHostID)

	// 快照冻结的实例信息含主机关键字段
	hostInfo := instances[0].Info["host"].(map[string]interface{})
	assert.Equal(t, "192.168.1.10", hostInfo["bk_host_innerip"])
}

func TestResolveInstanceNodeMissingHost(t *testing.T) {
	resolver := NewResolver(cmdb.NewMockClient())

	_, err := resolver.Resolve(context.Background(), Snapshot{
		ObjectType: constants.ObjectTypeHost,
		NodeType:   constants.NodeTypeInstance,
		Nodes:      []Node{{BkBizID: 2, BkHostID: 9999}},
	})
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindScopeUnresolvable, pkgErrors.KindOf(err))
}

func TestResolveTopoNodes(t *testing.T) {
	mock := cmdb.NewMockClient()
	mock.HostsByTopo["set:30"] = []cmdb.HostInfo{
		{BkHostID: 1002, BkBizID: 2, BkCloudID: 0},
		{BkHostID: 1001, BkBizID: 2, BkCloudID: 0},
	}
	mock.HostsByTopo["module:40"] = []cmdb.HostInfo{
		{BkHostID: 1001, BkBizID: 2, BkCloudID: 0}, // 与 set:30 重叠
		{BkHostID: 1003, BkBizID: 1, BkCloudID: 0},
	}
	resolver := NewResolver(mock)

	instances, err := resolver.Resolve(context.Background(), Snapshot{
		ObjectType: constants.ObjectTypeHost,
		NodeType:   constants.NodeTypeTopo,
		Nodes: []Node{
			{BkBizID: 2, BkObjID: "set", BkInstID: 30},
			{BkBizID: 2, BkObjID: "module", BkInstID: 40},
		},
	})
	require.NoError(t, err)

	// 去重并按 (biz, cloud, host) 稳定排序
	ids := make([]int64, 0, len(instances))
	for _, instance := range instances {
		ids = append(ids, instance.Host.BkHostID)
	}
	assert.Equal(t, []int64{1003, 1001, 1002}, ids)
}

func TestResolveTopoNodeMissing(t *testing.T) {
	resolver := NewResolver(cmdb.NewMockClient())
	_, err := resolver.Resolve(context.Background(), Snapshot{
		ObjectType: constants.ObjectTypeHost,
		NodeType:   constants.NodeTypeTopo,
		Nodes:      []Node{{BkBizID: 2, BkObjID: "set", BkInstID: 404}},
	})
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindScopeUnresolvable, pkgErrors.KindOf(err))
}

func TestResolveServiceTemplateNodes(t *testing.T) {
	mock := cmdb.NewMockClient()
	mock.ModulesBySvcTpl[7] = []int64{40, 41}
	mock.HostsByTopo["module:40"] = []cmdb.HostInfo{{BkHostID: 1001, BkBizID: 2}}
	mock.HostsByTopo["module:41"] = []cmdb.HostInfo{{BkHostID: 1002, BkBizID: 2}}
	mock.ServiceInstances[40] = []cmdb.ServiceInstance{
		{ID: 501, Name: "nginx_1001", BkHostID: 1001, BkBizID: 2, ModuleID: 40},
	}
	resolver := NewResolver(mock)

	instances, err := resolver.Resolve(context.Background(), Snapshot{
		ObjectType: constants.ObjectTypeService,
		NodeType:   constants.NodeTypeServiceTemplate,
		Nodes:      []Node{{BkBizID: 2, BkTemplateID: 7}},
	})
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "service|service_template|service|1001", instances[0].ID)

	// SERVICE 对象快照冻结服务实例信息
	services := instances[0].Info["service"].([]map[string]interface{})
	require.Len(t, services, 1)
	assert.Equal(t, int64(501), services[0]["id"])
	assert.Equal(t, "nginx_1001", services[0]["name"])
	_, frozen := instances[1].Info["service"]
	assert.False(t, frozen)
}

func TestResolveSetTemplateNodes(t *testing.T) {
	mock := cmdb.NewMockClient()
	mock.SetsBySetTpl[9] = []int64{30}
	mock.HostsByTopo["set:30"] = []cmdb.HostInfo{{BkHostID: 1001, BkBizID: 2}}
	resolver := NewResolver(mock)

	instances, err := resolver.Resolve(context.Background(), Snapshot{
		ObjectType: constants.ObjectTypeHost,
		NodeType:   constants.NodeTypeSetTemplate,
		Nodes:      []Node{{BkBizID: 2, BkTemplateID: 9}},
	})
	require.NoError(t, err)
	require.Len(t, instances, 1)
}

func TestResolveEmptyScope(t *testing.T) {
	resolver := NewResolver(cmdb.NewMockClient())
	instances, err := resolver.Resolve(context.Background(), Snapshot{
		ObjectType: constants.ObjectTypeHost,
		NodeType:   constants.NodeTypeInstance,
	})
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestResolveUnknownNodeType(t *testing.T) {
	resolver := NewResolver(cmdb.NewMockClient())
	_, err := resolver.Resolve(context.Background(), Snapshot{
		ObjectType: constants.ObjectTypeHost,
		NodeType:   "GALAXY",
		Nodes:      []Node{{BkBizID: 2}},
	})
	require.Error(t, err)
}
