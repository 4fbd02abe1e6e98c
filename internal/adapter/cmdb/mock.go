package cmdb

import (
	"context"
	"fmt"
	"sync"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// MockClient 模拟配置平台客户端
type MockClient struct {
	mu sync.Mutex

	// 可控行为
	Bizs             []Biz
	HostsByBiz       map[int64][]HostInfo
	HostsByTopo      map[string][]HostInfo // "obj:inst" -> hosts
	ModulesBySvcTpl  map[int64][]int64
	SetsBySetTpl     map[int64][]int64
	ServiceInstances map[int64][]ServiceInstance // module_id -> instances
	Events           []HostEvent
	CallError        error // 所有接口统一返回的错误

	registered       map[string]int64 // 幂等键 -> host_id
	registerCalled   int
	nextRegisteredID int64
}

// NewMockClient 创建模拟客户端
func NewMockClient() *MockClient {
	return &MockClient{
		HostsByBiz:       make(map[int64][]HostInfo),
		HostsByTopo:      make(map[string][]HostInfo),
		ModulesBySvcTpl:  make(map[int64][]int64),
		SetsBySetTpl:     make(map[int64][]int64),
		ServiceInstances: make(map[int64][]ServiceInstance),
		registered:       make(map[string]int64),
		nextRegisteredID: 90000,
	}
}

// SetCallError 设置统一错误
func (m *MockClient) SetCallError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallError = err
	return m
}

// TopoKey 拓扑主机表的键
func TopoKey(node TopoNode) string {
	return fmt.Sprintf("%s:%d", node.BkObjID, node.BkInstID)
}

func (m *MockClient) SearchBiz(ctx context.Context, filter SearchFilter) ([]Biz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallError != nil {
		return nil, m.CallError
	}
	return m.Bizs, nil
}

func (m *MockClient) ListBizHosts(ctx context.Context, bkBizID int64, filter SearchFilter, page Page) ([]HostInfo, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallError != nil {
		return nil, 0, m.CallError
	}
	hosts := m.HostsByBiz[bkBizID]
	total := len(hosts)
	if page.Start >= total {
		return nil, total, nil
	}
	end := page.Start + page.Limit
	if page.Limit <= 0 || end > total {
		end = total
	}
	return hosts[page.Start:end], total, nil
}

func (m *MockClient) ListHostsByTopoNode(ctx context.Context, bkBizID int64, node TopoNode) ([]HostInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallError != nil {
		return nil, m.CallError
	}
	hosts, ok := m.HostsByTopo[TopoKey(node)]
	if !ok {
		return nil, pkgErrors.WrapKind(pkgErrors.KindScopeUnresolvable, "拓扑节点不存在", nil)
	}
	return hosts, nil
}

func (m *MockClient) ListModuleIDsByServiceTemplate(ctx context.Context, bkBizID int64, templateID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallError != nil {
		return nil, m.CallError
	}
	ids, ok := m.ModulesBySvcTpl[templateID]
	if !ok {
		return nil, pkgErrors.WrapKind(pkgErrors.KindScopeUnresolvable, "服务模板不存在", nil)
	}
	return ids, nil
}

func (m *MockClient) ListSetIDsBySetTemplate(ctx context.Context, bkBizID int64, templateID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallError != nil {
		return nil, m.CallError
	}
	ids, ok := m.SetsBySetTpl[templateID]
	if !ok {
		return nil, pkgErrors.WrapKind(pkgErrors.KindScopeUnresolvable, "集群模板不存在", nil)
	}
	return ids, nil
}

func (m *MockClient) ListServiceInstances(ctx context.Context, bkBizID int64, moduleIDs []int64) ([]ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallError != nil {
		return nil, m.CallError
	}
	var instances []ServiceInstance
	for _, moduleID := range moduleIDs {
		instances = append(instances, m.ServiceInstances[moduleID]...)
	}
	return instances, nil
}

func (m *MockClient) WatchHostEvents(ctx context.Context, cursor string) ([]HostEvent, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallError != nil {
		return nil, cursor, m.CallError
	}
	next := cursor
	if len(m.Events) > 0 {
		next = m.Events[len(m.Events)-1].Cursor
	}
	return m.Events, next, nil
}

// RegisterHost 幂等注册：同一键重复调用返回相同 host_id
func (m *MockClient) RegisterHost(ctx context.Context, host HostInfo, idempotencyKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallError != nil {
		return 0, m.CallError
	}
	m.registerCalled++
	if id, ok := m.registered[idempotencyKey]; ok {
		return id, nil
	}
	id := host.BkHostID
	if id == 0 {
		m.nextRegisteredID++
		id = m.nextRegisteredID
	}
	m.registered[idempotencyKey] = id
	return id, nil
}

// RegisterCalled Register 被调用次数
func (m *MockClient) RegisterCalled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerCalled
}

// RegisteredCount 实际注册的主机数（幂等去重后）
func (m *MockClient) RegisteredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registered)
}
