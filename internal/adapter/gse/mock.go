package gse

import (
	"context"
	"sync"
)

// MockClient 模拟 GSE 客户端
type MockClient struct {
	mu sync.Mutex

	// 可控行为
	Statuses     map[string]AgentStatus // HostKey -> 状态
	finalStatus  string                 // 进程操作最终状态
	runningPolls int                    // 返回 RUNNING 的轮询次数
	callError    error

	registered    map[string]string // 幂等键 -> proc_id
	operateCalled int
	resultCalled  map[string]int
	nextTaskID    int
}

// NewMockClient 创建模拟客户端
func NewMockClient() *MockClient {
	return &MockClient{
		Statuses:     make(map[string]AgentStatus),
		finalStatus:  "SUCCESS",
		runningPolls: 1,
		registered:   make(map[string]string),
		resultCalled: make(map[string]int),
	}
}

// === 配置方法 ===

func (m *MockClient) SetAgentAlive(host AgentHost, alive bool, version string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[HostKey(host)] = AgentStatus{Alive: alive, Version: version}
	return m
}

func (m *MockClient) SetFinalStatus(status string) *MockClient {
	m.finalStatus = status
	return m
}

func (m *MockClient) SetRunningPolls(n int) *MockClient {
	m.runningPolls = n
	return m
}

func (m *MockClient) SetCallError(err error) *MockClient {
	m.callError = err
	return m
}

// === 接口实现 ===

func (m *MockClient) GetAgentStatus(ctx context.Context, hosts []AgentHost) (map[string]AgentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callError != nil {
		return nil, m.callError
	}
	statuses := make(map[string]AgentStatus, len(hosts))
	for _, host := range hosts {
		statuses[HostKey(host)] = m.Statuses[HostKey(host)]
	}
	return statuses, nil
}

// RegisterProc 幂等注册：同一键重复调用返回相同 proc_id
func (m *MockClient) RegisterProc(ctx context.Context, host AgentHost, proc ProcInfo, idempotencyKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callError != nil {
		return "", m.callError
	}
	if procID, ok := m.registered[idempotencyKey]; ok {
		return procID, nil
	}
	procID := proc.Namespace + ":" + proc.Name + ":" + HostKey(host)
	m.registered[idempotencyKey] = procID
	return procID, nil
}

func (m *MockClient) OperateProc(ctx context.Context, procID string, op int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callError != nil {
		return "", m.callError
	}
	m.operateCalled++
	m.nextTaskID++
	return "gse-task-" + procID, nil
}

func (m *MockClient) GetProcOperateResult(ctx context.Context, taskID string) (ProcOperateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callError != nil {
		return ProcOperateResult{}, m.callError
	}
	m.resultCalled[taskID]++
	if m.resultCalled[taskID] <= m.runningPolls {
		return ProcOperateResult{Status: "RUNNING"}, nil
	}
	return ProcOperateResult{Status: m.finalStatus}, nil
}

// === 验证方法 ===

// RegisteredCount 实际注册的进程数（幂等去重后）
func (m *MockClient) RegisteredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registered)
}

// OperateCalled OperateProc 被调用次数
func (m *MockClient) OperateCalled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operateCalled
}
