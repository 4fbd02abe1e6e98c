package jobplatform

import (
	"context"
	"sync"
	"time"
)

// MockClient 模拟作业平台客户端
type MockClient struct {
	mu sync.Mutex

	// 可控行为
	finalStatus  string        // 最终状态: SUCCEEDED / FAILED / RUNNING
	pushError    error         // PushFile 是否返回错误
	runError     error         // RunScript 是否返回错误
	statusError  error         // GetJobStatus 是否返回错误
	statusDelay  time.Duration // 状态轮询延迟
	runningPolls int           // 返回 RUNNING 的轮询次数，之后进入最终状态

	pushCalled   int
	runCalled    int
	statusCalled map[int64]int // 每个作业的轮询次数
	logs         map[int64]string
	nextJobID    int64
}

// NewMockClient 创建模拟客户端
func NewMockClient() *MockClient {
	return &MockClient{
		finalStatus:  JobStatusSucceeded,
		runningPolls: 1,
		statusCalled: make(map[int64]int),
		logs:         make(map[int64]string),
		nextJobID:    10000,
	}
}

// === 配置方法 ===

func (m *MockClient) SetFinalStatus(status string) *MockClient {
	m.finalStatus = status
	return m
}

func (m *MockClient) SetPushError(err error) *MockClient {
	m.pushError = err
	return m
}

func (m *MockClient) SetRunError(err error) *MockClient {
	m.runError = err
	return m
}

func (m *MockClient) SetStatusError(err error) *MockClient {
	m.statusError = err
	return m
}

func (m *MockClient) SetStatusDelay(d time.Duration) *MockClient {
	m.statusDelay = d
	return m
}

func (m *MockClient) SetRunningPolls(n int) *MockClient {
	m.runningPolls = n
	return m
}

func (m *MockClient) SetJobLog(jobInstanceID int64, log string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[jobInstanceID] = log
	return m
}

// === 接口实现 ===

func (m *MockClient) PushFile(ctx context.Context, hosts []TargetHost, files []FileSource, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushCalled++
	if m.pushError != nil {
		return 0, m.pushError
	}
	m.nextJobID++
	return m.nextJobID, nil
}

func (m *MockClient) RunScript(ctx context.Context, hosts []TargetHost, script string, params string, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCalled++
	if m.runError != nil {
		return 0, m.runError
	}
	m.nextJobID++
	return m.nextJobID, nil
}

func (m *MockClient) GetJobStatus(ctx context.Context, jobInstanceID int64) (string, error) {
	if m.statusDelay > 0 {
		select {
		case <-time.After(m.statusDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusError != nil {
		return "", m.statusError
	}
	m.statusCalled[jobInstanceID]++
	if m.statusCalled[jobInstanceID] <= m.runningPolls {
		return JobStatusRunning, nil
	}
	return m.finalStatus, nil
}

func (m *MockClient) GetJobLog(ctx context.Context, jobInstanceID int64, host TargetHost) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log, ok := m.logs[jobInstanceID]; ok {
		return log, nil
	}
	return "mock job log", nil
}

// === 验证方法 ===

// PushCalled PushFile 被调用次数
func (m *MockClient) PushCalled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushCalled
}

// RunCalled RunScript 被调用次数
func (m *MockClient) RunCalled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCalled
}

// StatusCalled 指定作业的轮询次数
func (m *MockClient) StatusCalled(jobInstanceID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalled[jobInstanceID]
}
