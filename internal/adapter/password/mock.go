package password

import (
	"context"
	"sync"

	"github.com/awnumar/memguard"
)

// MockProvider 模拟密码提供方
type MockProvider struct {
	mu        sync.Mutex
	passwords map[int64]string
	callError error
	called    int
}

// NewMockProvider 创建模拟提供方
func NewMockProvider() *MockProvider {
	return &MockProvider{passwords: make(map[int64]string)}
}

// SetPassword 预置主机密码
func (m *MockProvider) SetPassword(bkHostID int64, password string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[bkHostID] = password
	return m
}

// SetCallError 设置统一错误
func (m *MockProvider) SetCallError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callError = err
	return m
}

func (m *MockProvider) GetPasswords(ctx context.Context, requests []Request) (map[int64]*memguard.LockedBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called++
	if m.callError != nil {
		return nil, m.callError
	}
	result := make(map[int64]*memguard.LockedBuffer)
	for _, request := range requests {
		if password, ok := m.passwords[request.BkHostID]; ok {
			result[request.BkHostID] = memguard.NewBufferFromBytes([]byte(password))
		}
	}
	return result, nil
}

// Called GetPasswords 被调用次数
func (m *MockProvider) Called() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.called
}
