package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// MockStore 内存存储，测试使用
type MockStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	GetError error
	PutError error
}

// NewMockStore 创建内存存储
func NewMockStore() *MockStore {
	return &MockStore{objects: make(map[string][]byte)}
}

// SetObject 预置对象
func (m *MockStore) SetObject(path string, content []byte) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = content
	return m
}

func (m *MockStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	content, ok := m.objects[path]
	if !ok {
		return nil, pkgErrors.ErrRecordNotFound
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MockStore) Put(ctx context.Context, path string, reader io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutError != nil {
		return m.PutError
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[path] = content
	return nil
}

func (m *MockStore) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}
