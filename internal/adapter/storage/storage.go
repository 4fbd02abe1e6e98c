package storage

import (
	"context"
	"io"
)

// Store 制品存储接口，安装包与脚本按路径取用
type Store interface {
	// Get 读取对象，调用方负责 Close
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Put 写入对象
	Put(ctx context.Context, path string, reader io.Reader) error
	// Exists 判断对象是否存在
	Exists(ctx context.Context, path string) (bool, error)
}
