package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// fileStore 本地文件系统存储，单机部署与测试使用
type fileStore struct {
	basePath string
}

// NewFileStore 创建本地文件存储
func NewFileStore(basePath string) Store {
	return &fileStore{basePath: basePath}
}

func (s *fileStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(s.basePath, cleaned)
	// 防止越出根目录
	if !strings.HasPrefix(full, filepath.Clean(s.basePath)+string(os.PathSeparator)) {
		return "", pkgErrors.New(pkgErrors.CodeValidationError, "非法的存储路径")
	}
	return full, nil
}

// Get 读取对象
func (s *fileStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgErrors.ErrRecordNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeInternalError, "读取存储对象失败", err)
	}
	return file, nil
}

// Put 写入对象
func (s *fileStore) Put(ctx context.Context, path string, reader io.Reader) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "创建存储目录失败", err)
	}
	file, err := os.Create(full)
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "创建存储对象失败", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, reader); err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "写入存储对象失败", err)
	}
	return nil
}

// Exists 判断对象是否存在
func (s *fileStore) Exists(ctx context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, pkgErrors.Wrap(pkgErrors.CodeInternalError, "查询存储对象失败", err)
	}
	return true, nil
}
