package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/config"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// bkRepoStore 蓝鲸制品库存储
type bkRepoStore struct {
	endpoint string
	project  string
	bucket   string
	username string
	password string
	http     *http.Client
}

// NewBkRepoStore 创建制品库存储
func NewBkRepoStore(cfg config.StorageConfig) Store {
	return &bkRepoStore{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		project:  cfg.Project,
		bucket:   cfg.Bucket,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: 5 * time.Minute},
	}
}

func (s *bkRepoStore) objectURL(path string) string {
	return fmt.Sprintf("%s/generic/%s/%s/%s",
		s.endpoint, s.project, s.bucket, url.PathEscape(strings.TrimPrefix(path, "/")))
}

// Get 读取对象
func (s *bkRepoStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(path), nil)
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeInternalError, "构造制品库请求失败", err)
	}
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, pkgErrors.WrapKind(pkgErrors.KindTransientNetwork, "请求制品库失败", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, pkgErrors.ErrRecordNotFound
	default:
		resp.Body.Close()
		return nil, pkgErrors.WrapKind(pkgErrors.KindServiceUnavailable,
			fmt.Sprintf("制品库异常: status=%d", resp.StatusCode), nil)
	}
}

// Put 写入对象
func (s *bkRepoStore) Put(ctx context.Context, path string, reader io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(path), reader)
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "构造制品库请求失败", err)
	}
	req.SetBasicAuth(s.username, s.password)
	req.Header.Set("X-BKREPO-OVERWRITE", "true")

	resp, err := s.http.Do(req)
	if err != nil {
		return pkgErrors.WrapKind(pkgErrors.KindTransientNetwork, "请求制品库失败", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return pkgErrors.WrapKind(pkgErrors.KindServiceUnavailable,
			fmt.Sprintf("上传制品失败: status=%d", resp.StatusCode), nil)
	}
	return nil
}

// Exists 判断对象是否存在
func (s *bkRepoStore) Exists(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(path), nil)
	if err != nil {
		return false, pkgErrors.Wrap(pkgErrors.CodeInternalError, "构造制品库请求失败", err)
	}
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.http.Do(req)
	if err != nil {
		return false, pkgErrors.WrapKind(pkgErrors.KindTransientNetwork, "请求制品库失败", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}
