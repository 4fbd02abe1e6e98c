package esb

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/retry"
)

// PublicKeyCache 网关公钥缓存，刷新失败时保留上一份可用值，绝不对外提供空钥
type PublicKeyCache struct {
	client *Client

	mu   sync.RWMutex
	keys map[string]string
}

// NewPublicKeyCache 创建公钥缓存
func NewPublicKeyCache(client *Client) *PublicKeyCache {
	return &PublicKeyCache{client: client, keys: map[string]string{}}
}

type publicKeyItem struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// Refresh 拉取 ESB 与 API 网关公钥，幂等读取，瞬时失败按默认策略重试
func (c *PublicKeyCache) Refresh(ctx context.Context) error {
	var items []publicKeyItem
	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		return c.client.Call(ctx, "/api/c/compapi/v2/esb/get_api_public_key/", map[string]interface{}{}, &items)
	})
	if err != nil {
		logger.Warn("公钥刷新失败，沿用上次结果", zap.Error(err))
		return err
	}
	fresh := make(map[string]string, len(items))
	for _, item := range items {
		if item.PublicKey != "" {
			fresh[item.Name] = item.PublicKey
		}
	}
	if len(fresh) == 0 {
		logger.Warn("公钥刷新返回空列表，沿用上次结果")
		return nil
	}
	c.mu.Lock()
	c.keys = fresh
	c.mu.Unlock()
	return nil
}

// Get 取指定名称的公钥
func (c *PublicKeyCache) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[name]
	return key, ok
}
