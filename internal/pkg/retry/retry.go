package retry

import (
	"context"
	"time"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// Policy 通用重试策略，外部客户端调用默认 3 次、1s 退避
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Filter 判断错误是否可重试，空则使用 pkgErrors.IsRetryable
	Filter func(error) bool
}

// DefaultPolicy 客户端默认策略
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: time.Second}
}

// Do 按策略执行 fn，不可重试错误与取消立即返回
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	filter := policy.Filter
	if filter == nil {
		filter = pkgErrors.IsRetryable
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !filter(err) || attempt == policy.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return pkgErrors.WrapKind(pkgErrors.KindCancelled, "重试被取消", ctx.Err())
		case <-time.After(policy.Backoff):
		}
	}
	return err
}
