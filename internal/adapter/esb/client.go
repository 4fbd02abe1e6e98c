package esb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/config"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/logger"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/pkg/metrics"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// 蓝鲸网关返回码
const (
	codeRateLimited = 1599100 // 限流
	codeAuthFailed  = 1302403 // 应用认证失败
)

// Client 蓝鲸 ESB 网关客户端，CMDB/作业平台/GSE 共用
type Client struct {
	endpoint  string
	appCode   string
	appSecret string
	http      *http.Client
}

// response 网关统一响应结构
type response struct {
	Result  bool            `json:"result"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// NewClient 创建网关客户端
func NewClient(cfg config.EsbConfig) *Client {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		appCode:   cfg.AppCode,
		appSecret: cfg.AppSecret,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Call 调用网关接口并解析 data 到 out
func (c *Client) Call(ctx context.Context, path string, params interface{}, out interface{}) error {
	body := map[string]interface{}{
		"bk_app_code":   c.appCode,
		"bk_app_secret": c.appSecret,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return pkgErrors.Wrap(pkgErrors.CodeValidationError, "序列化请求参数失败", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return pkgErrors.Wrap(pkgErrors.CodeValidationError, "请求参数必须是对象", err)
		}
	}

	raw, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "构造请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return pkgErrors.WrapKind(pkgErrors.KindTransientNetwork, "请求网关超时", err)
		}
		return pkgErrors.WrapKind(pkgErrors.KindTransientNetwork, "请求网关失败", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgErrors.WrapKind(pkgErrors.KindTransientNetwork, "读取网关响应失败", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return pkgErrors.WrapKind(pkgErrors.KindRateLimited, "网关限流", nil)
	case resp.StatusCode >= 500:
		return pkgErrors.WrapKind(pkgErrors.KindServiceUnavailable,
			fmt.Sprintf("网关异常: status=%d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return pkgErrors.New(pkgErrors.CodeInternalError,
			fmt.Sprintf("网关调用失败: status=%d path=%s", resp.StatusCode, path))
	}

	var envelope response
	if err := json.Unmarshal(data, &envelope); err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "解析网关响应失败", err)
	}
	if !envelope.Result {
		if envelope.Code == codeRateLimited {
			return pkgErrors.WrapKind(pkgErrors.KindRateLimited, envelope.Message, nil)
		}
		if envelope.Code == codeAuthFailed {
			metrics.UserTokenVerifyFailedTotal.
				WithLabelValues(metrics.Hostname(), "bk_app", strconv.Itoa(envelope.Code)).Inc()
		}
		logger.Warn("网关返回业务错误",
			zap.String("path", path), zap.Int("code", envelope.Code), zap.String("message", envelope.Message))
		return pkgErrors.New(pkgErrors.CodeInternalError,
			fmt.Sprintf("网关返回业务错误: code=%d message=%s", envelope.Code, envelope.Message))
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return pkgErrors.Wrap(pkgErrors.CodeInternalError, "解析网关响应数据失败", err)
		}
	}
	return nil
}
