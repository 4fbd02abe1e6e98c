package errors

import "fmt"

// 错误码
const (
	CodeSuccess         = 200
	CodePartialSuccess  = 206 // 部分成功
	CodeBadRequest      = 400
	CodeNotFound        = 404
	CodeConflict        = 409
	CodeInternalError   = 500
	CodeDatabaseError   = 501
	CodeValidationError = 503
)

// Kind 错误类别，决定重试与上报行为
type Kind string

const (
	KindValidation          Kind = "VALIDATION"           // 参数/模板/配置非法，不重试
	KindScopeUnresolvable   Kind = "SCOPE_UNRESOLVABLE"   // CMDB 中已不存在引用的节点，任务终态失败
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE" // 无可用接入点/Proxy/安装通道
	KindTransientNetwork    Kind = "TRANSIENT_NETWORK"    // 网络抖动，可重试
	KindRateLimited         Kind = "RATE_LIMITED"         // 外部系统限流，可重试并触发降速
	KindServiceUnavailable  Kind = "SERVICE_UNAVAILABLE"  // 外部系统不可用，可重试
	KindActivityTimeout     Kind = "ACTIVITY_TIMEOUT"     // 原子执行超时，按原子重试策略处理
	KindCancelled           Kind = "CANCELLED"            // 终止，区别于失败
	KindInternalInvariant   Kind = "INTERNAL_INVARIANT"   // 内部不变量被破坏，计入告警指标
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New 创建新错误
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewKind 创建带类别的错误
func NewKind(kind Kind, message string) *AppError {
	return &AppError{Code: codeOfKind(kind), Kind: kind, Message: message}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WrapKind 包装错误并标记类别
func WrapKind(kind Kind, message string, err error) *AppError {
	return &AppError{Code: codeOfKind(kind), Kind: kind, Message: message, Err: err}
}

func codeOfKind(kind Kind) int {
	switch kind {
	case KindValidation:
		return CodeValidationError
	case KindScopeUnresolvable, KindUpstreamUnavailable:
		return CodeNotFound
	default:
		return CodeInternalError
	}
}

// KindOf 提取错误类别，普通错误视为内部错误
func KindOf(err error) Kind {
	if appErr, ok := err.(*AppError); ok && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternalInvariant
}

// IsRetryable 判断错误是否可由通用重试装饰器重试
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindRateLimited, KindServiceUnavailable:
		return true
	}
	return false
}

// 预定义错误
var (
	ErrBadRequest     = New(CodeBadRequest, "请求参数错误")
	ErrNotFound       = New(CodeNotFound, "资源不存在")
	ErrInternalError  = New(CodeInternalError, "内部服务器错误")
	ErrDatabaseError  = New(CodeDatabaseError, "数据库错误")
	ErrRecordNotFound = New(CodeNotFound, "记录不存在")
	ErrRecordExists   = New(CodeConflict, "记录已存在")

	// 具体业务错误
	ErrSubscriptionNotFound  = New(CodeNotFound, "订阅不存在")
	ErrTaskNotFound          = New(CodeNotFound, "订阅任务不存在")
	ErrHostNotFound          = New(CodeNotFound, "主机信息不存在")
	ErrApNotFound            = New(CodeNotFound, "接入点不存在")
	ErrInstallChannelMissing = New(CodeNotFound, "安装通道不存在")
	ErrAliveProxyNotExists   = NewKind(KindUpstreamUnavailable, "主机所属管控区域不存在可用Proxy")
	ErrWrongNodeType         = NewKind(KindValidation, "主机节点类型与作业类型不匹配")
)
