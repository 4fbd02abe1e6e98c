package dto

import "encoding/json"

// StepPayload 订阅步骤声明
type StepPayload struct {
	StepID string                 `json:"step_id" binding:"required"`
	Type   string                 `json:"type" binding:"required,oneof=AGENT PROXY PLUGIN"`
	Index  int                    `json:"index"`
	Config map[string]interface{} `json:"config"`
	Params map[string]interface{} `json:"params"`
}

// CreateSubscriptionRequest 创建订阅请求
type CreateSubscriptionRequest struct {
	Name       string          `json:"name"`
	BkBizID    *int64          `json:"bk_biz_id"`
	BkBizScope []int64         `json:"bk_biz_scope"`
	ObjectType string          `json:"object_type" binding:"required,oneof=HOST SERVICE"`
	NodeType   string          `json:"node_type" binding:"required,oneof=TOPO INSTANCE SERVICE_TEMPLATE SET_TEMPLATE"`
	Nodes      json.RawMessage `json:"nodes" binding:"required"`
	FromSystem string          `json:"from_system"`
	Category   string          `json:"category"`
	PluginName string          `json:"plugin_name"`
	Creator    string          `json:"creator"`
	Steps      []StepPayload   `json:"steps" binding:"required,min=1"`

	// RunImmediately 创建后立刻触发一次执行
	RunImmediately bool   `json:"run_immediately"`
	JobType        string `json:"job_type"`
}

// UpdateSubscriptionRequest 更新订阅请求
type UpdateSubscriptionRequest struct {
	Name   *string         `json:"name"`
	Enable *bool           `json:"enable"`
	Nodes  json.RawMessage `json:"nodes"`
	Steps  []StepPayload   `json:"steps"`
}

// RunSubscriptionRequest 触发订阅执行请求
type RunSubscriptionRequest struct {
	JobType string `json:"job_type"`
	// Actions 显式指定动作，形如 {"step_id": "INSTALL"}；为空时由规划器推导
	Actions map[string]string `json:"actions"`
}

// SubscriptionResponse 订阅响应
type SubscriptionResponse struct {
	SubscriptionID int64 `json:"subscription_id"`
	TaskID         int64 `json:"task_id,omitempty"`
	JobID          int64 `json:"job_id,omitempty"`
}

// RunResult 触发执行结果
type RunResult struct {
	SubscriptionID int64 `json:"subscription_id"`
	TaskID         int64 `json:"task_id"`
	JobID          int64 `json:"job_id"`
	InstanceCount  int   `json:"instance_count"`

	// ErrorHosts 规划阶段即失败的主机（如节点类型不匹配）
	ErrorHosts []ErrorHost `json:"error_hosts,omitempty"`
}

// ErrorHost 规划失败主机
type ErrorHost struct {
	BkHostID int64  `json:"bk_host_id"`
	IP       string `json:"ip"`
	Reason   string `json:"reason"`
}

// StepStatus 步骤执行状态
type StepStatus struct {
	StepID string   `json:"step_id"`
	Action string   `json:"action"`
	Status string   `json:"status"`
	Logs   []string `json:"logs"`
}

// InstanceStatus 实例执行状态
type InstanceStatus struct {
	InstanceID string       `json:"instance_id"`
	RecordID   int64        `json:"record_id"`
	Status     string       `json:"status"`
	Steps      []StepStatus `json:"steps"`
}

// TaskResult 任务执行结果
type TaskResult struct {
	TaskID           int64            `json:"task_id"`
	Aggregate        string           `json:"aggregate"`
	InstanceStatuses []InstanceStatus `json:"instance_statuses"`
}
