package model

import (
	"gorm.io/datatypes"
)

const JobTableName = "node_man_job"

// Job 面向操作者的一次运行，状态由其任务聚合推导
type Job struct {
	CreatedBy      string            `gorm:"column:created_by;size:45;default:''" json:"created_by"`
	JobType        string            `gorm:"column:job_type;size:45;not null" json:"job_type"`
	SubscriptionID int64             `gorm:"column:subscription_id;not null;index" json:"subscription_id"`
	TaskIDList     datatypes.JSON    `gorm:"column:task_id_list;type:json" json:"task_id_list"`
	Status         string            `gorm:"column:status;size:45;not null;default:PENDING" json:"status"`
	BkBizScope     datatypes.JSON    `gorm:"column:bk_biz_scope;type:json" json:"bk_biz_scope"`
	ErrorHosts     datatypes.JSON    `gorm:"column:error_hosts;type:json" json:"error_hosts"`
	Statistics     datatypes.JSONMap `gorm:"column:statistics;type:json" json:"statistics"`
	IsAutoTrigger  bool              `gorm:"column:is_auto_trigger;not null;default:false" json:"is_auto_trigger"`

	BaseModel
}

// TableName 指定表名
func (Job) TableName() string { return JobTableName }

const RequestTraceRecordTableName = "node_man_request_trace_record"

// RequestTraceRecord 请求追踪记录，按保留期由周期任务清理
type RequestTraceRecord struct {
	RequestID string         `gorm:"column:request_id;size:64;not null;index" json:"request_id"`
	View      string         `gorm:"column:view;size:128;default:''" json:"view"`
	AppCode   string         `gorm:"column:app_code;size:64;default:''" json:"app_code"`
	Detail    datatypes.JSON `gorm:"column:detail;type:json" json:"detail"`

	BaseModel
}

// TableName 指定表名
func (RequestTraceRecord) TableName() string { return RequestTraceRecordTableName }
