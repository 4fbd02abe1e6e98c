package model

import (
	"gorm.io/datatypes"
)

const SubscriptionTableName = "node_man_subscription"

// Subscription 订阅：将一组目标范围绑定到有序的步骤列表上的声明式意图
type Subscription struct {
	Name string `gorm:"column:name;size:64;default:''" json:"name"`

	// 一次性订阅绑定单业务；策略订阅使用 bk_biz_scope 表达多业务范围
	BkBizID    *int64         `gorm:"column:bk_biz_id;index" json:"bk_biz_id"`
	BkBizScope datatypes.JSON `gorm:"column:bk_biz_scope;type:json" json:"bk_biz_scope"`

	ObjectType string         `gorm:"column:object_type;size:20;not null;index" json:"object_type"` // HOST/SERVICE
	NodeType   string         `gorm:"column:node_type;size:20;not null;index" json:"node_type"`     // TOPO/INSTANCE/SERVICE_TEMPLATE/SET_TEMPLATE
	Nodes      datatypes.JSON `gorm:"column:nodes;type:json" json:"nodes"`

	FromSystem string `gorm:"column:from_system;size:30;default:''" json:"from_system"`
	Creator    string `gorm:"column:creator;size:64;index" json:"creator"`
	Enable     bool   `gorm:"column:enable;not null;default:true;index" json:"enable"`
	IsMain     bool   `gorm:"column:is_main;not null;default:false;index" json:"is_main"`
	Category   string `gorm:"column:category;size:32;default:'';index" json:"category"` // policy/once/debug
	PluginName string `gorm:"column:plugin_name;size:64;default:''" json:"plugin_name"`

	BaseModel
	SoftDelete

	// Relations
	Steps []*SubscriptionStep `gorm:"foreignKey:SubscriptionID" json:"steps,omitempty"`
}

// TableName 指定表名
func (Subscription) TableName() string { return SubscriptionTableName }

const SubscriptionStepTableName = "node_man_subscription_step"

// SubscriptionStep 订阅步骤，index 决定执行次序，step_id 是实例记录中的关联键
type SubscriptionStep struct {
	SubscriptionID int64  `gorm:"column:subscription_id;not null;index;uniqueIndex:uk_sub_index,priority:1;uniqueIndex:uk_sub_step,priority:1" json:"subscription_id"`
	Index          int    `gorm:"column:index;not null;default:0;uniqueIndex:uk_sub_index,priority:2" json:"index"`
	StepID         string `gorm:"column:step_id;size:64;not null;uniqueIndex:uk_sub_step,priority:2" json:"step_id"`
	Type           string `gorm:"column:type;size:20;not null" json:"type"` // AGENT/PROXY/PLUGIN

	Config datatypes.JSONMap `gorm:"column:config;type:json" json:"config"`
	Params datatypes.JSONMap `gorm:"column:params;type:json" json:"params"`

	BaseModel
}

// TableName 指定表名
func (SubscriptionStep) TableName() string { return SubscriptionStepTableName }

const SubscriptionTaskTableName = "node_man_subscription_task"

// SubscriptionTask 订阅执行任务，is_ready 置位后不再变更
type SubscriptionTask struct {
	SubscriptionID int64 `gorm:"column:subscription_id;not null;index" json:"subscription_id"`

	// Scope 任务创建时冻结的范围快照
	Scope datatypes.JSON `gorm:"column:scope;type:json" json:"scope"`
	// Actions 形如 {"instance_id": {"step_id": "INSTALL"}}
	Actions datatypes.JSON `gorm:"column:actions;type:json" json:"actions"`

	IsReady       bool   `gorm:"column:is_ready;not null;default:false" json:"is_ready"`
	IsAutoTrigger bool   `gorm:"column:is_auto_trigger;not null;default:false" json:"is_auto_trigger"`
	PipelineID    string `gorm:"column:pipeline_id;size:50;default:'';index" json:"pipeline_id"`
	ErrMsg        string `gorm:"column:err_msg;type:text" json:"err_msg"`

	BaseModel
}

// TableName 指定表名
func (SubscriptionTask) TableName() string { return SubscriptionTaskTableName }
