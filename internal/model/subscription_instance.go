package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

const SubscriptionInstanceRecordTableName = "node_man_subscription_instance_record"

// InstanceStep 实例记录中的单个步骤执行信息
type InstanceStep struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Action     string                 `json:"action"`
	PipelineID string                 `json:"pipeline_id"`
	ExtraInfo  map[string]interface{} `json:"extra_info,omitempty"`
}

// SubscriptionInstanceRecord 订阅任务的实例执行记录
// 同一 (subscription_id, instance_id) 至多有一条 is_latest=true 的记录，旧记录仅被取代不删除
type SubscriptionInstanceRecord struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TaskID         int64  `gorm:"column:task_id;not null;index" json:"task_id"`
	SubscriptionID int64  `gorm:"column:subscription_id;not null;index" json:"subscription_id"`
	InstanceID     string `gorm:"column:instance_id;size:50;not null;index" json:"instance_id"`

	// InstanceInfo 任务创建时的实例快照
	InstanceInfo datatypes.JSON `gorm:"column:instance_info;type:json" json:"instance_info"`
	// Steps 有序步骤信息，次序与订阅步骤 index 一致
	Steps datatypes.JSON `gorm:"column:steps;type:json" json:"steps"`

	PipelineID string `gorm:"column:pipeline_id;size:50;default:'';index" json:"pipeline_id"`
	Status     string `gorm:"column:status;size:45;not null;default:PENDING" json:"status"`

	// NeedClean 新装场景需要在完成后清理安装凭据
	NeedClean bool `gorm:"column:need_clean;not null;default:false" json:"need_clean"`
	IsLatest  bool `gorm:"column:is_latest;not null;default:true;index" json:"is_latest"`

	CreateTime time.Time `gorm:"column:create_time;not null;autoCreateTime;index" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time;not null;autoUpdateTime;index" json:"update_time"`
}

// TableName 指定表名
func (SubscriptionInstanceRecord) TableName() string { return SubscriptionInstanceRecordTableName }

// StepList 解析步骤信息
func (r *SubscriptionInstanceRecord) StepList() []InstanceStep {
	var steps []InstanceStep
	if len(r.Steps) > 0 {
		_ = json.Unmarshal(r.Steps, &steps)
	}
	return steps
}

// SetStepList 序列化并写回步骤信息
func (r *SubscriptionInstanceRecord) SetStepList(steps []InstanceStep) error {
	raw, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	r.Steps = raw
	return nil
}

// StepData 根据 step_id 取步骤数据
func (r *SubscriptionInstanceRecord) StepData(stepID string) (InstanceStep, error) {
	for _, step := range r.StepList() {
		if step.ID == stepID {
			return step, nil
		}
	}
	return InstanceStep{}, pkgErrors.WrapKind(pkgErrors.KindValidation, "步骤ID在该订阅配置中不存在", nil)
}

const SubscriptionInstanceStatusDetailTableName = "node_man_subscription_instance_status_detail"

// SubscriptionInstanceStatusDetail 实例状态详情，同一次执行内按原子顺序追加写
// node_id 即流水线原子 ID；同 (record, node_id) 最新一行为权威状态
type SubscriptionInstanceStatusDetail struct {
	ID                           int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SubscriptionInstanceRecordID int64  `gorm:"column:subscription_instance_record_id;not null;index" json:"subscription_instance_record_id"`
	NodeID                       string `gorm:"column:node_id;size:50;default:'';index" json:"node_id"`
	Status                       string `gorm:"column:status;size:45;not null;default:RUNNING" json:"status"`
	Log                          string `gorm:"column:log;type:text" json:"log"`

	CreateTime time.Time  `gorm:"column:create_time;not null;index" json:"create_time"`
	UpdateTime *time.Time `gorm:"column:update_time;index" json:"update_time"`
}

// TableName 指定表名
func (SubscriptionInstanceStatusDetail) TableName() string {
	return SubscriptionInstanceStatusDetailTableName
}

const JobSubscriptionInstanceMapTableName = "node_man_job_subscription_instance_map"

// JobSubscriptionInstanceMap 作业平台任务与订阅实例的映射
type JobSubscriptionInstanceMap struct {
	ID                      int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobInstanceID           int64          `gorm:"column:job_instance_id;not null;uniqueIndex:uk_job_node,priority:1" json:"job_instance_id"`
	SubscriptionInstanceIDs datatypes.JSON `gorm:"column:subscription_instance_ids;type:json" json:"subscription_instance_ids"`
	NodeID                  string         `gorm:"column:node_id;size:32;not null;uniqueIndex:uk_job_node,priority:2" json:"node_id"`
	Status                  string         `gorm:"column:status;size:45;not null;default:PENDING" json:"status"`
}

// TableName 指定表名
func (JobSubscriptionInstanceMap) TableName() string { return JobSubscriptionInstanceMapTableName }
