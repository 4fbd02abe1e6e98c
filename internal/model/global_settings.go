package model

import (
	"encoding/json"

	"gorm.io/datatypes"
)

const GlobalSettingsTableName = "node_man_global_settings"

// GlobalSettings 全局动态配置，JSON 取值
type GlobalSettings struct {
	Key   string         `gorm:"column:key;size:255;primaryKey" json:"key"`
	VJson datatypes.JSON `gorm:"column:v_json;type:json" json:"v_json"`
}

// TableName 指定表名
func (GlobalSettings) TableName() string { return GlobalSettingsTableName }

// UnmarshalInto 解析配置值
func (s *GlobalSettings) UnmarshalInto(out interface{}) error {
	if len(s.VJson) == 0 {
		return nil
	}
	return json.Unmarshal(s.VJson, out)
}

// CleanSubscriptionDataMap 订阅数据清理配置
type CleanSubscriptionDataMap struct {
	EnableCleanSubscriptionData *bool    `json:"enable_clean_subscription_data,omitempty"`
	Limit                       int      `json:"limit,omitempty"`
	AliveDays                   int      `json:"alive_days,omitempty"`
	SubInsDetailSaveLogStatus   []string `json:"sub_ins_detail_save_log_status,omitempty"`
	JobMapCleanStatus           []string `json:"job_map_clean_status,omitempty"`
}

// InstallDefaultValues 按操作系统区分的安装默认值，合并序：os_specific ← COMMON ← 内置
type InstallDefaultValues map[string]map[string]interface{}
