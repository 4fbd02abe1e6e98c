package model

import (
	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
)

const HostTableName = "node_man_host"

// Host 主机信息，首次从 CMDB 同步时创建
type Host struct {
	BkHostID  int64 `gorm:"column:bk_host_id;primaryKey" json:"bk_host_id"`
	BkBizID   int64 `gorm:"column:bk_biz_id;not null;index" json:"bk_biz_id"`
	BkCloudID int64 `gorm:"column:bk_cloud_id;not null;index" json:"bk_cloud_id"`

	InnerIP   string `gorm:"column:inner_ip;size:45;index" json:"inner_ip"`
	InnerIPv6 string `gorm:"column:inner_ipv6;size:45;default:''" json:"inner_ipv6"`
	OuterIP   string `gorm:"column:outer_ip;size:45;default:''" json:"outer_ip"`
	OuterIPv6 string `gorm:"column:outer_ipv6;size:45;default:''" json:"outer_ipv6"`
	LoginIP   string `gorm:"column:login_ip;size:45;default:''" json:"login_ip"`
	DataIP    string `gorm:"column:data_ip;size:45;default:''" json:"data_ip"`

	// os_type / cpu_arch 一经写入不再变更
	OsType   string `gorm:"column:os_type;size:16;not null;default:LINUX;index" json:"os_type"`
	CpuArch  string `gorm:"column:cpu_arch;size:16;not null;default:x86_64" json:"cpu_arch"`
	NodeType string `gorm:"column:node_type;size:16;not null;index" json:"node_type"` // AGENT/PAGENT/PROXY
	Version  string `gorm:"column:version;size:45;default:''" json:"version"`         // 当前 Agent 版本，安装成功后回写

	IsManual bool `gorm:"column:is_manual;not null;default:false" json:"is_manual"`

	InstallChannelID *int64 `gorm:"column:install_channel_id" json:"install_channel_id"`
	ApID             *int64 `gorm:"column:ap_id;index" json:"ap_id"`

	ExtraData datatypes.JSONMap `gorm:"column:extra_data;type:json" json:"extra_data"`

	BaseModel
	SoftDelete
}

// TableName 指定表名
func (Host) TableName() string { return HostTableName }

// AnyInnerIP 优先取 IPv4 内网地址
func (h *Host) AnyInnerIP() string {
	if h.InnerIP != "" {
		return h.InnerIP
	}
	return h.InnerIPv6
}

// AnyOuterIP 优先取 IPv4 外网地址
func (h *Host) AnyOuterIP() string {
	if h.OuterIP != "" {
		return h.OuterIP
	}
	return h.OuterIPv6
}

// AgentConfigOsKey AIX 与 Linux 共用 Agent 配置
func (h *Host) AgentConfigOsKey() string {
	if h.OsType == constants.OsTypeAix {
		return "linux"
	}
	return constants.Lower(h.OsType)
}

// ExtraBool 读取 extra_data 中的布尔标记
func (h *Host) ExtraBool(key string) bool {
	if h.ExtraData == nil {
		return false
	}
	v, ok := h.ExtraData[key].(bool)
	return ok && v
}

// ExtraInt 读取 extra_data 中的整数，缺省返回 def
func (h *Host) ExtraInt(key string, def int) int {
	if h.ExtraData == nil {
		return def
	}
	switch v := h.ExtraData[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}

const IdentityDataTableName = "node_man_identity_data"

// IdentityData 主机认证信息，密码/密钥加密落库，超过保留期由周期任务清除
type IdentityData struct {
	BkHostID int64  `gorm:"column:bk_host_id;primaryKey" json:"bk_host_id"`
	AuthType string `gorm:"column:auth_type;size:45;not null;default:PASSWORD" json:"auth_type"`
	Account  string `gorm:"column:account;size:45;default:''" json:"account"`
	Port     int    `gorm:"column:port;default:22" json:"port"`

	// 仅写字段，接口不回读
	Password string `gorm:"column:password;type:text" json:"-"`
	Key      string `gorm:"column:key;type:text" json:"-"`

	ExtraData datatypes.JSONMap `gorm:"column:extra_data;type:json" json:"extra_data"`

	// Retention 认证资料保留秒数，过期即清除
	Retention int64 `gorm:"column:retention;not null;default:86400" json:"retention"`

	BaseModel
}

// TableName 指定表名
func (IdentityData) TableName() string { return IdentityDataTableName }
