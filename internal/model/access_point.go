package model

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
)

const AccessPointTableName = "node_man_access_point"

// GseServer 接入点的单个 GSE 服务器
type GseServer struct {
	InnerIP string `json:"inner_ip"`
	OuterIP string `json:"outer_ip"`
}

// AgentConfig 各操作系统的 Agent 安装配置
type AgentConfig struct {
	SetupPath string `json:"setup_path"`
	DataPath  string `json:"data_path"`
	RunPath   string `json:"run_path,omitempty"`
	LogPath   string `json:"log_path"`
	DataIpc   string `json:"dataipc,omitempty"`
}

// AccessPoint 接入点，一组 GSE task/data/btfile 服务器及端口、路径配置
type AccessPoint struct {
	Name     string `gorm:"column:name;size:255;not null" json:"name"`
	ApType   string `gorm:"column:ap_type;size:255;default:user" json:"ap_type"`
	RegionID string `gorm:"column:region_id;size:255;default:''" json:"region_id"`
	CityID   string `gorm:"column:city_id;size:255;default:''" json:"city_id"`

	BtFileServer datatypes.JSON `gorm:"column:btfileserver;type:json" json:"btfileserver"`
	DataServer   datatypes.JSON `gorm:"column:dataserver;type:json" json:"dataserver"`
	TaskServer   datatypes.JSON `gorm:"column:taskserver;type:json" json:"taskserver"`

	PackageInnerURL  string `gorm:"column:package_inner_url;type:text" json:"package_inner_url"`
	PackageOuterURL  string `gorm:"column:package_outer_url;type:text" json:"package_outer_url"`
	NginxPath        string `gorm:"column:nginx_path;type:text" json:"nginx_path"`
	OuterCallbackURL string `gorm:"column:outer_callback_url;size:128;default:''" json:"outer_callback_url"`

	// AgentConfigMap 形如 {"linux": {...}, "windows": {...}}
	AgentConfigMap datatypes.JSON `gorm:"column:agent_config;type:json" json:"agent_config"`
	PortConfig     datatypes.JSON `gorm:"column:port_config;type:json" json:"port_config"`

	Status      string `gorm:"column:status;size:255;default:''" json:"status"`
	Description string `gorm:"column:description;type:text" json:"description"`
	IsEnabled   bool   `gorm:"column:is_enabled;not null;default:true" json:"is_enabled"`
	// 每套部署有且仅有一个默认接入点，不可删除
	IsDefault bool `gorm:"column:is_default;not null;default:false" json:"is_default"`

	BaseModel
}

// TableName 指定表名
func (AccessPoint) TableName() string { return AccessPointTableName }

// Servers 解析 JSON 字段为服务器列表
func Servers(raw datatypes.JSON) []GseServer {
	var servers []GseServer
	if len(raw) == 0 {
		return servers
	}
	_ = json.Unmarshal(raw, &servers)
	return servers
}

// AgentConfigFor 取指定操作系统的 Agent 配置
func (ap *AccessPoint) AgentConfigFor(osKey string) AgentConfig {
	configs := map[string]AgentConfig{}
	if len(ap.AgentConfigMap) > 0 {
		_ = json.Unmarshal(ap.AgentConfigMap, &configs)
	}
	return configs[osKey]
}

// Port 读取端口配置，缺省取 GSE 默认端口
func (ap *AccessPoint) Port(name string) int {
	ports := map[string]int{}
	if len(ap.PortConfig) > 0 {
		_ = json.Unmarshal(ap.PortConfig, &ports)
	}
	if port, ok := ports[name]; ok {
		return port
	}
	return constants.GsePortDefault[name]
}

const CloudTableName = "node_man_cloud"

// Cloud 管控区域信息
type Cloud struct {
	BkCloudID   int64  `gorm:"column:bk_cloud_id;primaryKey" json:"bk_cloud_id"`
	BkCloudName string `gorm:"column:bk_cloud_name;size:45;not null" json:"bk_cloud_name"`
	Isp         string `gorm:"column:isp;size:45;default:''" json:"isp"`
	ApID        *int64 `gorm:"column:ap_id" json:"ap_id"`
	IsVisible   bool   `gorm:"column:is_visible;not null;default:true" json:"is_visible"`

	BaseModel
	SoftDelete
}

// TableName 指定表名
func (Cloud) TableName() string { return CloudTableName }

const InstallChannelTableName = "node_man_install_channel"

// InstallChannel 安装通道，jump_servers 作跳板登录目标机器，upstream_servers 作为渲染配置的上游
type InstallChannel struct {
	Name      string `gorm:"column:name;size:45;not null" json:"name"`
	BkCloudID int64  `gorm:"column:bk_cloud_id;not null;index" json:"bk_cloud_id"`

	// JumpServers 形如 ["127.0.0.1", "127.0.0.2"]，非空
	JumpServers datatypes.JSON `gorm:"column:jump_servers;type:json" json:"jump_servers"`
	// UpstreamServers 形如 {"taskserver": [...], "btfileserver": [...], "dataserver": [...]}，各列表非空
	UpstreamServers datatypes.JSON `gorm:"column:upstream_servers;type:json" json:"upstream_servers"`

	Hidden bool `gorm:"column:hidden;not null;default:false" json:"hidden"`

	BaseModel
}

// TableName 指定表名
func (InstallChannel) TableName() string { return InstallChannelTableName }

// JumpServerList 解析跳板机列表
func (c *InstallChannel) JumpServerList() []string {
	var servers []string
	if len(c.JumpServers) > 0 {
		_ = json.Unmarshal(c.JumpServers, &servers)
	}
	return servers
}

// UpstreamServerMap 解析上游节点列表
func (c *InstallChannel) UpstreamServerMap() map[string][]string {
	servers := map[string][]string{}
	if len(c.UpstreamServers) > 0 {
		_ = json.Unmarshal(c.UpstreamServers, &servers)
	}
	return servers
}
