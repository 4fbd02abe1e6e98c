package constants

// DefaultCloudID 直连区域
const DefaultCloudID = 0

// DefaultAPID 未选择接入点时的占位值，取默认接入点
const DefaultAPID = -1

// OsType 操作系统类型
const (
	OsTypeLinux   = "LINUX"
	OsTypeWindows = "WINDOWS"
	OsTypeAix     = "AIX"
	OsTypeSolaris = "SOLARIS"
)

// CpuArch CPU 架构
const (
	CpuArchX86    = "x86"
	CpuArchX86_64 = "x86_64"
	CpuArchArm64  = "aarch64"
)

// NodeType 节点类型
const (
	NodeTypeAgent  = "AGENT"  // 直连 Agent
	NodeTypePagent = "PAGENT" // 非直连 Agent，经 Proxy 或安装通道管控
	NodeTypeProxy  = "PROXY"  // 管控区域代理
)

// AuthType 认证类型
const (
	AuthTypeKey      = "KEY"
	AuthTypePassword = "PASSWORD"
	AuthTypeManual   = "MANUAL"
	AuthTypeTjj      = "TJJ_PASSWORD"
)

// 路径分隔符
const (
	LinuxSep   = "/"
	WindowsSep = "\\"
)

// GseAgentRunMode gse_agent 运行模式
const (
	GseAgentRunModeAgent = "agent"
	GseAgentRunModeProxy = "proxy"
)

// RunEnv 部署版本，社区版不下发证书密码文件
const (
	RunEnvCE = "ce"
	RunEnvEE = "ee"
)

// GseCert 证书文件名
const (
	GseCertCA            = "gseca.crt"
	GseCertAgentCert     = "gse_agent.crt"
	GseCertAgentKey      = "gse_agent.key"
	GseCertServerCert    = "gse_server.crt"
	GseCertServerKey     = "gse_server.key"
	GseCertEncryptKey    = "cert_encrypt.key"
	GseCertAPIClientCert = "gse_api_client.crt"
	GseCertAPIClientKey  = "gse_api_client.key"
)

// SetupScript 安装脚本文件名
const (
	SetupScriptAgentLinux   = "setup_agent.sh"
	SetupScriptAgentWindows = "setup_agent.bat"
	SetupScriptAgentAix     = "setup_agent.ksh"
	SetupScriptPagent       = "setup_pagent.py"
	SetupScriptProxy        = "setup_proxy.sh"
)

// GsePortDefault GSE 端口默认值
var GsePortDefault = map[string]int{
	"io_port":                 48533,
	"trunk_port":              48331,
	"db_proxy_port":           58859,
	"file_svr_port":           59173,
	"file_svr_port_v1":        58926,
	"data_port":               58625,
	"bt_port":                 10020,
	"tracker_port":            10030,
	"bt_port_start":           60020,
	"bt_port_end":             60030,
	"agent_thrift_port":       48669,
	"btsvr_thrift_port":       58930,
	"api_server_port":         50002,
	"proc_port":               50000,
	"data_prometheus_port":    59402,
	"file_topology_bind_port": 28930,
	"file_metric_bind_port":   29404,
}
