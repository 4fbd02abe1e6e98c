package render

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/upstream"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// 上下文变量命名规则：{SYSTEM}_{MODULE}_{FIELD}，全大写，MODULE 可为空
const contextSystemID = "BK_GSE"

// ContextInput 配置上下文装配输入
type ContextInput struct {
	Host     *model.Host
	Ap       *model.AccessPoint
	Upstream *upstream.Upstream

	// NodeType 安装目录名，agent 或 proxy
	NodeType string
	// RunEnv 部署版本，社区版清空证书密码文件
	RunEnv string

	// Rand FILE_PROXY 上游随机选取的随机源，测试可注入固定种子
	Rand *rand.Rand
}

// contextBuilder 逐模块填充扁平 token 映射
type contextBuilder struct {
	tokens map[string]interface{}
	module string
}

func (b *contextBuilder) enter(module string) *contextBuilder {
	b.module = module
	return b
}

func (b *contextBuilder) put(field string, value interface{}) *contextBuilder {
	parts := []string{contextSystemID}
	if b.module != "" {
		parts = append(parts, b.module)
	}
	parts = append(parts, field)
	b.tokens[strings.ToUpper(strings.Join(parts, "_"))] = value
	return b
}

// requote Windows 路径 JSON 转义后去除外层引号，反斜杠恰好翻倍一次
func requote(path string) string {
	raw, _ := json.Marshal(path)
	return string(raw[1 : len(raw)-1])
}

// AssembleContext 装配新版 Agent 配置上下文
// Agent 模式下 PROXY 模块整体缺省
func AssembleContext(in ContextInput) (map[string]interface{}, error) {
	host := in.Host
	ap := in.Ap
	if ap == nil {
		return nil, pkgErrors.WrapKind(pkgErrors.KindUpstreamUnavailable, "主机未关联接入点", nil)
	}
	agentConfig := ap.AgentConfigFor(host.AgentConfigOsKey())
	if agentConfig.SetupPath == "" {
		return nil, pkgErrors.WrapKind(pkgErrors.KindValidation, "接入点缺少该操作系统的 Agent 配置", nil)
	}

	sep := constants.LinuxSep
	if host.OsType == constants.OsTypeWindows {
		sep = constants.WindowsSep
	}
	certDir := strings.Join([]string{agentConfig.SetupPath, in.NodeType, "cert"}, sep)

	logPath := agentConfig.LogPath
	// Agent 侧证书
	agentTLSCaFile := strings.Join([]string{certDir, constants.GseCertCA}, sep)
	agentTLSCertFile := strings.Join([]string{certDir, constants.GseCertAgentCert}, sep)
	agentTLSKeyFile := strings.Join([]string{certDir, constants.GseCertAgentKey}, sep)
	agentTLSPasswordFile := strings.Join([]string{certDir, constants.GseCertEncryptKey}, sep)
	// Server 侧证书
	proxyTLSCaFile := agentTLSCaFile
	proxyTLSPasswordFile := agentTLSPasswordFile
	proxyTLSCertFile := strings.Join([]string{certDir, constants.GseCertServerCert}, sep)
	proxyTLSKeyFile := strings.Join([]string{certDir, constants.GseCertServerKey}, sep)
	proxyTLSCliCertFile := strings.Join([]string{certDir, constants.GseCertAPIClientCert}, sep)
	proxyTLSCliKeyFile := strings.Join([]string{certDir, constants.GseCertAPIClientKey}, sep)

	if host.OsType == constants.OsTypeWindows {
		logPath = requote(logPath)
		agentTLSCaFile = requote(agentTLSCaFile)
		agentTLSCertFile = requote(agentTLSCertFile)
		agentTLSKeyFile = requote(agentTLSKeyFile)
		agentTLSPasswordFile = requote(agentTLSPasswordFile)
		proxyTLSCaFile = requote(proxyTLSCaFile)
		proxyTLSPasswordFile = requote(proxyTLSPasswordFile)
		proxyTLSCertFile = requote(proxyTLSCertFile)
		proxyTLSKeyFile = requote(proxyTLSKeyFile)
		proxyTLSCliCertFile = requote(proxyTLSCliCertFile)
		proxyTLSCliKeyFile = requote(proxyTLSCliKeyFile)
	}

	// 社区版无需配置证书密码
	if in.RunEnv == constants.RunEnvCE {
		agentTLSPasswordFile = ""
		proxyTLSPasswordFile = ""
	}

	// Proxy 自身承载所在区域的 file/data 端点
	var fileHostsForAgent, dataHostsForAgent []string
	if host.NodeType == constants.NodeTypeProxy {
		fileHostsForAgent = []string{host.AnyInnerIP()}
		dataHostsForAgent = []string{host.AnyInnerIP()}
	} else {
		fileHostsForAgent = in.Upstream.BtFileServerHosts
		dataHostsForAgent = in.Upstream.DataServerHosts
	}

	runMode := constants.GseAgentRunModeAgent
	if host.NodeType == constants.NodeTypeProxy {
		runMode = constants.GseAgentRunModeProxy
	}

	builder := &contextBuilder{tokens: map[string]interface{}{}}

	builder.enter("AGENT_CONFIG").
		put("run_mode", runMode).
		put("cloud_id", host.BkCloudID).
		put("zone_id", ap.RegionID).
		put("city_id", ap.CityID).
		put("enable_static_access", fmt.Sprintf("%t", in.Upstream.EnableStaticAccess)).
		put("extra_config_directory", "")

	builder.enter("ACCESS").
		put("cluster_endpoints", joinEndpoints(in.Upstream.TaskServerHosts, ap.Port("io_port"))).
		put("data_endpoints", joinEndpoints(dataHostsForAgent, ap.Port("data_port"))).
		put("file_endpoints", joinEndpoints(fileHostsForAgent, ap.Port("file_svr_port")))

	builder.enter("AGENT_BASE").
		put("tls_ca_file", agentTLSCaFile).
		put("tls_cert_file", agentTLSCertFile).
		put("tls_key_file", agentTLSKeyFile).
		put("tls_password_file", agentTLSPasswordFile).
		put("processor_num", 5).
		put("processor_size", 4096)

	if runMode == constants.GseAgentRunModeProxy {
		builder.enter("PROXY").
			put("bind_ip", "::").
			put("bind_port", ap.Port("io_port")).
			put("thread_num", 4).
			put("tls_ca_file", proxyTLSCaFile).
			put("tls_cert_file", proxyTLSCertFile).
			put("tls_key_file", proxyTLSKeyFile).
			put("tls_password_file", proxyTLSPasswordFile)
	}

	builder.enter("TASK").
		put("proc_event_data_id", 1100008).
		put("concurrence_count", 100).
		put("queue_wait_timeout_ms", 10000).
		put("executor_queue_size", 4096).
		put("schedule_queue_size", 4096).
		put("host_code_page_name", "utf8").
		put("script_file_clean_batch_count", 100).
		put("script_file_clean_startup_clock_time", 0).
		put("script_file_expire_time_hour", 72).
		put("script_file_prefix", "bk_gse_script_")

	ipc := agentConfig.DataIpc
	if ipc == "" {
		ipc = "/var/run/ipc.state.report"
	}
	builder.enter("DATA").
		put("ipc", ipc).
		put("ipc_recv_thread_num", 4).
		put("enable_compression", fmt.Sprintf("%t", host.ExtraBool("enable_compression")))

	builder.enter("FILE").
		put("max_transfer_speed_mb_per_sec", host.ExtraInt("bt_speed_limit", 100))

	builder.enter("LOG").
		put("path", logPath).
		put("level", "WARN").
		put("filesize_mb", 200).
		put("filenum", 10).
		put("rotate", 0).
		put("flush_interval_ms", 1000)

	builder.enter("DATA_METRIC").
		put("exporter_bind_ip", "::").
		put("exporter_bind_port", ap.Port("data_prometheus_port"))

	builder.enter("DATA_AGENT").
		put("tcp_bind_ip", "::").
		put("tcp_bind_port", ap.Port("data_port")).
		put("tcp_server_thread_num", 32).
		put("tcp_server_max_message_size", 10485760).
		put("tls_ca_file", proxyTLSCaFile).
		put("tls_cert_file", proxyTLSCertFile).
		put("tls_key_file", proxyTLSKeyFile).
		put("tls_password_file", proxyTLSPasswordFile)

	builder.enter("DATA_PROXY").
		put("endpoints", joinEndpoints(in.Upstream.DataServerHosts, ap.Port("data_port"))).
		put("tls_ca_file", agentTLSCaFile).
		put("tls_cert_file", agentTLSCertFile).
		put("tls_key_file", agentTLSKeyFile).
		put("tls_password_file", agentTLSPasswordFile)

	builder.enter("FILE_AGENT").
		put("bind_port", ap.Port("file_svr_port")).
		put("bind_port_v1", ap.Port("file_svr_port_v1")).
		put("advertise_ipv4", host.InnerIP).
		put("advertise_ipv6", host.InnerIPv6).
		put("tls_ca_file", proxyTLSCaFile).
		put("tls_cert_file", proxyTLSCertFile).
		put("tls_key_file", proxyTLSKeyFile).
		put("tls_password_file", proxyTLSPasswordFile)

	builder.enter("FILE_PROXY").
		put("upstream_ip", pickOne(in.Upstream.BtFileServerHosts, in.Rand)).
		put("upstream_port", ap.Port("file_topology_bind_port")).
		put("report_ip", host.AnyOuterIP()).
		put("report_port", ap.Port("file_topology_bind_port"))

	builder.enter("FILE_BITTORRENT").
		put("bind_port", ap.Port("bt_port")).
		put("tracker_bind_port", ap.Port("tracker_port"))

	builder.enter("FILE_TOPOLOGY").
		put("bind_port", ap.Port("file_topology_bind_port")).
		put("thrift_bind_port", ap.Port("btsvr_thrift_port")).
		put("advertise_ip", host.AnyInnerIP()).
		put("tls_ca_file", agentTLSCaFile).
		put("tls_password_file", proxyTLSPasswordFile).
		put("tls_svr_cert_file", proxyTLSCertFile).
		put("tls_svr_key_file", proxyTLSKeyFile).
		put("tls_cli_cert_file", proxyTLSCliCertFile).
		put("tls_cli_key_file", proxyTLSCliKeyFile)

	builder.enter("FILE_CACHE").
		put("dirs", "")

	builder.enter("FILE_METRIC").
		put("exporter_bind_ip", "::").
		put("exporter_bind_port", ap.Port("file_metric_bind_port"))

	return builder.tokens, nil
}

// AssembleLegacyContext 装配旧版扁平布局上下文，is_legacy 模板使用
func AssembleLegacyContext(in ContextInput) (map[string]interface{}, error) {
	host := in.Host
	ap := in.Ap
	if ap == nil {
		return nil, pkgErrors.WrapKind(pkgErrors.KindUpstreamUnavailable, "主机未关联接入点", nil)
	}
	agentConfig := ap.AgentConfigFor(host.AgentConfigOsKey())

	sep := constants.LinuxSep
	if host.OsType == constants.OsTypeWindows {
		sep = constants.WindowsSep
	}
	logPath := agentConfig.LogPath
	tlsCaFile := strings.Join([]string{agentConfig.SetupPath, in.NodeType, "cert", constants.GseCertCA}, sep)
	tlsCertFile := strings.Join([]string{agentConfig.SetupPath, in.NodeType, "cert", constants.GseCertAgentCert}, sep)
	tlsKeyFile := strings.Join([]string{agentConfig.SetupPath, in.NodeType, "cert", constants.GseCertAgentKey}, sep)

	if host.OsType == constants.OsTypeWindows {
		logPath = requote(logPath)
		tlsCaFile = requote(tlsCaFile)
		tlsCertFile = requote(tlsCertFile)
		tlsKeyFile = requote(tlsKeyFile)
	}

	runMode := constants.GseAgentRunModeAgent
	if host.NodeType == constants.NodeTypeProxy {
		runMode = constants.GseAgentRunModeProxy
	}

	ipc := agentConfig.DataIpc
	if ipc == "" {
		ipc = "/var/run/ipc.state.report"
	}

	context := map[string]interface{}{
		"run_mode": runMode,
		"cloud_id": host.BkCloudID,
		"zone_id":  ap.RegionID,
		"city_id":  ap.CityID,
		"access": map[string]interface{}{
			"cluster_endpoints": joinEndpoints(in.Upstream.TaskServerHosts, ap.Port("io_port")),
			"data_endpoints":    joinEndpoints(in.Upstream.DataServerHosts, ap.Port("data_port")),
			"file_endpoints":    joinEndpoints(in.Upstream.BtFileServerHosts, ap.Port("file_svr_port")),
		},
		"base": map[string]interface{}{
			"tls_ca_file":     tlsCaFile,
			"tls_cert_file":   tlsCertFile,
			"tls_key_file":    tlsKeyFile,
			"tls_passwd_file": "",
			"processor_num":   5,
			"processor_size":  4096,
		},
		"task": map[string]interface{}{
			"proc_event_data_id":                  1100008,
			"concurrence_count":                   100,
			"queue_wait_timeout_ms":               10000,
			"executor_queue_size":                 4096,
			"schedule_queue_size":                 4096,
			"host_code_page_name":                 "utf8",
			"script_file_clean_batch_count":       100,
			"script_file_clean_starup_clock_time": 0,
			"script_file_expire_time_hour":        72,
			"script_file_prefix":                  "bk_gse_script_",
		},
		"data": map[string]interface{}{
			"ipc_file":       ipc,
			"ipc_thread_num": 4,
		},
		"logger": map[string]interface{}{
			"path":              logPath,
			"level":             "WARN",
			"filesize_mb":       200,
			"filenum":           10,
			"rotate":            0,
			"flush_interval_ms": 1000,
		},
		"extra_config_directory": "",
	}

	// Agent 模式下无需渲染 proxy 对象
	if runMode == constants.GseAgentRunModeProxy {
		context["proxy"] = map[string]interface{}{
			"bind_ip":         "::",
			"bind_port":       ap.Port("io_port"),
			"thread_num":      4,
			"tls_ca_file":     tlsCaFile,
			"tls_cert_file":   tlsCertFile,
			"tls_key_file":    tlsKeyFile,
			"tls_passwd_file": "",
		}
	}
	return context, nil
}

func joinEndpoints(hosts []string, port int) string {
	endpoints := make([]string, 0, len(hosts))
	for _, host := range hosts {
		endpoints = append(endpoints, fmt.Sprintf("%s:%d", host, port))
	}
	return strings.Join(endpoints, ",")
}

func pickOne(hosts []string, rng *rand.Rand) string {
	if len(hosts) == 0 {
		return ""
	}
	if rng != nil && len(hosts) > 1 {
		return hosts[rng.Intn(len(hosts))]
	}
	return hosts[0]
}
