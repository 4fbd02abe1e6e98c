package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/upstream"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
)

func linuxAgentInput() ContextInput {
	return ContextInput{
		Host: &model.Host{
			BkHostID:  1001,
			BkCloudID: constants.DefaultCloudID,
			InnerIP:   "192.168.1.10",
			OsType:    constants.OsTypeLinux,
			NodeType:  constants.NodeTypeAgent,
		},
		Ap: &model.AccessPoint{
			RegionID: "default",
			CityID:   "default",
			AgentConfigMap: datatypes.JSON(
				`{"linux": {"setup_path": "/usr/local/gse", "data_path": "/var/lib/gse", "log_path": "/var/log/gse"}}`),
		},
		Upstream: &upstream.Upstream{
			TaskServerHosts:   []string{"10.0.0.10"},
			DataServerHosts:   []string{"10.0.0.11"},
			BtFileServerHosts: []string{"10.0.0.12"},
		},
		NodeType: constants.GseAgentRunModeAgent,
		RunEnv:   constants.RunEnvEE,
	}
}

func TestAssembleContextLinuxAgent(t *testing.T) {
	tokens, err := AssembleContext(linuxAgentInput())
	require.NoError(t, err)

	assert.Equal(t, "agent", tokens["BK_GSE_AGENT_CONFIG_RUN_MODE"])
	assert.Equal(t, int64(0), tokens["BK_GSE_AGENT_CONFIG_CLOUD_ID"])
	// 端口缺省取 GSE 默认值
	assert.Equal(t, "10.0.0.10:48533", tokens["BK_GSE_ACCESS_CLUSTER_ENDPOINTS"])
	assert.Equal(t, "10.0.0.11:58625", tokens["BK_GSE_ACCESS_DATA_ENDPOINTS"])
	assert.Equal(t, "10.0.0.12:59173", tokens["BK_GSE_ACCESS_FILE_ENDPOINTS"])

	assert.Equal(t, "/usr/local/gse/agent/cert/gseca.crt", tokens["BK_GSE_AGENT_BASE_TLS_CA_FILE"])
	assert.Equal(t, "/usr/local/gse/agent/cert/cert_encrypt.key", tokens["BK_GSE_AGENT_BASE_TLS_PASSWORD_FILE"])
	assert.Equal(t, "/var/log/gse", tokens["BK_GSE_LOG_PATH"])

	// Agent 模式不渲染 PROXY 模块
	for key := range tokens {
		assert.NotContains(t, key, "BK_GSE_PROXY_")
	}
}

func TestAssembleContextPortOverride(t *testing.T) {
	in := linuxAgentInput()
	in.Ap.PortConfig = datatypes.JSON(`{"io_port": 58533}`)
	tokens, err := AssembleContext(in)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.10:58533", tokens["BK_GSE_ACCESS_CLUSTER_ENDPOINTS"])
}

func TestAssembleContextCommunityEditionClearsPasswordFiles(t *testing.T) {
	in := linuxAgentInput()
	in.RunEnv = constants.RunEnvCE
	tokens, err := AssembleContext(in)
	require.NoError(t, err)
	assert.Equal(t, "", tokens["BK_GSE_AGENT_BASE_TLS_PASSWORD_FILE"])
	assert.Equal(t, "", tokens["BK_GSE_DATA_AGENT_TLS_PASSWORD_FILE"])
}

func TestAssembleContextWindowsRequotesPaths(t *testing.T) {
	in := linuxAgentInput()
	in.Host.OsType = constants.OsTypeWindows
	in.Ap.AgentConfigMap = datatypes.JSON(
		`{"windows": {"setup_path": "C:\\gse", "data_path": "C:\\gse\\data", "log_path": "C:\\gse\\logs"}}`)

	tokens, err := AssembleContext(in)
	require.NoError(t, err)
	// JSON 再转义后反斜杠翻倍，嵌入配置文档不破坏语法
	assert.Equal(t, `C:\\gse\\agent\\cert\\gseca.crt`, tokens["BK_GSE_AGENT_BASE_TLS_CA_FILE"])
	assert.Equal(t, `C:\\gse\\logs`, tokens["BK_GSE_LOG_PATH"])
}

func TestAssembleContextProxyModule(t *testing.T) {
	in := linuxAgentInput()
	in.Host.NodeType = constants.NodeTypeProxy
	in.NodeType = constants.GseAgentRunModeProxy

	tokens, err := AssembleContext(in)
	require.NoError(t, err)

	assert.Equal(t, "proxy", tokens["BK_GSE_AGENT_CONFIG_RUN_MODE"])
	assert.Equal(t, 48533, tokens["BK_GSE_PROXY_BIND_PORT"])
	// Proxy 自身承载 file/data 端点
	assert.Equal(t, "192.168.1.10:59173", tokens["BK_GSE_ACCESS_FILE_ENDPOINTS"])
	assert.Equal(t, "192.168.1.10:58625", tokens["BK_GSE_ACCESS_DATA_ENDPOINTS"])
}

func TestAssembleContextMissingAgentConfig(t *testing.T) {
	in := linuxAgentInput()
	in.Ap.AgentConfigMap = datatypes.JSON(`{"windows": {"setup_path": "C:\\gse"}}`)
	_, err := AssembleContext(in)
	require.Error(t, err)
}

func TestAssembleContextAixSharesLinuxConfig(t *testing.T) {
	in := linuxAgentInput()
	in.Host.OsType = constants.OsTypeAix
	tokens, err := AssembleContext(in)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/gse/agent/cert/gseca.crt", tokens["BK_GSE_AGENT_BASE_TLS_CA_FILE"])
}

func TestRequote(t *testing.T) {
	assert.Equal(t, `C:\\gse\\agent`, requote(`C:\gse\agent`))
	assert.Equal(t, "/usr/local/gse", requote("/usr/local/gse"))
}
