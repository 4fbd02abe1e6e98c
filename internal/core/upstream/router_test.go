package upstream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

func testAp() *model.AccessPoint {
	return &model.AccessPoint{
		Name: "default",
		TaskServer: datatypes.JSON(
			`[{"inner_ip": "10.0.0.10", "outer_ip": "117.0.0.10"}, {"inner_ip": "10.0.0.11", "outer_ip": "117.0.0.11"}]`),
		DataServer: datatypes.JSON(
			`[{"inner_ip": "10.0.0.20", "outer_ip": ""}]`),
		BtFileServer: datatypes.JSON(
			`[{"inner_ip": "10.0.0.30", "outer_ip": ""}]`),
	}
}

func TestRouteDirectAgentUsesAccessPoint(t *testing.T) {
	routed, err := Route(Input{
		Host: &model.Host{BkCloudID: constants.DefaultCloudID, NodeType: constants.NodeTypeAgent, InnerIP: "192.168.1.10"},
		Ap:   testAp(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.10", "10.0.0.11"}, routed.TaskServerHosts)
	assert.Equal(t, []string{"10.0.0.20"}, routed.DataServerHosts)
	assert.Equal(t, []string{"10.0.0.30"}, routed.BtFileServerHosts)
	assert.False(t, routed.EnableStaticAccess)
}

func TestRouteProxyServesItself(t *testing.T) {
	routed, err := Route(Input{
		Host: &model.Host{BkCloudID: 3, NodeType: constants.NodeTypeProxy, InnerIP: "10.10.0.1", OuterIP: "117.1.1.1"},
		Ap:   testAp(),
	})
	require.NoError(t, err)

	// Proxy 访问任务服务器走接入点外网地址
	assert.Equal(t, []string{"117.0.0.10", "117.0.0.11"}, routed.TaskServerHosts)
	assert.Equal(t, []string{"10.10.0.1"}, routed.DataServerHosts)
	assert.Equal(t, []string{"10.10.0.1"}, routed.BtFileServerHosts)
}

func TestRouteProxyWithoutInnerIP(t *testing.T) {
	_, err := Route(Input{
		Host: &model.Host{BkCloudID: 3, NodeType: constants.NodeTypeProxy},
		Ap:   testAp(),
	})
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindUpstreamUnavailable, pkgErrors.KindOf(err))
}

func TestRouteInstallChannelOverridesRegion(t *testing.T) {
	channel := &model.InstallChannel{
		Name:      "idc-1",
		BkCloudID: constants.DefaultCloudID,
		UpstreamServers: datatypes.JSON(
			`{"taskserver": ["172.16.0.1"], "dataserver": ["172.16.0.2"], "btfileserver": ["172.16.0.3"]}`),
	}

	routed, err := Route(Input{
		Host:           &model.Host{BkCloudID: constants.DefaultCloudID, NodeType: constants.NodeTypeAgent, InnerIP: "192.168.1.10"},
		Ap:             testAp(),
		InstallChannel: channel,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"172.16.0.1"}, routed.TaskServerHosts)
	assert.Equal(t, []string{"172.16.0.2"}, routed.DataServerHosts)
	assert.Equal(t, []string{"172.16.0.3"}, routed.BtFileServerHosts)
	// 直连区域 AGENT 走安装通道才置位静态接入
	assert.True(t, routed.EnableStaticAccess)
}

func TestRouteInstallChannelStaticAccessOnlyForDirectAgent(t *testing.T) {
	channel := &model.InstallChannel{
		BkCloudID: 5,
		UpstreamServers: datatypes.JSON(
			`{"taskserver": ["172.16.0.1"], "dataserver": ["172.16.0.2"], "btfileserver": ["172.16.0.3"]}`),
	}

	routed, err := Route(Input{
		Host:           &model.Host{BkCloudID: 5, NodeType: constants.NodeTypePagent, InnerIP: "192.168.1.10"},
		Ap:             testAp(),
		InstallChannel: channel,
	})
	require.NoError(t, err)
	assert.False(t, routed.EnableStaticAccess)
}

func TestRouteInstallChannelMissingEndpoints(t *testing.T) {
	channel := &model.InstallChannel{
		UpstreamServers: datatypes.JSON(`{"taskserver": ["172.16.0.1"]}`),
	}
	_, err := Route(Input{
		Host:           &model.Host{BkCloudID: constants.DefaultCloudID, NodeType: constants.NodeTypeAgent, InnerIP: "192.168.1.10"},
		Ap:             testAp(),
		InstallChannel: channel,
	})
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindUpstreamUnavailable, pkgErrors.KindOf(err))
}

func TestRouteRemoteCloudViaProxies(t *testing.T) {
	proxies := []*model.Host{
		{BkHostID: 1, BkCloudID: 3, NodeType: constants.NodeTypeProxy, InnerIP: "10.10.0.1"},
		{BkHostID: 2, BkCloudID: 3, NodeType: constants.NodeTypeProxy, InnerIP: "10.10.0.2"},
		{BkHostID: 3, BkCloudID: 3, NodeType: constants.NodeTypeProxy}, // 无内网IP，剔除
	}

	rng := rand.New(rand.NewSource(42))
	routed, err := Route(Input{
		Host:         &model.Host{BkCloudID: 3, NodeType: constants.NodeTypePagent, InnerIP: "192.168.1.10"},
		Ap:           testAp(),
		CloudProxies: proxies,
		Rand:         rng,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.10.0.1", "10.10.0.2"}, routed.TaskServerHosts)
	assert.Equal(t, []string{"10.10.0.1", "10.10.0.2"}, routed.DataServerHosts)
	// 文件服务器只取一台分摊负载
	require.Len(t, routed.BtFileServerHosts, 1)
	assert.Contains(t, []string{"10.10.0.1", "10.10.0.2"}, routed.BtFileServerHosts[0])

	// 同一随机源种子下结果可复现
	again, err := Route(Input{
		Host:         &model.Host{BkCloudID: 3, NodeType: constants.NodeTypePagent, InnerIP: "192.168.1.10"},
		Ap:           testAp(),
		CloudProxies: proxies,
		Rand:         rand.New(rand.NewSource(42)),
	})
	require.NoError(t, err)
	assert.Equal(t, routed.BtFileServerHosts, again.BtFileServerHosts)
}

func TestRouteRemoteCloudWithoutProxies(t *testing.T) {
	_, err := Route(Input{
		Host: &model.Host{BkCloudID: 3, NodeType: constants.NodeTypePagent, InnerIP: "192.168.1.10"},
		Ap:   testAp(),
	})
	require.ErrorIs(t, err, pkgErrors.ErrAliveProxyNotExists)
}

func TestRouteWithoutAccessPoint(t *testing.T) {
	_, err := Route(Input{
		Host: &model.Host{BkCloudID: constants.DefaultCloudID, NodeType: constants.NodeTypeAgent, InnerIP: "192.168.1.10"},
	})
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindUpstreamUnavailable, pkgErrors.KindOf(err))
}
