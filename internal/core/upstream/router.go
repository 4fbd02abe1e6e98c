package upstream

import (
	"math/rand"

	"github.com/samber/lo"
	"gorm.io/datatypes"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// Upstream 一台主机应连接的 GSE 上游端点集合
type Upstream struct {
	TaskServerHosts   []string `json:"task_server_hosts"`
	DataServerHosts   []string `json:"data_server_hosts"`
	BtFileServerHosts []string `json:"bt_file_server_hosts"`

	// EnableStaticAccess 直连区域走安装通道的 AGENT 才置位
	EnableStaticAccess bool `json:"enable_static_access"`
}

// Input 路由输入，纯数据，不做任何 I/O
type Input struct {
	Host           *model.Host
	Ap             *model.AccessPoint
	InstallChannel *model.InstallChannel
	// CloudProxies 主机所在管控区域内存活的 Proxy
	CloudProxies []*model.Host
	// Rand 文件服务器随机选取的随机源，测试可注入固定种子
	Rand *rand.Rand
}

// Route 计算主机的上游端点，两次调用同一输入返回相同结果（随机源一致时）
func Route(in Input) (*Upstream, error) {
	host := in.Host

	// Proxy 自身就是所在区域的数据与文件端点
	if host.NodeType == constants.NodeTypeProxy {
		self := host.AnyInnerIP()
		if self == "" {
			return nil, pkgErrors.WrapKind(pkgErrors.KindUpstreamUnavailable, "Proxy 主机缺少内网IP", nil)
		}
		// Proxy 访问任务服务器走接入点外网IP
		taskServers, err := apTaskServers(in.Ap, func(server model.GseServer) string { return server.OuterIP })
		if err != nil {
			return nil, err
		}
		return &Upstream{
			TaskServerHosts:   taskServers,
			DataServerHosts:   []string{self},
			BtFileServerHosts: []string{self},
		}, nil
	}

	// 安装通道优先于区域路由
	if in.InstallChannel != nil {
		upstreamMap := in.InstallChannel.UpstreamServerMap()
		routed := &Upstream{
			TaskServerHosts:   upstreamMap["taskserver"],
			DataServerHosts:   upstreamMap["dataserver"],
			BtFileServerHosts: upstreamMap["btfileserver"],
			EnableStaticAccess: host.BkCloudID == constants.DefaultCloudID &&
				host.NodeType == constants.NodeTypeAgent,
		}
		if len(routed.TaskServerHosts) == 0 || len(routed.DataServerHosts) == 0 {
			return nil, pkgErrors.WrapKind(pkgErrors.KindUpstreamUnavailable, "安装通道未配置上游端点", nil)
		}
		return routed, nil
	}

	// 直连区域使用接入点端点
	if host.BkCloudID == constants.DefaultCloudID {
		inner := func(server model.GseServer) string { return server.InnerIP }
		servers, err := apTaskServers(in.Ap, inner)
		if err != nil {
			return nil, err
		}
		return &Upstream{
			TaskServerHosts:   servers,
			DataServerHosts:   apServersByField(in.Ap.DataServer, inner),
			BtFileServerHosts: apServersByField(in.Ap.BtFileServer, inner),
		}, nil
	}

	// 非直连区域经由 Proxy：文件服务器随机取一台分摊负载，任务与数据端给全量列表
	proxyIPs := lo.FilterMap(in.CloudProxies, func(proxy *model.Host, _ int) (string, bool) {
		ip := proxy.AnyInnerIP()
		return ip, ip != ""
	})
	if len(proxyIPs) == 0 {
		return nil, pkgErrors.ErrAliveProxyNotExists
	}
	fileHost := proxyIPs[0]
	if in.Rand != nil && len(proxyIPs) > 1 {
		fileHost = proxyIPs[in.Rand.Intn(len(proxyIPs))]
	}
	return &Upstream{
		TaskServerHosts:   proxyIPs,
		DataServerHosts:   proxyIPs,
		BtFileServerHosts: []string{fileHost},
	}, nil
}

func apTaskServers(ap *model.AccessPoint, pick func(model.GseServer) string) ([]string, error) {
	if ap == nil {
		return nil, pkgErrors.WrapKind(pkgErrors.KindUpstreamUnavailable, "主机未关联接入点", nil)
	}
	hosts := apServersByField(ap.TaskServer, pick)
	if len(hosts) == 0 {
		return nil, pkgErrors.WrapKind(pkgErrors.KindUpstreamUnavailable, "接入点未配置任务服务器", nil)
	}
	return hosts, nil
}

func apServersByField(raw datatypes.JSON, pick func(model.GseServer) string) []string {
	servers := model.Servers(raw)
	return lo.FilterMap(servers, func(server model.GseServer, _ int) (string, bool) {
		value := pick(server)
		return value, value != ""
	})
}
