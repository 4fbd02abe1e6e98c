package password

import (
	"context"

	"github.com/awnumar/memguard"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/esb"
)

// tjjProvider 铁将军托管密码提供方
type tjjProvider struct {
	esb    *esb.Client
	ticket string
}

// NewTjjProvider 创建铁将军提供方
func NewTjjProvider(client *esb.Client, ticket string) Provider {
	Init()
	return &tjjProvider{esb: client, ticket: ticket}
}

// GetPasswords 批量取密
func (p *tjjProvider) GetPasswords(ctx context.Context, requests []Request) (map[int64]*memguard.LockedBuffer, error) {
	ipList := make([]string, 0, len(requests))
	byIP := make(map[string]int64, len(requests))
	for _, request := range requests {
		ipList = append(ipList, request.IP)
		byIP[request.IP] = request.BkHostID
	}

	var result struct {
		HasInvalid bool              `json:"has_invalid"`
		IPPassword map[string]string `json:"ip_password"`
	}
	params := map[string]interface{}{
		"bk_ticket": p.ticket,
		"ips":       ipList,
	}
	if err := p.esb.Call(ctx, "/api/c/compapi/v2/tjj/get_password/", params, &result); err != nil {
		return nil, err
	}

	passwords := make(map[int64]*memguard.LockedBuffer, len(result.IPPassword))
	for ip, plain := range result.IPPassword {
		hostID, ok := byIP[ip]
		if !ok || plain == "" {
			continue
		}
		// 明文立即转入受保护内存，原串交由 GC，不再持有引用
		passwords[hostID] = memguard.NewBufferFromBytes([]byte(plain))
	}
	return passwords, nil
}
