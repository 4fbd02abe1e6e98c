package password

import (
	"context"
	"sync"

	"github.com/awnumar/memguard"
)

var memguardInitOnce sync.Once

// Init 进程级初始化，退出与中断时擦除全部受保护内存
func Init() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
	})
}

// Purge 擦除全部受保护内存
func Purge() {
	memguard.Purge()
}

// Request 取密请求
type Request struct {
	BkHostID int64
	IP       string
	Account  string
}

// Provider 安装密码提供方接口
// 铁将军等托管系统按主机下发一次性密码，取回后仅驻留受保护内存
type Provider interface {
	// GetPasswords 批量取密，返回 host_id -> 密码缓冲；取不到的主机不在结果中
	GetPasswords(ctx context.Context, requests []Request) (map[int64]*memguard.LockedBuffer, error)
}

// DestroyAll 释放一批密码缓冲
func DestroyAll(passwords map[int64]*memguard.LockedBuffer) {
	for _, buffer := range passwords {
		if buffer != nil {
			buffer.Destroy()
		}
	}
}
