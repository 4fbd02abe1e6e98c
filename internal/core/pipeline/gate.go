package pipeline

import (
	"context"
	"sync"
	"time"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// Gate 可收缩的并发闸门
// 限流信号触发 Throttle 后有效许可减半 60s，随后指数恢复到满额；已持有许可的流水线不受影响
type Gate struct {
	mu        sync.Mutex
	capacity  int
	effective int
	inUse     int

	// wakeup 在许可释放或扩容时关闭并换新，等待方借此重新竞争
	wakeup chan struct{}

	restoreDelay time.Duration
	restoreTimer *time.Timer
}

// NewGate 创建满额闸门
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		capacity:     capacity,
		effective:    capacity,
		wakeup:       make(chan struct{}),
		restoreDelay: time.Minute,
	}
}

// Acquire 获取一个许可，取消时返回 Cancelled
func (g *Gate) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.inUse < g.effective {
			g.inUse++
			g.mu.Unlock()
			return nil
		}
		wait := g.wakeup
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return pkgErrors.WrapKind(pkgErrors.KindCancelled, "等待并发许可被取消", ctx.Err())
		case <-wait:
		}
	}
}

// Release 归还许可
func (g *Gate) Release() {
	g.mu.Lock()
	if g.inUse > 0 {
		g.inUse--
	}
	g.notifyLocked()
	g.mu.Unlock()
}

// Throttle 有效许可减半并安排恢复，重复触发会继续减半且重置恢复计时
func (g *Gate) Throttle() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.effective /= 2
	if g.effective < 1 {
		g.effective = 1
	}
	if g.restoreTimer != nil {
		g.restoreTimer.Stop()
	}
	g.restoreTimer = time.AfterFunc(g.restoreDelay, g.restoreStep)
}

// restoreStep 每步翻倍直至满额
func (g *Gate) restoreStep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.effective *= 2
	if g.effective >= g.capacity {
		g.effective = g.capacity
		g.restoreTimer = nil
	} else {
		g.restoreTimer = time.AfterFunc(g.restoreDelay, g.restoreStep)
	}
	g.notifyLocked()
}

// Effective 当前有效许可数
func (g *Gate) Effective() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.effective
}

// InUse 当前占用许可数
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

func (g *Gate) notifyLocked() {
	close(g.wakeup)
	g.wakeup = make(chan struct{})
}

// gateSet 按 (管控区域, 安装通道) 维护租户闸门
type gateSet struct {
	mu       sync.Mutex
	capacity int
	gates    map[string]*Gate
}

func newGateSet(capacity int) *gateSet {
	return &gateSet{capacity: capacity, gates: make(map[string]*Gate)}
}

func (s *gateSet) get(key string) *Gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate, ok := s.gates[key]
	if !ok {
		gate = NewGate(s.capacity)
		s.gates[key] = gate
	}
	return gate
}
