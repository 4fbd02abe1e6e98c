package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

func TestGateAcquireRelease(t *testing.T) {
	gate := NewGate(2)
	ctx := context.Background()

	require.NoError(t, gate.Acquire(ctx))
	require.NoError(t, gate.Acquire(ctx))
	assert.Equal(t, 2, gate.InUse())

	gate.Release()
	assert.Equal(t, 1, gate.InUse())
	require.NoError(t, gate.Acquire(ctx))
}

func TestGateBlocksWhenFull(t *testing.T) {
	gate := NewGate(1)
	ctx := context.Background()
	require.NoError(t, gate.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		_ = gate.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while gate is full")
	case <-time.After(50 * time.Millisecond):
	}

	gate.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire should succeed after release")
	}
}

func TestGateAcquireCancelled(t *testing.T) {
	gate := NewGate(1)
	require.NoError(t, gate.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := gate.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, pkgErrors.KindCancelled, pkgErrors.KindOf(err))
}

func TestGateThrottleHalvesDownToOne(t *testing.T) {
	gate := NewGate(16)

	gate.Throttle()
	assert.Equal(t, 8, gate.Effective())
	gate.Throttle()
	assert.Equal(t, 4, gate.Effective())

	for i := 0; i < 10; i++ {
		gate.Throttle()
	}
	assert.Equal(t, 1, gate.Effective(), "effective permits never drop below 1")
}

func TestGateRestoreStepDoublesToCapacity(t *testing.T) {
	gate := NewGate(8)
	gate.Throttle()
	gate.Throttle()
	require.Equal(t, 2, gate.Effective())
	if gate.restoreTimer != nil {
		gate.restoreTimer.Stop()
	}

	gate.restoreStep()
	assert.Equal(t, 4, gate.Effective())
	gate.restoreStep()
	assert.Equal(t, 8, gate.Effective())

	// 满额后再恢复不超过容量
	gate.restoreStep()
	assert.Equal(t, 8, gate.Effective())
}

func TestGateThrottleDoesNotEvictHolders(t *testing.T) {
	gate := NewGate(4)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, gate.Acquire(ctx))
	}

	gate.Throttle()
	assert.Equal(t, 2, gate.Effective())
	assert.Equal(t, 4, gate.InUse(), "holders above the throttled level keep their permits")

	// 归还后低于有效许可才可再次获取
	gate.Release()
	gate.Release()
	gate.Release()
	require.NoError(t, gate.Acquire(ctx))
}

func TestGateSetIsolatesKeys(t *testing.T) {
	set := newGateSet(1)
	a := set.get("0:0")
	b := set.get("1:0")
	assert.NotSame(t, a, b)
	assert.Same(t, a, set.get("0:0"))

	require.NoError(t, a.Acquire(context.Background()))
	// a 占满不影响 b
	require.NoError(t, b.Acquire(context.Background()))
}
