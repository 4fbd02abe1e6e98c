package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanAdvance(t *testing.T) {
	assert.True(t, StatusCanAdvance(StatusPending, StatusRunning))
	assert.True(t, StatusCanAdvance(StatusRunning, StatusSuccess))
	assert.True(t, StatusCanAdvance(StatusRunning, StatusFailed))

	// 实例记录走 PENDING → SCHEDULED → RUNNING
	assert.True(t, StatusCanAdvance(StatusPending, StatusScheduled))
	assert.True(t, StatusCanAdvance(StatusScheduled, StatusRunning))

	// 回退不允许
	assert.False(t, StatusCanAdvance(StatusSuccess, StatusRunning))
	assert.False(t, StatusCanAdvance(StatusRunning, StatusPending))
	assert.False(t, StatusCanAdvance(StatusRunning, StatusScheduled))
	assert.False(t, StatusCanAdvance(StatusFailed, StatusSuccess))
	assert.False(t, StatusCanAdvance(StatusRevoked, StatusSuccess))

	// 重试例外：RUNNING 与 RETRY_WAIT 可互转
	assert.True(t, StatusCanAdvance(StatusRunning, StatusRetryWait))
	assert.True(t, StatusCanAdvance(StatusRetryWait, StatusRunning))

	// 未知状态：来源未知放行，目标未知拒绝
	assert.True(t, StatusCanAdvance("MYSTERY", StatusRunning))
	assert.False(t, StatusCanAdvance(StatusRunning, "MYSTERY"))
}

func TestIsTerminalStatus(t *testing.T) {
	for _, status := range []string{StatusSuccess, StatusFailed, StatusRevoked,
		StatusPartFailed, StatusTerminated, StatusRemoved} {
		assert.True(t, IsTerminalStatus(status), status)
	}
	for _, status := range []string{StatusPending, StatusScheduled, StatusRunning,
		StatusRetryWait, StatusSkipped} {
		assert.False(t, IsTerminalStatus(status), status)
	}
}

func TestInstanceNodeID(t *testing.T) {
	assert.Equal(t, "host|instance|host|1001", InstanceNodeID(ObjectTypeHost, NodeTypeInstance, int64(1001)))
	assert.Equal(t, "service|topo|service|7", InstanceNodeID(ObjectTypeService, NodeTypeTopo, 7))
}

func TestLower(t *testing.T) {
	assert.Equal(t, "push_config", Lower("PUSH_CONFIG"))
	assert.Equal(t, "already", Lower("already"))
	assert.Equal(t, "", Lower(""))
}
