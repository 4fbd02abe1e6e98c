package pipeline

import (
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
)

// AggregateTaskStatus 由实例状态分布归约任务状态，惰性计算，无需中心时钟
// 全部成功为 SUCCESS；全部失败为 FAILED；存在未到终态的实例为 RUNNING；其余为 PART_FAILED
func AggregateTaskStatus(counts map[string]int64) string {
	var total, success, failed, terminal int64
	for status, count := range counts {
		total += count
		switch status {
		case constants.StatusSuccess:
			success += count
			terminal += count
		case constants.StatusFailed:
			failed += count
			terminal += count
		case constants.StatusRevoked, constants.StatusTerminated, constants.StatusRemoved:
			terminal += count
		}
	}
	if total == 0 {
		return constants.StatusPending
	}
	if terminal < total {
		return constants.StatusRunning
	}
	if success == total {
		return constants.StatusSuccess
	}
	if failed == total {
		return constants.StatusFailed
	}
	return constants.StatusPartFailed
}
