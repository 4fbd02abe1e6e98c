package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
)

func TestAggregateTaskStatus(t *testing.T) {
	cases := []struct {
		name   string
		counts map[string]int64
		want   string
	}{
		{"empty", map[string]int64{}, constants.StatusPending},
		{"all success", map[string]int64{constants.StatusSuccess: 3}, constants.StatusSuccess},
		{"all failed", map[string]int64{constants.StatusFailed: 2}, constants.StatusFailed},
		{"mixed terminal", map[string]int64{
			constants.StatusSuccess: 2,
			constants.StatusFailed:  1,
		}, constants.StatusPartFailed},
		{"revoked counts as terminal", map[string]int64{
			constants.StatusSuccess: 1,
			constants.StatusRevoked: 1,
		}, constants.StatusPartFailed},
		{"running instances keep task running", map[string]int64{
			constants.StatusSuccess: 5,
			constants.StatusRunning: 1,
		}, constants.StatusRunning},
		{"pending instances keep task running", map[string]int64{
			constants.StatusFailed:  5,
			constants.StatusPending: 1,
		}, constants.StatusRunning},
		{"retry wait is not terminal", map[string]int64{
			constants.StatusSuccess:   1,
			constants.StatusRetryWait: 1,
		}, constants.StatusRunning},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AggregateTaskStatus(tc.counts))
		})
	}
}
