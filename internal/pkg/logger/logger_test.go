package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLogBeforeInitDoesNotPanic(t *testing.T) {
	// Init 之前各级别落到 nop，不会崩溃调用方
	assert.NotPanics(t, func() {
		Debug("before init", zap.Int("n", 1))
		Info("before init")
		Warn("before init", zap.String("k", "v"))
		Error("before init", zap.Error(assert.AnError))
	})
	assert.NotPanics(t, func() {
		GetWriter().Printf("before init %d", 1)
	})
	assert.NoError(t, Close())
}
