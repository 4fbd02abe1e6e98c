package logger

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// LogWriter 适配 gorm SQL 日志的 Printf 接口，与业务日志共用同一输出
type LogWriter struct {
	zapcore.WriteSyncer
}

// Printf 按行写入并立即刷盘，保证慢SQL日志不滞留缓冲
func (l *LogWriter) Printf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...) + "\n"
	_, _ = l.WriteSyncer.Write([]byte(line))
	_ = l.WriteSyncer.Sync()
}

// GetWriter 取SQL日志写入器，Init 之前写入被丢弃
func GetWriter() *LogWriter {
	return logWriter
}
