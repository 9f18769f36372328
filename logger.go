package polyel

import (
	"sync"

	"go.uber.org/zap"
)

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   = zap.NewNop()
)

// SetDefaultLogger 设置包级默认日志，没有通过 ServerWithLogger 指定日志的服务器使用它。
// 应当在创建服务器之前调用。
func SetDefaultLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	defaultLoggerMu.Lock()
	defaultLogger = log
	defaultLoggerMu.Unlock()
}

// DefaultLogger 返回包级默认日志，默认丢弃所有输出
func DefaultLogger() *zap.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}
