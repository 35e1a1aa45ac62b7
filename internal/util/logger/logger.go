// Package logger 提供 dhtnet 的子系统日志
//
// 基于 log/slog，每个子系统一个 Logger，级别和格式由环境变量控制：
//
//	DHTNET_LOG_LEVEL=connection=debug,dispatcher=warn,info
//	DHTNET_LOG_FORMAT=json
//
// 使用方式:
//
//	var log = logger.Logger("connection")
//
//	log.Debug("channel created", "remote", addr)
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	loggers  sync.Map // subsystem -> *slog.Logger
	handlers sync.Map // subsystem -> *subsystemHandler
)

// Logger 返回子系统的 Logger，同名子系统共享同一实例
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	h := newHandler(subsystem, cfg.LevelForSubsystem(subsystem), cfg)

	actual, loaded := loggers.LoadOrStore(subsystem, slog.New(h))
	if !loaded {
		handlers.Store(subsystem, h)
	}
	return actual.(*slog.Logger)
}

// SetLevel 运行时调整子系统级别
//
// 子系统尚未创建 Logger 时调用无效。
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).SetLevel(level)
	}
}

// SetGlobalLevel 调整所有已创建子系统的级别
func SetGlobalLevel(level slog.Level) {
	handlers.Range(func(_, v any) bool {
		v.(*subsystemHandler).SetLevel(level)
		return true
	})
}

// Discard 返回丢弃所有输出的 Logger（测试用）
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// SetOutput 切换所有 Logger 的输出目标，已创建的 Logger 同样生效
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}
