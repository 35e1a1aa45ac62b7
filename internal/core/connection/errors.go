package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrShuttingDown 工厂或 Reservation 已开始关闭
	ErrShuttingDown = errors.New("shutting down")

	// ErrAlreadyShuttingDown 重复调用 Shutdown
	ErrAlreadyShuttingDown = errors.New("already shutting down")

	// ErrChannelClosed 通道已关闭
	ErrChannelClosed = errors.New("channel closed")

	// ErrChannelIdle 通道空闲超时
	ErrChannelIdle = errors.New("channel is idle")

	// ErrChannelCreation 建立通道失败
	ErrChannelCreation = errors.New("channel creation failed")

	// ErrServerStarted 服务器已启动
	ErrServerStarted = errors.New("server already started")

	// ErrConnectionBusy 长连接正被另一个请求使用
	ErrConnectionBusy = errors.New("peer connection busy")
)

// InvariantError 内部不变量被破坏
//
// 只用于 panic，出现即表示许可计数有缺陷。
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

func invariant(format string, args ...any) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}
