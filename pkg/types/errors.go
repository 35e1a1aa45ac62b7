package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPeerID 无效的节点 ID
	ErrInvalidPeerID = errors.New("invalid peer ID")
)

// ============================================================================
//                              PeerError - 对端失败
// ============================================================================

// AbortCause 请求中止的原因，决定向存活跟踪上报的方式
type AbortCause int

const (
	// PeerAbort 对端出错（UnknownID / Exception / 关联不匹配 / 协议错误）
	PeerAbort AbortCause = iota
	// Timeout 连接空闲超时
	Timeout
	// UserAbort 本地取消
	UserAbort
)

// String 返回原因名称
func (c AbortCause) String() string {
	switch c {
	case PeerAbort:
		return "peer abort"
	case Timeout:
		return "timeout"
	case UserAbort:
		return "user abort"
	default:
		return "unknown"
	}
}

// PeerError 带中止原因的失败
type PeerError struct {
	Cause AbortCause
	Msg   string
	Err   error
}

// NewPeerError 构造 PeerError
func NewPeerError(cause AbortCause, msg string) *PeerError {
	return &PeerError{Cause: cause, Msg: msg}
}

// WrapPeerError 构造包装了底层错误的 PeerError
func WrapPeerError(cause AbortCause, msg string, err error) *PeerError {
	return &PeerError{Cause: cause, Msg: msg, Err: err}
}

func (e *PeerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Cause, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Cause, e.Msg)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// AsPeerError 从错误链中提取 PeerError
func AsPeerError(err error) (*PeerError, bool) {
	var pe *PeerError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsAbortCause 错误链中是否有指定原因的 PeerError
func IsAbortCause(err error, cause AbortCause) bool {
	pe, ok := AsPeerError(err)
	return ok && pe.Cause == cause
}
