package dispatcher

import "errors"

var (
	// ErrTCPFireAndForget 处理器在 TCP 上把请求当作单向请求
	ErrTCPFireAndForget = errors.New("there is no TCP fire and forget, use UDP in that case")

	// ErrVersionMismatch 请求的网络版本与本节点不一致
	ErrVersionMismatch = errors.New("network version mismatch")
)
