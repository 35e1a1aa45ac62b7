package request

import "errors"

var (
	// ErrChannelInactive 等待应答时连接被对端关闭
	ErrChannelInactive = errors.New("channel is inactive")
)
