// Package liveness 定义传输层向存活跟踪上报结果的接口
package liveness

import "github.com/dep2p/go-dhtnet/pkg/types"

// PeerStatusListener 接收对端交互结果
//
// 传输层在收到 OK / NotOK 应答时调用 PeerFound，在对端出错或超时时
// 调用 PeerFailed。返回值表示监听者是否接受了这次上报。
type PeerStatusListener interface {
	// PeerFound 对端有响应；referrer 为告知该对端的节点，直接交互时等于 remote
	PeerFound(remote, referrer types.PeerAddress) bool

	// PeerFailed 对端失败；force 为 true 表示硬失败，false 表示软失败（如超时）
	PeerFailed(remote types.PeerAddress, force bool) bool
}

// StatusView 按地址查询存活状态
type StatusView interface {
	Status(remote types.PeerAddress) types.PeerStatus
}

// StatusChangeCallback 状态变更回调
type StatusChangeCallback func(event types.PeerStatusChangeEvent)

// NotifyFound 依次通知所有监听者
func NotifyFound(listeners []PeerStatusListener, remote, referrer types.PeerAddress) {
	for _, l := range listeners {
		l.PeerFound(remote, referrer)
	}
}

// NotifyFailed 依次通知所有监听者，任一监听者接受时返回 true
func NotifyFailed(listeners []PeerStatusListener, remote types.PeerAddress, force bool) bool {
	accepted := false
	for _, l := range listeners {
		if l.PeerFailed(remote, force) {
			accepted = true
		}
	}
	return accepted
}
