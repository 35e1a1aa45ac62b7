package types

import "time"

// PeerStatus 节点存活状态
type PeerStatus int

const (
	// PeerStatusUnknown 从未联系过
	PeerStatusUnknown PeerStatus = iota
	// PeerStatusOnline 最近一次交互成功
	PeerStatusOnline
	// PeerStatusDegraded 出现过软失败（如超时）
	PeerStatusDegraded
	// PeerStatusOffline 硬失败或软失败次数过多
	PeerStatusOffline
)

// String 返回状态名称
func (s PeerStatus) String() string {
	switch s {
	case PeerStatusUnknown:
		return "unknown"
	case PeerStatusOnline:
		return "online"
	case PeerStatusDegraded:
		return "degraded"
	case PeerStatusOffline:
		return "offline"
	default:
		return "invalid"
	}
}

// IsAvailable 在线或降级
func (s PeerStatus) IsAvailable() bool {
	return s == PeerStatusOnline || s == PeerStatusDegraded
}

// PeerStatusChangeEvent 存活状态变更事件
type PeerStatusChangeEvent struct {
	Peer      PeerAddress
	OldStatus PeerStatus
	NewStatus PeerStatus
	Reason    string
	Timestamp time.Time
}
