package connection

import "time"

// IdleStage 空闲检测阶段：timeout 内没有任何读写时调用 onIdle
//
// 同一 IdleStage 最多触发一次；ReplaceStages 换入新的 IdleStage 后旧的失效。
type IdleStage struct {
	timeout time.Duration
	onIdle  func(ch *Channel)
}

// NewIdleStage 创建空闲检测阶段
func NewIdleStage(timeout time.Duration, onIdle func(ch *Channel)) *IdleStage {
	return &IdleStage{timeout: timeout, onIdle: onIdle}
}

// Timeout 空闲阈值
func (s *IdleStage) Timeout() time.Duration {
	return s.timeout
}

func (s *IdleStage) fire(ch *Channel) {
	if s.onIdle != nil {
		s.onIdle(ch)
	} else {
		ch.Close()
	}
}
