package dispatcher

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// recvLimiter 入站令牌桶，配置可热更新
type recvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

func newRecvLimiter(perSecond float64, burst int) *recvLimiter {
	l := &recvLimiter{}
	l.Reload(perSecond, burst)
	return l
}

// Allow 非阻塞取一个令牌；读循环里不能等待
func (l *recvLimiter) Allow() bool {
	lim := l.limiter.Load()
	return lim == nil || lim.Allow()
}

// Reload 替换速率；perSecond <= 0 取消限速
func (l *recvLimiter) Reload(perSecond float64, burst int) {
	if perSecond <= 0 {
		l.limiter.Store(nil)
		return
	}
	l.limiter.Store(rate.NewLimiter(rate.Limit(perSecond), burst))
}
