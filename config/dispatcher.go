package config

import "errors"

// DispatcherConfig 入站分发配置
type DispatcherConfig struct {
	// P2PID 网络版本，版本不一致的请求被拒绝
	P2PID uint32 `json:"p2p_id"`

	// RecvRateLimit 每秒入站请求上限，0 表示不限
	RecvRateLimit float64 `json:"recv_rate_limit,omitempty"`

	// RecvBurst 令牌桶容量，RecvRateLimit > 0 时生效
	RecvBurst int `json:"recv_burst,omitempty"`
}

// DefaultDispatcherConfig 返回默认分发配置
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		P2PID: 1,
	}
}

// Validate 验证分发配置
func (c DispatcherConfig) Validate() error {
	if c.RecvRateLimit < 0 {
		return errors.New("recv rate limit must be non-negative")
	}
	if c.RecvRateLimit > 0 && c.RecvBurst <= 0 {
		return errors.New("recv burst must be positive when rate limit is set")
	}
	return nil
}

// WithRecvRateLimit 设置入站限速
func (c DispatcherConfig) WithRecvRateLimit(perSecond float64, burst int) DispatcherConfig {
	c.RecvRateLimit = perSecond
	c.RecvBurst = burst
	return c
}
