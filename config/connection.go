package config

import (
	"errors"
	"time"
)

// ConnectionConfig 连接与许可配置
type ConnectionConfig struct {
	// IdleTCP TCP 连接空闲超时
	IdleTCP Duration `json:"idle_tcp"`

	// IdleUDP UDP 套接字空闲超时
	IdleUDP Duration `json:"idle_udp"`

	// ConnectTimeoutTCP TCP 建连超时
	ConnectTimeoutTCP Duration `json:"connect_timeout_tcp"`

	// ForceTCP 原本走 UDP 的请求改走 TCP
	ForceTCP bool `json:"force_tcp,omitempty"`

	// ForceUDP 原本走 TCP 的请求改走 UDP
	ForceUDP bool `json:"force_udp,omitempty"`

	// MaxPermitsUDP 全局 UDP 许可
	MaxPermitsUDP int `json:"max_permits_udp"`

	// MaxPermitsTCP 全局短连接 TCP 许可
	MaxPermitsTCP int `json:"max_permits_tcp"`

	// MaxPermitsPermanentTCP 全局长连接 TCP 许可
	MaxPermitsPermanentTCP int `json:"max_permits_permanent_tcp"`
}

// DefaultConnectionConfig 返回默认连接配置
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		IdleTCP:                Duration(5 * time.Second),
		IdleUDP:                Duration(5 * time.Second),
		ConnectTimeoutTCP:      Duration(3 * time.Second),
		MaxPermitsUDP:          250,
		MaxPermitsTCP:          250,
		MaxPermitsPermanentTCP: 250,
	}
}

// Validate 验证连接配置
func (c ConnectionConfig) Validate() error {
	if c.IdleTCP <= 0 || c.IdleUDP <= 0 {
		return errors.New("idle timeouts must be positive")
	}
	if c.ConnectTimeoutTCP <= 0 {
		return errors.New("connect timeout must be positive")
	}
	if c.MaxPermitsUDP <= 0 || c.MaxPermitsTCP <= 0 || c.MaxPermitsPermanentTCP <= 0 {
		return errors.New("permit limits must be positive")
	}
	if c.ForceTCP && c.ForceUDP {
		return errors.New("force_tcp and force_udp are mutually exclusive")
	}
	return nil
}

// WithIdle 设置 TCP 与 UDP 空闲超时
func (c ConnectionConfig) WithIdle(d time.Duration) ConnectionConfig {
	c.IdleTCP = Duration(d)
	c.IdleUDP = Duration(d)
	return c
}

// WithConnectTimeout 设置 TCP 建连超时
func (c ConnectionConfig) WithConnectTimeout(d time.Duration) ConnectionConfig {
	c.ConnectTimeoutTCP = Duration(d)
	return c
}

// WithPermits 设置三个许可池上限
func (c ConnectionConfig) WithPermits(udp, tcp, permanentTCP int) ConnectionConfig {
	c.MaxPermitsUDP = udp
	c.MaxPermitsTCP = tcp
	c.MaxPermitsPermanentTCP = permanentTCP
	return c
}

// WithForceUDP 强制 UDP
func (c ConnectionConfig) WithForceUDP(force bool) ConnectionConfig {
	c.ForceUDP = force
	return c
}

// WithForceTCP 强制 TCP
func (c ConnectionConfig) WithForceTCP(force bool) ConnectionConfig {
	c.ForceTCP = force
	return c
}
