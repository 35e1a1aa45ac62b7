package config

import (
	"errors"
	"net"
)

// ServerConfig 监听配置
type ServerConfig struct {
	// ListenAddr 监听 IP
	ListenAddr string `json:"listen_addr"`

	// AdvertiseAddr 对外公布的 IP，空时根据 ListenAddr 推断
	AdvertiseAddr string `json:"advertise_addr,omitempty"`

	// TCPPort 0 表示临时端口
	TCPPort int `json:"tcp_port"`

	// UDPPort 0 表示与 TCP 相同端口（不可用时临时端口）
	UDPPort int `json:"udp_port"`
}

// DefaultServerConfig 返回默认监听配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: "0.0.0.0",
	}
}

// Validate 验证监听配置
func (c ServerConfig) Validate() error {
	if net.ParseIP(c.ListenAddr) == nil {
		return errors.New("listen_addr must be an IP address")
	}
	if c.AdvertiseAddr != "" && net.ParseIP(c.AdvertiseAddr) == nil {
		return errors.New("advertise_addr must be an IP address")
	}
	if c.TCPPort < 0 || c.TCPPort > 65535 || c.UDPPort < 0 || c.UDPPort > 65535 {
		return errors.New("ports must be in [0, 65535]")
	}
	return nil
}

// WithPorts 设置端口
func (c ServerConfig) WithPorts(tcp, udp int) ServerConfig {
	c.TCPPort = tcp
	c.UDPPort = udp
	return c
}

// WithListenAddr 设置监听 IP
func (c ServerConfig) WithListenAddr(ip string) ServerConfig {
	c.ListenAddr = ip
	return c
}
