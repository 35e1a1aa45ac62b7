// Package config 提供 dhtnet 的统一配置
//
// 每个子配置在独立文件中定义，提供 DefaultXConfig()、Validate() 和
// WithX() 构建方法。配置可以 JSON 加载和保存。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Connection = cfg.Connection.WithForceUDP(true)
//	cfg.Server.TCPPort = 7700
//
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config dhtnet 节点配置
type Config struct {
	// Identity 节点身份
	Identity IdentityConfig `json:"identity"`

	// Connection 许可池、空闲超时、连接超时
	Connection ConnectionConfig `json:"connection"`

	// Dispatcher 网络版本与入站限速
	Dispatcher DispatcherConfig `json:"dispatcher"`

	// Server 监听地址与端口
	Server ServerConfig `json:"server"`

	// Liveness 对端存活跟踪
	Liveness LivenessConfig `json:"liveness"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:   DefaultIdentityConfig(),
		Connection: DefaultConnectionConfig(),
		Dispatcher: DefaultDispatcherConfig(),
		Server:     DefaultServerConfig(),
		Liveness:   DefaultLivenessConfig(),
	}
}

// Validate 依次验证所有子配置
func (c *Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := c.Connection.Validate(); err != nil {
		return fmt.Errorf("connection: %w", err)
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Liveness.Validate(); err != nil {
		return fmt.Errorf("liveness: %w", err)
	}
	return nil
}

// FromJSON 在默认配置上叠加 JSON，并验证
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 从文件加载
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromJSON(data)
}

// ToJSON 序列化为缩进 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
