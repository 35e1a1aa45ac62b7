package config

import (
	"errors"

	"github.com/dep2p/go-dhtnet/pkg/types"
)

// IdentityConfig 节点身份
//
// PeerID 与 Name 都为空时启动时随机生成。
type IdentityConfig struct {
	// PeerID 40 位十六进制
	PeerID string `json:"peer_id,omitempty"`

	// Name 对名字做 SHA-1 得到 PeerID，PeerID 非空时忽略
	Name string `json:"name,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.PeerID == "" {
		return nil
	}
	if _, err := types.ParsePeerID(c.PeerID); err != nil {
		return errors.New("peer_id must be 40 hex characters")
	}
	return nil
}

// Resolve 得到 PeerID
func (c IdentityConfig) Resolve() types.PeerID {
	if id, err := types.ParsePeerID(c.PeerID); err == nil {
		return id
	}
	if c.Name != "" {
		return types.PeerIDFromName(c.Name)
	}
	return types.RandomPeerID()
}

// WithName 设置身份名
func (c IdentityConfig) WithName(name string) IdentityConfig {
	c.Name = name
	return c
}
