package config

import (
	"errors"
	"time"
)

// LivenessConfig 对端存活跟踪配置
type LivenessConfig struct {
	// OfflineCacheSize 离线对端缓存容量
	OfflineCacheSize int `json:"offline_cache_size"`

	// OfflineTTL 离线记录保留时间，过期后视为未知
	OfflineTTL Duration `json:"offline_ttl"`

	// MaxSoftFailures 连续软失败达到该次数视为离线
	MaxSoftFailures int `json:"max_soft_failures"`
}

// DefaultLivenessConfig 返回默认存活跟踪配置
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		OfflineCacheSize: 1000,
		OfflineTTL:       Duration(30 * time.Second),
		MaxSoftFailures:  3,
	}
}

// Validate 验证存活跟踪配置
func (c LivenessConfig) Validate() error {
	if c.OfflineCacheSize <= 0 {
		return errors.New("offline cache size must be positive")
	}
	if c.OfflineTTL <= 0 {
		return errors.New("offline ttl must be positive")
	}
	if c.MaxSoftFailures <= 0 {
		return errors.New("max soft failures must be positive")
	}
	return nil
}
