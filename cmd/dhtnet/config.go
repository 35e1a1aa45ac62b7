package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// 环境变量（均使用 DHTNET_ 前缀）
const (
	envPrefix     = "DHTNET_"
	envName       = "NAME"
	envPeerID     = "PEER_ID"
	envListenAddr = "LISTEN_ADDR"
	envListenPort = "LISTEN_PORT"
	envForceTCP   = "FORCE_TCP"
	envForceUDP   = "FORCE_UDP"
)

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
func applyEnvOverrides(cfg *config.Config, getenv func(string) string) error {
	if v := getenv(envPrefix + envPeerID); v != "" {
		cfg.Identity.PeerID = v
	} else if v := getenv(envPrefix + envName); v != "" {
		cfg.Identity = cfg.Identity.WithName(v)
		cfg.Identity.PeerID = ""
	}

	if v := getenv(envPrefix + envListenAddr); v != "" {
		cfg.Server = cfg.Server.WithListenAddr(v)
	}

	if v := getenv(envPrefix + envListenPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, envListenPort, err)
		}
		cfg.Server = cfg.Server.WithPorts(port, port)
	}

	if v := getenv(envPrefix + envForceTCP); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, envForceTCP, err)
		}
		cfg.Connection = cfg.Connection.WithForceTCP(force)
	}

	if v := getenv(envPrefix + envForceUDP); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, envForceUDP, err)
		}
		cfg.Connection = cfg.Connection.WithForceUDP(force)
	}
	return nil
}

// parseTarget 把 host:port 解析为身份未知的对端地址
//
// 身份为零值，对端以 ping 兜底处理器应答。
func parseTarget(target string) (types.PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return types.PeerAddress{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return types.PeerAddress{}, fmt.Errorf("invalid port %q", portStr)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return types.PeerAddress{}, err
	}
	return types.NewPeerAddress(types.PeerID{}, ips[0], port, port), nil
}
