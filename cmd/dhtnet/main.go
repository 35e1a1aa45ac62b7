// Package main 提供 dhtnet 命令行入口
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dep2p/go-dhtnet"
	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/util/logger"
)

var log = logger.Logger("dhtnet/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖 / 快速测试
//   JSON 配置文件：持久化配置（许可上限、超时、限速等）
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile = flag.String("config", "", "配置文件路径")
	name       = flag.String("name", "", "由名字派生节点身份")
	listenAddr = flag.String("listen", "", "监听 IP（默认 0.0.0.0）")
	advertise  = flag.String("advertise", "", "对外公布的 IP")
	port       = flag.Int("port", 0, "TCP/UDP 监听端口（0 = 随机端口）")
	ping       = flag.String("ping", "", "向 host:port 发送一次 ping 后退出")
	useTCP     = flag.Bool("tcp", false, "ping 使用 TCP")
	timeout    = flag.Duration("timeout", 5*time.Second, "ping 超时")
	logFile    = flag.String("log", "", "日志文件路径")
	dumpConfig = flag.Bool("dump-config", false, "打印生效配置后退出")

	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(dhtnet.VersionInfo())
		return nil
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		defer func() { _ = f.Close() }()
		logger.SetOutput(f)
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	if *dumpConfig {
		data, err := cfg.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	node, err := dhtnet.New(dhtnet.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("创建节点失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = node.Start(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	log.Info("启动 dhtnet 节点", "version", dhtnet.Version, "commit", dhtnet.GitCommit)

	if *ping != "" {
		return runPing(node, *ping)
	}

	printNodeInfo(node)
	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()
	fmt.Println("\n正在关闭节点...")
	return nil
}

// buildConfig 配置优先级：命令行 > 环境变量 > 配置文件 > 默认值
func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFile(*configFile); err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, err
	}

	if isFlagSet("name") {
		cfg.Identity = cfg.Identity.WithName(*name)
		cfg.Identity.PeerID = ""
	}
	if isFlagSet("listen") {
		cfg.Server = cfg.Server.WithListenAddr(*listenAddr)
	}
	if isFlagSet("advertise") {
		cfg.Server.AdvertiseAddr = *advertise
	}
	if isFlagSet("port") {
		cfg.Server = cfg.Server.WithPorts(*port, *port)
	}

	return cfg, cfg.Validate()
}

func runPing(node *dhtnet.Node, target string) error {
	remote, err := parseTarget(target)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	if *useTCP {
		_, err = node.PingTCP(ctx, remote)
	} else {
		_, err = node.Ping(ctx, remote)
	}
	if err != nil {
		return fmt.Errorf("ping %s 失败: %w", target, err)
	}
	fmt.Printf("ping %s: %v\n", target, time.Since(start).Round(time.Microsecond))
	return nil
}

func printNodeInfo(node *dhtnet.Node) {
	addr := node.PeerAddress()
	fmt.Printf("📦 %s\n", dhtnet.VersionInfo())
	fmt.Printf("节点 ID: %s\n", node.ID())
	fmt.Printf("地址:    %s  (tcp %d / udp %d)\n", addr.IP, addr.TCPPort, addr.UDPPort)
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// waitForSignal 等待退出信号
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}
