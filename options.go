package dhtnet

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 完整配置，nil 时使用默认配置
	config *config.Config

	// 覆盖项，在 config 之后应用
	overrides []func(*config.Config)

	clock      clock.Clock
	registerer prometheus.Registerer
	listeners  []liveness.PeerStatusListener

	// 用户自定义 Fx 选项
	userFxOptions []fx.Option
}

func newOptions() *options {
	return &options{}
}

// toConfig 合并基础配置与覆盖项并验证
func (o *options) toConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if o.config != nil {
		c := *o.config
		cfg = &c
	}
	for _, apply := range o.overrides {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) override(fn func(*config.Config)) {
	o.overrides = append(o.overrides, fn)
}

// ============================================================================
//                              配置来源
// ============================================================================

// WithConfig 使用完整配置；其余选项在其上覆盖
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// ============================================================================
//                              身份与监听
// ============================================================================

// WithName 由名字派生节点身份
func WithName(name string) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) {
			c.Identity = c.Identity.WithName(name)
			c.Identity.PeerID = ""
		})
		return nil
	}
}

// WithPeerID 指定 40 位十六进制节点身份
func WithPeerID(hex string) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Identity.PeerID = hex })
		return nil
	}
}

// WithListenAddr 设置监听 IP
func WithListenAddr(ip string) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Server = c.Server.WithListenAddr(ip) })
		return nil
	}
}

// WithAdvertiseAddr 设置对外公布的 IP
func WithAdvertiseAddr(ip string) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Server.AdvertiseAddr = ip })
		return nil
	}
}

// WithPorts 设置 TCP / UDP 端口，0 表示临时端口
func WithPorts(tcp, udp int) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Server = c.Server.WithPorts(tcp, udp) })
		return nil
	}
}

// ============================================================================
//                              传输
// ============================================================================

// WithPermits 设置全局许可上限
func WithPermits(udp, tcp, permanentTCP int) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Connection = c.Connection.WithPermits(udp, tcp, permanentTCP) })
		return nil
	}
}

// WithForceTCP 请求一律走 TCP
func WithForceTCP() Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Connection = c.Connection.WithForceTCP(true) })
		return nil
	}
}

// WithForceUDP 请求一律走 UDP
func WithForceUDP() Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Connection = c.Connection.WithForceUDP(true) })
		return nil
	}
}

// WithRecvRateLimit 设置入站限速，perSecond 为 0 表示不限
func WithRecvRateLimit(perSecond float64, burst int) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Dispatcher = c.Dispatcher.WithRecvRateLimit(perSecond, burst) })
		return nil
	}
}

// ============================================================================
//                              扩展
// ============================================================================

// WithClock 注入时钟（测试用）
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithRegisterer 注册 prometheus 指标
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithStatusListener 追加存活监听者，与内置 Tracker 一起接收上报
func WithStatusListener(l liveness.PeerStatusListener) Option {
	return func(o *options) error {
		if l == nil {
			return errors.New("status listener is nil")
		}
		o.listeners = append(o.listeners, l)
		return nil
	}
}

// WithFxOptions 追加 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
