package connection

import (
	"context"
	"net"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/core/codec"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config

	// Clock 时钟（可选，测试注入 clock.Mock）
	Clock clock.Clock `optional:"true"`

	// Codec 编解码器（可选）
	Codec codec.Codec `optional:"true"`

	// Listeners 存活监听者
	Listeners []liveness.PeerStatusListener `group:"peer_status"`

	// Registerer prometheus 注册器（可选）
	Registerer prometheus.Registerer `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Reservation *Reservation
	Sender      *Sender
}

// ProvideServices 提供许可池和 Sender
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := input.Config.Connection
	r := NewReservation(Limits{
		UDP:          cfg.MaxPermitsUDP,
		TCP:          cfg.MaxPermitsTCP,
		PermanentTCP: cfg.MaxPermitsPermanentTCP,
	}, input.Clock)

	if input.Registerer != nil {
		err := RegisterMetrics(input.Registerer)
		for _, c := range append(r.Collector(), Bandwidth().Collector()) {
			err = multierr.Append(err, input.Registerer.Register(c))
		}
		if err != nil {
			return ModuleOutput{}, err
		}
	}

	return ModuleOutput{
		Reservation: r,
		Sender:      NewSender(input.Listeners, input.Codec),
	}, nil
}

// serverInput Server 依赖
type serverInput struct {
	fx.In

	Config    *config.Config
	Clock     clock.Clock `optional:"true"`
	Codec     codec.Codec `optional:"true"`
	Handler   InboundHandler                `name:"inbound_handler"`
	Listeners []liveness.PeerStatusListener `group:"peer_status"`
}

// ProvideServer 按监听配置创建 Server
func ProvideServer(input serverInput) *Server {
	cfg := input.Config.Server
	opts := ServerOptions{
		ListenIP: net.ParseIP(cfg.ListenAddr),
		TCPPort:  cfg.TCPPort,
		UDPPort:  cfg.UDPPort,
		IdleTCP:  input.Config.Connection.IdleTCP.Duration(),
	}
	if cfg.AdvertiseAddr != "" {
		opts.AdvertiseIP = net.ParseIP(cfg.AdvertiseAddr)
	}
	return NewServer(opts, input.Handler, input.Listeners, input.Codec, input.Clock)
}

// ============================================================================
//                              模块定义
// ============================================================================

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("connection",
		fx.Provide(ProvideServices),
		fx.Provide(ProvideServer),
		fx.Invoke(registerLifecycle),
	)
}

type lifecycleInput struct {
	fx.In

	LC          fx.Lifecycle
	Reservation *Reservation
	Server      *Server
}

// registerLifecycle 启动时监听；停止时先关服务端，再关闭许可池并等待许可收回
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("连接模块启动")
			return input.Server.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			log.Info("连接模块停止")
			err := input.Server.Stop()
			_, shutdownErr := input.Reservation.Shutdown().Await(ctx)
			return multierr.Append(err, shutdownErr)
		},
	})
}
