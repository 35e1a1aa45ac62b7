package dispatcher

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/core/connection"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config     *config.Config
	Self       types.PeerID                  `name:"self"`
	Listeners  []liveness.PeerStatusListener `group:"peer_status"`
	Registerer prometheus.Registerer         `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Dispatcher *Dispatcher
	Inbound    connection.InboundHandler `name:"inbound_handler"`
}

// ProvideServices 创建 Dispatcher 并作为服务端入站处理器导出
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := input.Config.Dispatcher
	if input.Registerer != nil {
		if err := RegisterMetrics(input.Registerer); err != nil {
			return ModuleOutput{}, err
		}
	}
	d := New(Options{
		P2PID:         cfg.P2PID,
		RecvRateLimit: cfg.RecvRateLimit,
		RecvBurst:     cfg.RecvBurst,
	}, types.PeerAddress{ID: input.Self}, input.Listeners)
	return ModuleOutput{Dispatcher: d, Inbound: d}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("dispatcher",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

type lifecycleInput struct {
	fx.In

	LC         fx.Lifecycle
	Self       types.PeerID `name:"self"`
	Dispatcher *Dispatcher
	Server     *connection.Server
}

// registerLifecycle 服务端启动后确定本节点地址并注册 ping；停止时注销
func registerLifecycle(input lifecycleInput) {
	d := input.Dispatcher
	input.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.SetSelf(input.Server.PeerAddress(input.Self))
			d.RegisterHandler(input.Self, PingHandler(d.Self), CommandPing)
			log.Info("分发模块启动", "self", d.Self())
			return nil
		},
		OnStop: func(context.Context) error {
			d.UnregisterHandler(input.Self)
			log.Info("分发模块停止")
			return nil
		},
	})
}
