package dhtnet

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/core/connection"
	"github.com/dep2p/go-dhtnet/internal/core/dispatcher"
	"github.com/dep2p/go-dhtnet/internal/core/liveness"
	"github.com/dep2p/go-dhtnet/internal/core/request"
	"github.com/dep2p/go-dhtnet/internal/util/logger"
	livenessif "github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

var fxLogger = logger.Logger("dhtnet/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 配置、时钟、本节点身份
//  2. liveness：Tracker 加入 peer_status 监听者组
//  3. connection：Reservation、Sender、Server
//  4. request：请求处理器工厂
//  5. dispatcher：作为 Server 的入站处理器
//
// 停止时 fx 逆序执行：先注销分发处理器，再停服务端并关闭许可池。
func buildFxApp(cfg *config.Config, o *options, node *Node) (*fx.App, error) {
	self := cfg.Identity.Resolve()

	modules := []fx.Option{
		fx.Supply(cfg),
		fx.Supply(fx.Annotated{Name: "self", Target: self}),
	}

	if o.clock != nil {
		modules = append(modules, fx.Provide(func() clock.Clock { return o.clock }))
	}
	if o.registerer != nil {
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return o.registerer }))
	}
	for _, l := range o.listeners {
		modules = append(modules, fx.Provide(fx.Annotate(
			func() livenessif.PeerStatusListener { return l },
			fx.ResultTags(`group:"peer_status"`),
		)))
	}

	modules = append(modules,
		liveness.Module(),
		connection.Module(),
		request.Module(),
		dispatcher.Module(),
	)

	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	modules = append(modules,
		fx.Invoke(injectNodeComponents(node)),
		fx.NopLogger,
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build node: %w", err)
	}
	fxLogger.Debug("Fx 应用已构建", "self", self)
	return app, nil
}

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Self        types.PeerID `name:"self"`
	Reservation *connection.Reservation
	Sender      *connection.Sender
	Server      *connection.Server
	Requests    *request.Factory
	Dispatcher  *dispatcher.Dispatcher
	Tracker     *liveness.Tracker
}

// injectNodeComponents 创建 Node 组件注入函数
func injectNodeComponents(node *Node) interface{} {
	return func(p nodeInjectParams) {
		node.self = p.Self
		node.reservation = p.Reservation
		node.sender = p.Sender
		node.server = p.Server
		node.requests = p.Requests
		node.dispatcher = p.Dispatcher
		node.tracker = p.Tracker
	}
}
