package request

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/core/connection"
	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// Factory 按统一的超时参数创建 Handler
type Factory struct {
	sender *connection.Sender
	opts   Options
}

// NewFactory 创建 Factory
func NewFactory(sender *connection.Sender, opts Options) *Factory {
	return &Factory{sender: sender, opts: opts}
}

// New 为 msg 创建挂起结果和 Handler
func (f *Factory) New(msg *types.Message) *Handler {
	return NewHandler(f.sender, future.NewResponse(msg), f.opts)
}

// Options 超时参数
func (f *Factory) Options() Options {
	return f.opts
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("request",
		fx.Provide(func(cfg *config.Config, sender *connection.Sender) *Factory {
			return NewFactory(sender, OptionsFromConfig(cfg.Connection))
		}),
	)
}
