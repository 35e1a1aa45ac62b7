// Package liveness 跟踪对端存活状态
//
// Tracker 作为 PeerStatusListener 接收传输层的上报：
// - PeerFound：对端有响应，置为在线
// - PeerFailed(force=false)：软失败（如超时），降级；连续多次后离线
// - PeerFailed(force=true)：硬失败，直接离线
//
// 离线对端保存在有限容量的 LRU 中，超过 TTL 后重新视为未知。
package liveness

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/util/logger"
	livenessif "github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// 包级别日志实例
var log = logger.Logger("liveness")

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	// Config 配置
	Config *config.Config

	// Self 本节点身份
	Self types.PeerID `name:"self"`

	// Clock 时钟（可选，测试时注入 mock）
	Clock clock.Clock `optional:"true"`
}

// ============================================================================
//                              模块输出服务
// ============================================================================

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	// Tracker 存活跟踪器
	Tracker *Tracker

	// Listener 加入传输层的状态监听者组
	Listener livenessif.PeerStatusListener `group:"peer_status"`

	// View 状态查询
	View livenessif.StatusView
}

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	t, err := NewTracker(input.Config.Liveness, input.Self, input.Clock)
	if err != nil {
		return ModuleOutput{}, err
	}
	log.Debug("存活跟踪器已创建",
		"offlineCache", input.Config.Liveness.OfflineCacheSize,
		"offlineTTL", input.Config.Liveness.OfflineTTL.String(),
		"maxSoftFailures", input.Config.Liveness.MaxSoftFailures)
	return ModuleOutput{Tracker: t, Listener: t, View: t}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("liveness",
		fx.Provide(ProvideServices),
	)
}

// 模块元信息常量
const (
	// Version 模块版本
	Version = "1.0.0"
	// Name 模块名称
	Name = "liveness"
	// Description 模块描述
	Description = "对端存活跟踪模块，维护在线/降级/离线状态"
)
