package dhtnet

import (
	"context"
	"sync"

	"go.uber.org/fx"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/core/connection"
	"github.com/dep2p/go-dhtnet/internal/core/dispatcher"
	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/internal/core/liveness"
	"github.com/dep2p/go-dhtnet/internal/core/request"
	"github.com/dep2p/go-dhtnet/internal/util/logger"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

var log = logger.Logger("dhtnet")

// ============================================================================
//                              Node 节点
// ============================================================================

// Node DHT 节点的传输核心
type Node struct {
	cfg *config.Config
	app *fx.App

	self        types.PeerID
	reservation *connection.Reservation
	sender      *connection.Sender
	server      *connection.Server
	requests    *request.Factory
	dispatcher  *dispatcher.Dispatcher
	tracker     *liveness.Tracker

	mu      sync.Mutex
	started bool
	closed  bool
}

// New 创建节点（未启动）
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	cfg, err := o.toConfig()
	if err != nil {
		return nil, err
	}

	node := &Node{cfg: cfg}
	app, err := buildFxApp(cfg, o, node)
	if err != nil {
		return nil, err
	}
	node.app = app
	return node, nil
}

// Start 绑定端口、注册内置 ping 处理器
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}
	if err := n.app.Start(ctx); err != nil {
		return err
	}
	n.started = true
	log.Info("节点已启动", "addr", n.PeerAddress())
	return nil
}

// Stop 逆序停止模块，等待所有许可收回
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if !n.started {
		return nil
	}
	err := n.app.Stop(ctx)
	log.Info("节点已停止", "err", err)
	return err
}

// Close 以默认超时停止节点
func (n *Node) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	return n.Stop(ctx)
}

// ============================================================================
//                              访问器
// ============================================================================

// ID 本节点身份
func (n *Node) ID() types.PeerID {
	return n.self
}

// PeerAddress 本节点对外地址，启动前端口为 0
func (n *Node) PeerAddress() types.PeerAddress {
	return n.server.PeerAddress(n.self)
}

// Config 生效的配置
func (n *Node) Config() *config.Config {
	return n.cfg
}

// Reservation 全局许可池
func (n *Node) Reservation() *connection.Reservation {
	return n.reservation
}

// Sender 出站发送器
func (n *Node) Sender() *connection.Sender {
	return n.sender
}

// Requests 请求处理器工厂
func (n *Node) Requests() *request.Factory {
	return n.requests
}

// Dispatcher 入站分发器
func (n *Node) Dispatcher() *dispatcher.Dispatcher {
	return n.dispatcher
}

// Status 对端存活状态
func (n *Node) Status(remote types.PeerAddress) types.PeerStatus {
	return n.tracker.Status(remote)
}

// Liveness 存活跟踪器
func (n *Node) Liveness() *liveness.Tracker {
	return n.tracker
}

// ============================================================================
//                              请求
// ============================================================================

// NewRequest 构造以本节点为发送方的请求
func (n *Node) NewRequest(t types.MessageType, command uint8, remote types.PeerAddress) *types.Message {
	return types.NewRequest(n.cfg.Dispatcher.P2PID, t, command, n.PeerAddress(), remote)
}

// Ping 向 remote 发送 ping 并等待应答
//
// 默认走 UDP，配置了 ForceTCP 时走 TCP。每次调用预留一个许可，
// 结束后关闭工厂归还。
func (n *Node) Ping(ctx context.Context, remote types.PeerAddress) (*types.Message, error) {
	if n.cfg.Connection.ForceTCP {
		return n.pingTCP(ctx, remote)
	}
	return n.pingUDP(ctx, remote)
}

// PingTCP 经 TCP 发送 ping 并等待应答；配置了 ForceUDP 时改走 UDP
func (n *Node) PingTCP(ctx context.Context, remote types.PeerAddress) (*types.Message, error) {
	if n.cfg.Connection.ForceUDP {
		return n.pingUDP(ctx, remote)
	}
	return n.pingTCP(ctx, remote)
}

func (n *Node) pingUDP(ctx context.Context, remote types.PeerAddress) (*types.Message, error) {
	if remote.UDPPort == 0 {
		return nil, ErrNoRoute
	}
	return n.roundTrip(ctx, 1, 0, types.Request1, remote, func(h *request.Handler, f *connection.ConnectionFactory) *future.Response {
		return h.SendUDP(f)
	})
}

func (n *Node) pingTCP(ctx context.Context, remote types.PeerAddress) (*types.Message, error) {
	if remote.TCPPort == 0 {
		return nil, ErrNoRoute
	}
	return n.roundTrip(ctx, 0, 1, types.Request1, remote, func(h *request.Handler, f *connection.ConnectionFactory) *future.Response {
		return h.SendTCP(f)
	})
}

// PingFireAndForget 经 UDP 发送 ping，不等待应答
func (n *Node) PingFireAndForget(ctx context.Context, remote types.PeerAddress) error {
	if remote.UDPPort == 0 {
		return ErrNoRoute
	}
	_, err := n.roundTrip(ctx, 1, 0, types.RequestFF1, remote, func(h *request.Handler, f *connection.ConnectionFactory) *future.Response {
		return h.FireAndForgetUDP(f)
	})
	return err
}

func (n *Node) roundTrip(ctx context.Context, udp, tcp int, t types.MessageType, remote types.PeerAddress,
	send func(*request.Handler, *connection.ConnectionFactory) *future.Response) (*types.Message, error) {
	n.mu.Lock()
	running := n.started && !n.closed
	n.mu.Unlock()
	if !running {
		return nil, ErrNotStarted
	}

	ff := n.reservation.Reserve(udp, tcp)
	f, err := ff.Await(ctx)
	if err != nil {
		// 放弃等待后预留仍可能完成，届时立即归还
		ff.AddListener(func(ff *connection.FactoryFuture) {
			if f, err := ff.Result(); err == nil {
				f.Shutdown()
			}
		})
		return nil, err
	}
	defer f.Shutdown()

	msg := n.NewRequest(t, dispatcher.CommandPing, remote)
	resp := send(n.requests.New(msg), f)

	reply, err := resp.Await(ctx)
	if ctx.Err() != nil {
		resp.Cancel()
	}
	return reply, err
}
