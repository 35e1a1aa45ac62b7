package dispatcher

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-dhtnet/internal/core/connection"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// Options Dispatcher 参数
type Options struct {
	// P2PID 网络版本
	P2PID uint32
	// RecvRateLimit 每秒入站请求上限，0 表示不限
	RecvRateLimit float64
	// RecvBurst 令牌桶容量
	RecvBurst int
}

// Dispatcher 入站请求路由
//
// 作为服务端通道的处理阶段使用。
type Dispatcher struct {
	p2pID     uint32
	listeners []liveness.PeerStatusListener
	limiter   *recvLimiter

	self atomic.Pointer[types.PeerAddress]

	// writeMu 串行化路由表的复制与安装，读取不加锁
	writeMu sync.Mutex
	table   atomic.Pointer[table]
}

var _ connection.InboundHandler = (*Dispatcher)(nil)

// New 创建 Dispatcher；self 为本节点对外地址，可在启动后用 SetSelf 更新
func New(opts Options, self types.PeerAddress, listeners []liveness.PeerStatusListener) *Dispatcher {
	d := &Dispatcher{
		p2pID:     opts.P2PID,
		listeners: listeners,
		limiter:   newRecvLimiter(opts.RecvRateLimit, opts.RecvBurst),
	}
	d.self.Store(&self)
	empty := table{}
	d.table.Store(&empty)
	return d
}

// Self 本节点地址
func (d *Dispatcher) Self() types.PeerAddress {
	return *d.self.Load()
}

// SetSelf 更新本节点地址（端口在服务端启动后才确定）
func (d *Dispatcher) SetSelf(self types.PeerAddress) {
	d.self.Store(&self)
}

// SetRateLimit 热更新入站限速
func (d *Dispatcher) SetRateLimit(perSecond float64, burst int) {
	d.limiter.Reload(perSecond, burst)
}

// ============================================================================
//                              路由表
// ============================================================================

// RegisterHandler 为 (id, cmd) 安装处理器，已有条目被覆盖
func (d *Dispatcher) RegisterHandler(id types.PeerID, h Handler, cmds ...uint8) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	next := d.table.Load().with(id, h, cmds)
	d.table.Store(&next)
	log.Debug("注册处理器", "peer", id.ShortString(), "cmds", cmds)
}

// UnregisterHandler 移除 id 的全部处理器
func (d *Dispatcher) UnregisterHandler(id types.PeerID) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	next := d.table.Load().without(id)
	d.table.Store(&next)
	log.Debug("注销处理器", "peer", id.ShortString())
}

// HandlerFor 查询 (id, cmd) 的处理器
func (d *Dispatcher) HandlerFor(id types.PeerID, cmd uint8) Handler {
	return d.table.Load().lookup(id, cmd)
}

// associated 按请求查找处理器；零身份的 ping 映射到本节点
func (d *Dispatcher) associated(msg *types.Message) Handler {
	if msg.Recipient.ID.IsZero() && msg.Command == CommandPing {
		return d.HandlerFor(d.Self().ID, CommandPing)
	}
	return d.HandlerFor(msg.Recipient.ID, msg.Command)
}

// ============================================================================
//                              入站
// ============================================================================

// ChannelRead 处理一条入站消息
func (d *Dispatcher) ChannelRead(ch *connection.Channel, msg *types.Message) {
	log.Debug("收到请求", "msg", msg)

	if msg.Version != d.p2pID {
		count(resultVersion)
		log.Error("网络版本不一致", "want", d.p2pID, "got", msg.Version, "msg", msg)
		ch.Close()
		liveness.NotifyFailed(d.listeners, msg.Sender, true)
		return
	}

	if !msg.Type.IsRequest() && !msg.Type.IsFireAndForget() {
		count(resultNotReq)
		log.Debug("非请求消息，丢弃", "msg", msg)
		return
	}

	if !d.limiter.Allow() {
		count(resultLimited)
		log.Warn("入站超出限速", "msg", msg)
		d.respond(ch, msg.Reply(d.Self(), types.Exception))
		return
	}

	h := d.associated(msg)
	if h == nil {
		count(resultUnknown)
		log.Warn("找不到处理器，可能本节点已关闭", "msg", msg)
		d.respond(ch, msg.Reply(d.Self(), types.UnknownID))
		return
	}

	reply := h.ForwardMessage(msg)
	switch {
	case reply == nil:
		count(resultNil)
		log.Warn("处理器返回空应答", "msg", msg)
		d.respond(ch, msg.Reply(d.Self(), types.Exception))
	case reply == msg:
		if !ch.IsDatagram() {
			count(resultTCPFF)
			log.Warn("TCP 上没有单向请求，应使用 UDP", "msg", msg)
			d.ExceptionCaught(ch, ErrTCPFireAndForget)
			return
		}
		count(resultFF)
		log.Debug("单向请求，不应答", "msg", msg)
	default:
		count(resultHandled)
		d.respond(ch, reply)
	}
}

// respond 通道已关闭（UDP）或不再活动（TCP）时静默丢弃
func (d *Dispatcher) respond(ch *connection.Channel, reply *types.Message) {
	if ch.IsDatagram() {
		if !ch.IsOpen() {
			count(resultDropped)
			log.Debug("UDP 通道已关闭，不应答", "reply", reply)
			return
		}
	} else if !ch.IsActive() {
		count(resultDropped)
		log.Debug("TCP 通道已关闭，不应答", "reply", reply)
		return
	}
	log.Debug("发送应答", "reply", reply, "remote", ch.RemoteAddr())
	ch.Write(reply)
}

// ExceptionCaught 记录并关闭通道
func (d *Dispatcher) ExceptionCaught(ch *connection.Channel, err error) {
	log.Debug("入站通道异常", "remote", ch.RemoteAddr(), "err", err)
	ch.Close()
}

// ChannelInactive 入站通道关闭，无需处理
func (d *Dispatcher) ChannelInactive(*connection.Channel) {}
