package request

import (
	"fmt"
	"time"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/core/connection"
	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// Options 请求超时参数
type Options struct {
	IdleUDP           time.Duration
	IdleTCP           time.Duration
	ConnectTimeoutTCP time.Duration
}

// OptionsFromConfig 从连接配置读取超时参数
func OptionsFromConfig(cfg config.ConnectionConfig) Options {
	return Options{
		IdleUDP:           cfg.IdleUDP.Duration(),
		IdleTCP:           cfg.IdleTCP.Duration(),
		ConnectTimeoutTCP: cfg.ConnectTimeoutTCP.Duration(),
	}
}

// Handler 一条请求的发送入口和应答处理阶段
type Handler struct {
	sender    *connection.Sender
	resp      *future.Response
	msg       *types.Message
	key       types.MessageKey
	listeners []liveness.PeerStatusListener
	opts      Options
}

var _ connection.InboundHandler = (*Handler)(nil)

// NewHandler 为 resp 的请求创建 Handler
func NewHandler(sender *connection.Sender, resp *future.Response, opts Options) *Handler {
	msg := resp.Request()
	return &Handler{
		sender:    sender,
		resp:      resp,
		msg:       msg,
		key:       msg.Key(),
		listeners: sender.Listeners(),
		opts:      opts,
	}
}

// Response 挂起结果
func (h *Handler) Response() *future.Response {
	return h.resp
}

// ============================================================================
//                              发送
// ============================================================================

// SendUDP 经 UDP 发送并等待应答
func (h *Handler) SendUDP(f *connection.ConnectionFactory) *future.Response {
	h.sender.SendUDP(h, h.resp, h.msg, f, h.opts.IdleUDP, false)
	return h.resp
}

// FireAndForgetUDP 经 UDP 发送，不等待应答
//
// 写出并关闭套接字后以 nil 应答成功。
func (h *Handler) FireAndForgetUDP(f *connection.ConnectionFactory) *future.Response {
	h.sender.SendUDP(nil, h.resp, h.msg, f, 0, false)
	return h.resp
}

// SendBroadcastUDP 经广播套接字发送，第一个有效应答完成请求
func (h *Handler) SendBroadcastUDP(f *connection.ConnectionFactory) *future.Response {
	h.sender.SendUDP(h, h.resp, h.msg, f, h.opts.IdleUDP, true)
	return h.resp
}

// SendTCP 经新建的 TCP 连接发送并等待应答
func (h *Handler) SendTCP(f *connection.ConnectionFactory) *future.Response {
	h.sender.SendTCP(h, h.resp, h.msg, f, h.opts.IdleTCP, h.opts.ConnectTimeoutTCP, nil)
	return h.resp
}

// SendTCPWith 经长连接发送
//
// 长连接同一时刻只服务一个请求，已被占用时以 connection.ErrConnectionBusy 失败。
// 请求完成后释放使用权。
func (h *Handler) SendTCPWith(pc *connection.PeerConnection) *future.Response {
	if !pc.Acquire() {
		h.resp.SetFailed(fmt.Errorf("%w: %s", connection.ErrConnectionBusy, pc.Remote()))
		return h.resp
	}
	h.resp.AddListener(func(*future.Response) { pc.Release() })
	h.sender.SendTCP(h, h.resp, h.msg, nil, h.opts.IdleTCP, h.opts.ConnectTimeoutTCP, pc)
	return h.resp
}

// ============================================================================
//                              入站
// ============================================================================

// ChannelRead 处理应答
func (h *Handler) ChannelRead(ch *connection.Channel, reply *types.Message) {
	switch {
	case reply.Type == types.UnknownID:
		h.ExceptionCaught(ch, types.NewPeerError(types.PeerAbort,
			fmt.Sprintf("message was not delivered, unknown id (peer may be offline): %s", h.msg)))
		return
	case reply.Type == types.Exception:
		h.ExceptionCaught(ch, types.NewPeerError(types.PeerAbort,
			fmt.Sprintf("message caused an exception on the other side: %s", h.msg)))
		return
	case reply.Key() != h.key:
		h.ExceptionCaught(ch, types.NewPeerError(types.PeerAbort,
			fmt.Sprintf("reply %s does not match request %s", reply, h.msg)))
		return
	}

	if reply.Type.IsOK() || reply.Type.IsNotOK() {
		liveness.NotifyFound(h.listeners, reply.Sender, reply.Sender)
	}

	h.resp.Progress(reply)
	if !reply.IsDone() {
		log.Debug("流式应答，等待后续分片", "reply", reply)
		return
	}

	if h.msg.IsKeepAlive() {
		h.resp.SetResponse(reply)
		return
	}
	if h.resp.SetResponseLater(reply) {
		reportAfterClose(h.resp, ch)
		return
	}
	ch.Close()
}

// ExceptionCaught 请求失败：按原因上报对端，关闭通道后发布失败
func (h *Handler) ExceptionCaught(ch *connection.Channel, err error) {
	if h.resp.IsCompleted() || h.resp.IsPending() {
		log.Debug("请求已完成，忽略异常", "msg", h.msg, "err", err)
	} else {
		h.reportFailure(err)
	}

	if h.resp.SetFailedLater(err) {
		reportAfterClose(h.resp, ch)
		return
	}
	ch.Close()
}

func (h *Handler) reportFailure(err error) {
	remote := h.msg.Recipient
	pe, ok := types.AsPeerError(err)
	if !ok {
		log.Warn("请求异常，对端硬失败", "peer", remote, "msg", h.msg, "err", err)
		liveness.NotifyFailed(h.listeners, remote, true)
		return
	}
	if pe.Cause == types.UserAbort {
		log.Debug("请求被取消", "msg", h.msg)
		return
	}
	force := pe.Cause != types.Timeout
	if liveness.NotifyFailed(h.listeners, remote, force) {
		log.Warn("对端失败", "peer", remote, "force", force, "err", pe)
	} else {
		log.Debug("对端失败", "peer", remote, "force", force, "err", pe)
	}
}

// ChannelInactive 等待应答时连接关闭
func (h *Handler) ChannelInactive(*connection.Channel) {
	h.resp.SetFailed(ErrChannelInactive)
}

// reportAfterClose 关闭通道，关闭完成后发布已记录的结果
func reportAfterClose(resp *future.Response, ch *connection.Channel) {
	ch.CloseFuture().AddListener(func(*future.Done) {
		resp.SetResponseNow()
	})
	ch.Close()
}
