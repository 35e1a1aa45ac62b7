package connection

import (
	"fmt"
	"time"

	"github.com/dep2p/go-dhtnet/internal/core/codec"
	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// Sender 建立或复用通道、写出请求，并把取消和完成接到挂起请求上
//
// handler 为 nil 表示单向请求：不装空闲检测和应答处理，写完即关闭，
// 关闭完成后请求以 nil 应答成功。
type Sender struct {
	listeners []liveness.PeerStatusListener
	codec     codec.Codec
}

// NewSender 创建 Sender
func NewSender(listeners []liveness.PeerStatusListener, c codec.Codec) *Sender {
	if c == nil {
		c = codec.New()
	}
	return &Sender{listeners: listeners, codec: c}
}

// Listeners 存活监听者
func (s *Sender) Listeners() []liveness.PeerStatusListener {
	return s.listeners
}

func (s *Sender) stages(resp *future.Response, handler InboundHandler, idle time.Duration) Stages {
	st := Stages{Codec: s.codec}
	if handler != nil {
		st.Timeout = NewTimeoutFactory(resp, idle, s.listeners).Stage()
		st.Handler = handler
	}
	return st
}

// SendUDP 经 UDP 发送 msg
func (s *Sender) SendUDP(handler InboundHandler, resp *future.Response, msg *types.Message,
	f *ConnectionFactory, idle time.Duration, broadcast bool) {
	if resp.IsCompleted() {
		return
	}
	cf, err := f.CreateUDP(msg.Recipient.UDPAddr(), broadcast, s.stages(resp, handler, idle))
	if err != nil {
		resp.SetFailed(fmt.Errorf("could not create a UDP channel: %w", err))
		return
	}
	s.afterConnect(resp, msg, cf, handler == nil)
}

// SendTCP 经 TCP 发送 msg
//
// pc 非 nil 且其通道仍活动时复用该通道，原地替换处理阶段；
// 否则新建连接，并在 pc 非 nil 时记入 pc。f 为 nil 时使用 pc 的工厂。
func (s *Sender) SendTCP(handler InboundHandler, resp *future.Response, msg *types.Message,
	f *ConnectionFactory, idle, connectTimeout time.Duration, pc *PeerConnection) {
	if resp.IsCompleted() {
		return
	}
	stages := s.stages(resp, handler, idle)

	var cf *ChannelFuture
	if pc != nil {
		if existing := pc.ChannelFuture(); existing != nil && existing.Channel().IsActive() {
			existing.Channel().ReplaceStages(stages)
			cf = existing
		}
		if f == nil {
			f = pc.Factory()
		}
	}
	if cf == nil {
		var err error
		cf, err = f.CreateTCP(msg.Recipient.TCPAddr(), connectTimeout, stages)
		if err != nil {
			resp.SetFailed(fmt.Errorf("could not create a TCP channel: %w", err))
			return
		}
		if pc != nil {
			pc.setChannelFuture(cf)
		}
	}
	s.afterConnect(resp, msg, cf, handler == nil)
}

func (s *Sender) afterConnect(resp *future.Response, msg *types.Message, cf *ChannelFuture, fireAndForget bool) {
	connectCancel := resp.AddCancel(cf.Cancel)
	cf.AddListener(func(fut *future.Future[*Channel]) {
		resp.RemoveCancel(connectCancel)
		if err := fut.Err(); err != nil {
			log.Warn("通道创建失败", "msg", msg, "err", err)
			resp.SetFailed(err)
			return
		}
		ch := fut.Value()
		resp.SetProgressHandler(func(*future.Response) {
			s.write(resp, ch, msg, fireAndForget)
		})
		resp.ProgressFirst()
	})
}

func (s *Sender) write(resp *future.Response, ch *Channel, msg *types.Message, fireAndForget bool) {
	// 钩子先于写出注册，覆盖写出和等待应答两个阶段
	closeCancel := resp.AddCancel(func() { ch.Close() })
	wf := ch.Write(msg)
	wf.AddListener(func(w *future.Done) {
		if err := w.Err(); err != nil {
			resp.RemoveCancel(closeCancel)
			log.Warn("请求写出失败", "msg", msg, "err", err)
			resp.SetFailedLater(err)
			reportAfterClose(resp, ch)
			return
		}
		if fireAndForget {
			resp.RemoveCancel(closeCancel)
			log.Debug("单向请求已写出，关闭通道", "msg", msg)
			resp.SetResponseLater(nil)
			reportAfterClose(resp, ch)
			return
		}
		resp.AddListener(func(*future.Response) { resp.RemoveCancel(closeCancel) })
	})
}

// reportAfterClose 关闭通道，关闭完成后发布已记录的结果
func reportAfterClose(resp *future.Response, ch *Channel) {
	ch.CloseFuture().AddListener(func(*future.Done) {
		resp.SetResponseNow()
	})
	ch.Close()
}
