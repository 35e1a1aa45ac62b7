package connection

import (
	"time"

	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// TimeoutFactory 为通道生成空闲超时阶段
//
// 客户端绑定挂起请求：空闲时关闭通道，关闭完成后以 Timeout 失败，
// 并上报请求接收方软失败。服务端不绑定请求：从解码记录或套接字地址
// 推断对端并上报软失败。
type TimeoutFactory struct {
	resp      *future.Response
	timeout   time.Duration
	listeners []liveness.PeerStatusListener
}

// NewTimeoutFactory 创建 TimeoutFactory；resp 可为 nil
func NewTimeoutFactory(resp *future.Response, timeout time.Duration, listeners []liveness.PeerStatusListener) *TimeoutFactory {
	return &TimeoutFactory{resp: resp, timeout: timeout, listeners: listeners}
}

// Stage 生成新的空闲检测阶段
func (t *TimeoutFactory) Stage() *IdleStage {
	return NewIdleStage(t.timeout, t.onIdle)
}

func (t *TimeoutFactory) onIdle(ch *Channel) {
	if t.resp != nil {
		resp := t.resp
		ch.CloseFuture().AddListener(func(*future.Done) {
			resp.SetFailed(types.WrapPeerError(types.Timeout, "no reply within idle timeout", ErrChannelIdle))
		})
		ch.Close()
		if req := resp.Request(); req != nil {
			log.Debug("请求空闲超时，对端软失败", "peer", req.Recipient, "msg", req)
			liveness.NotifyFailed(t.listeners, req.Recipient, false)
		}
		return
	}

	ch.Close()
	remote, ok := idlePeer(ch)
	if !ok {
		log.Warn("通道空闲，无法确定对端地址", "channel", ch.ID())
		return
	}
	log.Debug("入站通道空闲，对端软失败", "peer", remote)
	liveness.NotifyFailed(t.listeners, remote, false)
}

// idlePeer 依次尝试解码记录的发送方、套接字对端地址、数据报来源地址
func idlePeer(ch *Channel) (types.PeerAddress, bool) {
	if p, ok := ch.DecodedPeer(); ok {
		return p, true
	}
	if addr := ch.RemoteAddr(); addr != nil {
		if p, ok := types.PeerAddressFromNetAddr(addr); ok {
			return p, true
		}
	}
	if addr := ch.DecodedAddr(); addr != nil {
		return types.PeerAddressFromNetAddr(addr)
	}
	return types.PeerAddress{}, false
}
