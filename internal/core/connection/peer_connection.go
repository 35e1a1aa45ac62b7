package connection

import (
	"context"
	"sync"

	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// PeerConnection 到一个对端的长连接
//
// 同一时刻只允许一个请求使用：发送前 Acquire，应答后 Release。
type PeerConnection struct {
	remote  types.PeerAddress
	factory *ConnectionFactory

	mu sync.Mutex
	cf *ChannelFuture

	permit chan struct{}
}

// NewPeerConnection 用长连接工厂（通常来自 ReservePermanent）创建
func NewPeerConnection(remote types.PeerAddress, factory *ConnectionFactory) *PeerConnection {
	p := &PeerConnection{
		remote:  remote,
		factory: factory,
		permit:  make(chan struct{}, 1),
	}
	p.permit <- struct{}{}
	return p
}

// Remote 对端地址
func (p *PeerConnection) Remote() types.PeerAddress {
	return p.remote
}

// Factory 长连接工厂
func (p *PeerConnection) Factory() *ConnectionFactory {
	return p.factory
}

// Acquire 非阻塞获取使用权
func (p *PeerConnection) Acquire() bool {
	select {
	case <-p.permit:
		return true
	default:
		return false
	}
}

// AcquireContext 阻塞获取使用权
func (p *PeerConnection) AcquireContext(ctx context.Context) error {
	select {
	case <-p.permit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release 归还使用权；未持有时调用无效
func (p *PeerConnection) Release() {
	select {
	case p.permit <- struct{}{}:
	default:
	}
}

// ChannelFuture 当前通道，尚未建立时为 nil
func (p *PeerConnection) ChannelFuture() *ChannelFuture {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cf
}

func (p *PeerConnection) setChannelFuture(cf *ChannelFuture) {
	p.mu.Lock()
	p.cf = cf
	p.mu.Unlock()
}

// IsActive 通道已建立且仍活动
func (p *PeerConnection) IsActive() bool {
	cf := p.ChannelFuture()
	return cf != nil && cf.Channel().IsActive()
}

// Close 关闭工厂及其通道
func (p *PeerConnection) Close() *future.Done {
	p.factory.Shutdown()
	return p.factory.ShutdownFuture()
}
