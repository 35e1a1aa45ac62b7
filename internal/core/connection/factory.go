package connection

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-dhtnet/internal/core/future"
)

// ChannelFuture 建立中的通道
//
// Channel 在拨号前就已存在；Cancel 关闭它并中止拨号。
type ChannelFuture struct {
	*future.Future[*Channel]
	ch *Channel
}

func newChannelFuture(ch *Channel) *ChannelFuture {
	return &ChannelFuture{Future: future.New[*Channel](), ch: ch}
}

// Channel 对应的通道（可能尚未连接）
func (f *ChannelFuture) Channel() *Channel {
	return f.ch
}

// Cancel 中止建立或关闭已建立的通道
func (f *ChannelFuture) Cancel() {
	f.ch.Close()
}

// ============================================================================
//                              ConnectionFactory
// ============================================================================

type factoryState int

const (
	stateActive factoryState = iota
	stateDraining
	stateClosed
)

// ConnectionFactory 在固定许可内创建套接字
//
// 每个套接字占用一个许可，关闭时归还。Shutdown 之后不再创建新套接字；
// Shutdown 的 future 在所有已创建套接字关闭并收回全部许可后完成。
type ConnectionFactory struct {
	id     string
	maxUDP int
	maxTCP int
	udp    *semaphore.Weighted
	tcp    *semaphore.Weighted
	clock  clock.Clock

	mu       sync.Mutex
	drained  *sync.Cond
	state    factoryState
	inflight int
	channels map[*Channel]struct{}

	shutdownFuture *future.Done
}

// NewConnectionFactory 创建持有 udp/tcp 个许可的工厂
//
// 通常由 Reservation 创建，许可已从全局池中扣除。
func NewConnectionFactory(udp, tcp int, clk clock.Clock) *ConnectionFactory {
	if clk == nil {
		clk = clock.New()
	}
	f := &ConnectionFactory{
		id:             uuid.NewString(),
		maxUDP:         udp,
		maxTCP:         tcp,
		udp:            semaphore.NewWeighted(int64(udp)),
		tcp:            semaphore.NewWeighted(int64(tcp)),
		clock:          clk,
		channels:       make(map[*Channel]struct{}),
		shutdownFuture: future.NewDone(),
	}
	f.drained = sync.NewCond(&f.mu)
	return f
}

// ID 工厂标识
func (f *ConnectionFactory) ID() string {
	return f.id
}

// PermitsUDP 工厂持有的 UDP 许可数
func (f *ConnectionFactory) PermitsUDP() int {
	return f.maxUDP
}

// PermitsTCP 工厂持有的 TCP 许可数
func (f *ConnectionFactory) PermitsTCP() int {
	return f.maxTCP
}

// ShutdownFuture 关闭完成 future，多次调用返回同一实例
func (f *ConnectionFactory) ShutdownFuture() *future.Done {
	return f.shutdownFuture
}

// OpenChannels 尚未关闭的套接字数
func (f *ConnectionFactory) OpenChannels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

// enter 登记一次创建调用；关闭开始后返回 false
func (f *ConnectionFactory) enter() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != stateActive {
		return false
	}
	f.inflight++
	return true
}

func (f *ConnectionFactory) leave() {
	f.mu.Lock()
	f.inflight--
	if f.inflight == 0 {
		f.drained.Broadcast()
	}
	f.mu.Unlock()
}

func (f *ConnectionFactory) acquire(sem *semaphore.Weighted, proto string) {
	if !sem.TryAcquire(1) {
		err := invariant("tried to acquire more %s resources than announced (factory %s)", proto, f.id)
		log.Error("许可超额获取", "factory", f.id, "proto", proto)
		panic(err)
	}
}

// track 归还许可的监听者必须是关闭 future 的第一个监听者
func (f *ConnectionFactory) track(ch *Channel, sem *semaphore.Weighted) {
	ch.CloseFuture().AddListener(func(*future.Done) {
		sem.Release(1)
	})

	f.mu.Lock()
	f.channels[ch] = struct{}{}
	f.mu.Unlock()

	ch.CloseFuture().AddListener(func(*future.Done) {
		f.mu.Lock()
		delete(f.channels, ch)
		f.mu.Unlock()
	})
}

// CreateUDP 创建 UDP 套接字
//
// broadcast 为 true 时绑定本地临时端口并开启 SO_BROADCAST，否则连接到 remote。
// 关闭开始后返回 ErrShuttingDown。许可不足表示调用方未预留，直接 panic。
func (f *ConnectionFactory) CreateUDP(remote *net.UDPAddr, broadcast bool, stages Stages) (*ChannelFuture, error) {
	cf, err := f.openUDP(remote, broadcast, stages)
	if cf == nil {
		return nil, ErrShuttingDown
	}
	// 在 leave 之后完成，监听者里调用 Shutdown 不会死锁
	if err != nil {
		f.fail(cf, fmt.Errorf("%w: udp %s: %w", ErrChannelCreation, remote, err))
		return cf, nil
	}
	log.Debug("UDP 通道已创建", "factory", f.id, "remote", remote, "broadcast", broadcast)
	cf.SetSuccess(cf.ch)
	return cf, nil
}

func (f *ConnectionFactory) openUDP(remote *net.UDPAddr, broadcast bool, stages Stages) (*ChannelFuture, error) {
	if !f.enter() {
		return nil, nil
	}
	defer f.leave()

	f.acquire(f.udp, "UDP")
	ch := newChannel(kindPacket, stages, f.clock)
	f.track(ch, f.udp)
	countUDP()
	cf := newChannelFuture(ch)

	var (
		pc        net.PacketConn
		err       error
		connected bool
	)
	if broadcast {
		network := "udp4"
		if remote.IP.To4() == nil {
			network = "udp6"
		}
		lc := net.ListenConfig{Control: broadcastControl}
		pc, err = lc.ListenPacket(ch.ctx, network, ":0")
	} else {
		pc, err = net.DialUDP("udp", nil, remote)
		connected = true
	}
	if err != nil {
		return cf, err
	}
	return cf, ch.attachPacket(pc, remote, connected)
}

// CreateTCP 异步连接 remote
//
// 返回的 future 在连接建立或失败后完成；失败时通道先关闭（许可归还），
// 然后 future 失败。
func (f *ConnectionFactory) CreateTCP(remote *net.TCPAddr, connectTimeout time.Duration, stages Stages) (*ChannelFuture, error) {
	if !f.enter() {
		return nil, ErrShuttingDown
	}
	defer f.leave()

	f.acquire(f.tcp, "TCP")
	ch := newChannel(kindStream, stages, f.clock)
	f.track(ch, f.tcp)
	countTCP()

	cf := newChannelFuture(ch)
	go f.dialTCP(ch, cf, remote, connectTimeout)
	return cf, nil
}

func (f *ConnectionFactory) dialTCP(ch *Channel, cf *ChannelFuture, remote *net.TCPAddr, connectTimeout time.Duration) {
	ctx := ch.ctx
	if connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}

	d := net.Dialer{Control: tcpControl}
	conn, err := d.DialContext(ctx, "tcp", remote.String())
	if err == nil {
		tuneTCP(conn)
		err = ch.attachStream(conn)
	}
	if err != nil {
		f.fail(cf, fmt.Errorf("%w: tcp %s: %w", ErrChannelCreation, remote, err))
		return
	}

	log.Debug("TCP 通道已创建", "factory", f.id, "remote", remote)
	cf.SetSuccess(ch)
}

// fail 先关闭通道，关闭完成后再让 future 失败
func (f *ConnectionFactory) fail(cf *ChannelFuture, err error) {
	log.Debug("通道创建失败", "factory", f.id, "err", err)
	cf.ch.CloseFuture().AddListener(func(*future.Done) {
		cf.SetFailed(err)
	})
	cf.ch.Close()
}

// Shutdown 停止创建并关闭所有套接字
//
// 第二次调用返回一个以 ErrAlreadyShuttingDown 失败的新 future，
// 原关闭 future 不受影响。
func (f *ConnectionFactory) Shutdown() *future.Done {
	f.mu.Lock()
	if f.state != stateActive {
		f.mu.Unlock()
		return future.DoneFailed(ErrAlreadyShuttingDown)
	}
	f.state = stateDraining
	for f.inflight > 0 {
		f.drained.Wait()
	}
	open := make([]*future.Done, 0, len(f.channels))
	chans := make([]*Channel, 0, len(f.channels))
	for ch := range f.channels {
		chans = append(chans, ch)
		open = append(open, ch.CloseFuture())
	}
	f.mu.Unlock()

	log.Debug("连接工厂开始关闭", "factory", f.id, "open", len(chans))
	for _, ch := range chans {
		ch.Close()
	}
	future.All(open...).AddListener(func(*future.Done) {
		f.reclaim()
	})
	return f.shutdownFuture
}

// reclaim 所有套接字已关闭，收回全部许可
func (f *ConnectionFactory) reclaim() {
	if !f.udp.TryAcquire(int64(f.maxUDP)) || !f.tcp.TryAcquire(int64(f.maxTCP)) {
		err := invariant("factory %s could not reclaim all permits after shutdown", f.id)
		f.shutdownFuture.SetFailed(err)
		log.Error("许可泄漏", "factory", f.id)
		panic(err)
	}

	f.mu.Lock()
	f.state = stateClosed
	f.mu.Unlock()

	log.Debug("连接工厂已关闭", "factory", f.id)
	future.Complete(f.shutdownFuture)
}
