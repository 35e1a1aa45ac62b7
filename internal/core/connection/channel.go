package connection

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dhtnet/internal/core/codec"
	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/internal/core/metrics"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// maxDatagram 读缓冲大小
const maxDatagram = 64 * 1024

// ============================================================================
//                              处理阶段
// ============================================================================

// InboundHandler 入站事件处理
//
// 回调在通道的读循环中执行，不得同步等待该通道的关闭。
type InboundHandler interface {
	// ChannelRead 收到一条完整消息
	ChannelRead(ch *Channel, msg *types.Message)
	// ChannelInactive 活动通道已关闭
	ChannelInactive(ch *Channel)
	// ExceptionCaught 读或解码出错
	ExceptionCaught(ch *Channel, err error)
}

// Stages 通道的处理阶段
type Stages struct {
	// Timeout 空闲检测，nil 表示不检测
	Timeout *IdleStage
	// Codec 编解码，nil 时使用 codec.New()
	Codec codec.Codec
	// Handler 入站处理，nil 时丢弃入站消息
	Handler InboundHandler
}

func (s Stages) withDefaults() Stages {
	if s.Codec == nil {
		s.Codec = codec.New()
	}
	return s
}

// ============================================================================
//                              Channel
// ============================================================================

type channelKind int

const (
	// kindStream TCP 连接
	kindStream channelKind = iota
	// kindPacket 独占的 UDP 套接字
	kindPacket
	// kindReply 服务端共享 UDP 套接字上的应答通道，关闭时不关闭套接字
	kindReply
)

var channelIDs atomic.Uint64

type pendingWrite struct {
	data []byte
	done *future.Done
}

// Channel 一个套接字及其处理阶段
//
// 由 ConnectionFactory 创建的通道在连接建立前即存在（未激活），
// 因此关闭 future 从一开始就可以挂监听者。Close 幂等，异步完成。
type Channel struct {
	id     uint64
	kind   channelKind
	clock  clock.Clock
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	conn        net.Conn
	pc          net.PacketConn
	connected   bool
	remote      net.Addr
	stages      Stages
	active      bool
	closed      bool
	queue       []*pendingWrite
	idleTimer   *clock.Timer
	decodedPeer *types.PeerAddress
	decodedAddr net.Addr

	writeMu      sync.Mutex
	wakeup       chan struct{}
	lastActivity atomic.Int64
	wg           sync.WaitGroup
	closeFuture  *future.Done
}

var _ codec.Recorder = (*Channel)(nil)

func newChannel(kind channelKind, stages Stages, clk clock.Clock) *Channel {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		id:          channelIDs.Add(1),
		kind:        kind,
		clock:       clk,
		ctx:         ctx,
		cancel:      cancel,
		stages:      stages.withDefaults(),
		wakeup:      make(chan struct{}, 1),
		closeFuture: future.NewDone(),
	}
	c.touch()
	return c
}

// NewStreamChannel 包装已建立的 TCP 连接（服务端 accept 或测试用 net.Pipe）
func NewStreamChannel(conn net.Conn, stages Stages, clk clock.Clock) *Channel {
	c := newChannel(kindStream, stages, clk)
	_ = c.attachStream(conn)
	return c
}

// newReplyChannel 共享 UDP 套接字上面向 remote 的应答通道，无读循环
func newReplyChannel(pc net.PacketConn, remote net.Addr, stages Stages, clk clock.Clock) *Channel {
	c := newChannel(kindReply, stages, clk)
	c.mu.Lock()
	c.pc = pc
	c.remote = remote
	c.decodedAddr = remote
	c.active = true
	c.armIdleLocked()
	c.mu.Unlock()
	return c
}

// attachStream 连接建立后挂接 TCP 连接并启动读写循环
func (c *Channel) attachStream(conn net.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return ErrChannelClosed
	}
	c.conn = conn
	c.remote = conn.RemoteAddr()
	c.active = true
	c.touch()
	c.armIdleLocked()

	c.wg.Add(2)
	go c.readStream(conn)
	go c.writeLoop()
	return nil
}

// attachPacket 挂接 UDP 套接字；connected 为 false 时用 WriteTo 发往 remote
func (c *Channel) attachPacket(pc net.PacketConn, remote net.Addr, connected bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = pc.Close()
		return ErrChannelClosed
	}
	c.pc = pc
	c.remote = remote
	c.connected = connected
	c.active = true
	c.touch()
	c.armIdleLocked()

	c.wg.Add(2)
	go c.readPacket(pc)
	go c.writeLoop()
	return nil
}

// ID 进程内唯一编号
func (c *Channel) ID() uint64 {
	return c.id
}

// Stages 当前处理阶段
func (c *Channel) Stages() Stages {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stages
}

// ReplaceStages 原地替换处理阶段并重新开始空闲计时
func (c *Channel) ReplaceStages(stages Stages) {
	c.mu.Lock()
	c.stages = stages.withDefaults()
	c.touch()
	c.armIdleLocked()
	c.mu.Unlock()
}

// IsOpen 尚未关闭
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// IsActive 已连接且尚未关闭
func (c *Channel) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && !c.closed
}

// IsDatagram UDP 通道
func (c *Channel) IsDatagram() bool {
	return c.kind != kindStream
}

// RemoteAddr 对端套接字地址；未连接的广播套接字返回 nil
func (c *Channel) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind == kindPacket && !c.connected {
		return nil
	}
	return c.remote
}

// LocalAddr 本地套接字地址
func (c *Channel) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.conn != nil:
		return c.conn.LocalAddr()
	case c.pc != nil:
		return c.pc.LocalAddr()
	}
	return nil
}

// RecordSender 实现 codec.Recorder
func (c *Channel) RecordSender(sender types.PeerAddress) {
	c.mu.Lock()
	c.decodedPeer = &sender
	c.mu.Unlock()
}

// DecodedPeer 解码器记录的发送方地址
func (c *Channel) DecodedPeer() (types.PeerAddress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decodedPeer == nil {
		return types.PeerAddress{}, false
	}
	return *c.decodedPeer, true
}

// DecodedAddr 最近一个数据报的来源地址
func (c *Channel) DecodedAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decodedAddr
}

// CloseFuture 关闭完成时完成
func (c *Channel) CloseFuture() *future.Done {
	return c.closeFuture
}

// ============================================================================
//                              写
// ============================================================================

// Write 按调用顺序写出消息
func (c *Channel) Write(msg *types.Message) *future.Done {
	st := c.Stages()
	var (
		b   []byte
		err error
	)
	if c.kind == kindStream {
		b, err = st.Codec.EncodeFrame(msg)
	} else {
		b, err = st.Codec.EncodePacket(msg)
	}
	if err != nil {
		return future.DoneFailed(err)
	}

	c.mu.Lock()
	if c.closed || !c.active {
		c.mu.Unlock()
		return future.DoneFailed(ErrChannelClosed)
	}
	if c.kind == kindReply {
		c.mu.Unlock()
		if err := c.rawWrite(b); err != nil {
			return future.DoneFailed(err)
		}
		c.touch()
		return future.DoneSucceeded()
	}
	w := &pendingWrite{data: b, done: future.NewDone()}
	c.queue = append(c.queue, w)
	c.mu.Unlock()

	select {
	case c.wakeup <- struct{}{}:
	default:
	}
	return w.done
}

func (c *Channel) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wakeup:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			w := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if err := c.rawWrite(w.data); err != nil {
				w.done.SetFailed(err)
				continue
			}
			c.touch()
			future.Complete(w.done)
		}
	}
}

func (c *Channel) rawWrite(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var (
		n   int
		err error
	)
	switch {
	case c.conn != nil:
		n, err = c.conn.Write(b)
	case c.connected:
		n, err = c.pc.(net.Conn).Write(b)
	default:
		n, err = c.pc.WriteTo(b, c.remote)
	}
	bandwidth.LogSent(c.transport(), int64(n))
	return err
}

func (c *Channel) transport() string {
	if c.kind == kindStream {
		return metrics.TransportTCP
	}
	return metrics.TransportUDP
}

// ============================================================================
//                              读
// ============================================================================

// activityReader 任何字节到达都算活动，包括不完整的消息
type activityReader struct {
	c *Channel
	r io.Reader
}

func (a activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.c.touch()
		bandwidth.LogRecv(metrics.TransportTCP, int64(n))
	}
	return n, err
}

func (c *Channel) readStream(conn net.Conn) {
	defer c.wg.Done()
	r := bufio.NewReader(activityReader{c: c, r: conn})
	for {
		msg, err := c.Stages().Codec.DecodeFrame(r, c)
		if err != nil {
			c.readFailed(err)
			return
		}
		c.deliver(msg)
	}
}

func (c *Channel) readPacket(pc net.PacketConn) {
	defer c.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			c.readFailed(err)
			return
		}
		c.receivePacket(buf[:n], from)
	}
}

// receivePacket 解码并交付一个数据报
func (c *Channel) receivePacket(b []byte, from net.Addr) {
	c.touch()
	bandwidth.LogRecv(metrics.TransportUDP, int64(len(b)))
	c.mu.Lock()
	c.decodedAddr = from
	c.mu.Unlock()

	msg, err := c.Stages().Codec.DecodePacket(b, c)
	if err != nil {
		log.Debug("丢弃无法解码的数据报", "from", from, "err", err)
		if h := c.Stages().Handler; h != nil {
			h.ExceptionCaught(c, err)
		}
		return
	}
	c.deliver(msg)
}

func (c *Channel) deliver(msg *types.Message) {
	h := c.Stages().Handler
	if h == nil {
		log.Debug("无处理器，丢弃入站消息", "msg", msg)
		return
	}
	h.ChannelRead(c, msg)
}

func (c *Channel) readFailed(err error) {
	if c.IsOpen() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		log.Debug("通道读取失败", "remote", c.RemoteAddr(), "err", err)
		if h := c.Stages().Handler; h != nil {
			h.ExceptionCaught(c, err)
		}
	}
	c.Close()
}

// ============================================================================
//                              空闲检测
// ============================================================================

func (c *Channel) touch() {
	c.lastActivity.Store(c.clock.Now().UnixNano())
}

// armIdleLocked 按当前阶段重新设置空闲定时器，调用方持有 c.mu
func (c *Channel) armIdleLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	st := c.stages.Timeout
	if st == nil || st.timeout <= 0 || !c.active || c.closed {
		return
	}
	c.idleTimer = c.clock.AfterFunc(st.timeout, func() { c.checkIdle(st) })
}

func (c *Channel) checkIdle(st *IdleStage) {
	c.mu.Lock()
	if c.closed || c.stages.Timeout != st {
		c.mu.Unlock()
		return
	}
	idle := c.clock.Since(time.Unix(0, c.lastActivity.Load()))
	if idle < st.timeout {
		c.idleTimer = c.clock.AfterFunc(st.timeout-idle, func() { c.checkIdle(st) })
		c.mu.Unlock()
		return
	}
	c.idleTimer = nil
	c.mu.Unlock()

	log.Debug("通道空闲", "remote", c.RemoteAddr(), "idle", idle)
	st.fire(c)
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 关闭通道，返回关闭 future
//
// 连接建立前调用会中止拨号。活动通道在关闭 future 完成后
// 收到 ChannelInactive。
func (c *Channel) Close() *future.Done {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closeFuture
	}
	c.closed = true
	c.mu.Unlock()

	go c.shutdown()
	return c.closeFuture
}

func (c *Channel) shutdown() {
	c.cancel()

	c.mu.Lock()
	wasActive := c.active
	c.active = false
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	conn, pc := c.conn, c.pc
	handler := c.stages.Handler
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if pc != nil && c.kind == kindPacket {
		_ = pc.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()
	for _, w := range queued {
		w.done.SetFailed(ErrChannelClosed)
	}

	future.Complete(c.closeFuture)
	if wasActive && handler != nil {
		handler.ChannelInactive(c)
	}
}
