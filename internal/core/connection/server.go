package connection

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/go-dhtnet/internal/core/codec"
	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// ServerOptions 服务端监听参数
type ServerOptions struct {
	// ListenIP 监听地址，nil 表示所有接口
	ListenIP net.IP
	// AdvertiseIP 对外公布的地址；nil 时使用 ListenIP，ListenIP 未指定时用回环地址
	AdvertiseIP net.IP
	// TCPPort / UDPPort 为 0 时使用临时端口；UDP 优先尝试与 TCP 相同的端口
	TCPPort int
	UDPPort int
	// IdleTCP 入站 TCP 连接空闲超时
	IdleTCP time.Duration
}

// Server 接收入站请求并交给 handler（Dispatcher）
//
// 每个入站 TCP 连接成为一个通道，处理阶段为
// {空闲检测（无挂起请求）, 编解码, handler}。UDP 数据报在读循环中解码，
// 经一次性应答通道交付，应答直接写回共享套接字。
type Server struct {
	opts      ServerOptions
	handler   InboundHandler
	listeners []liveness.PeerStatusListener
	codec     codec.Codec
	clock     clock.Clock

	mu       sync.Mutex
	started  bool
	stopped  bool
	tcp      net.Listener
	udp      net.PacketConn
	channels map[*Channel]struct{}
	wg       sync.WaitGroup
}

// NewServer 创建 Server
func NewServer(opts ServerOptions, handler InboundHandler, listeners []liveness.PeerStatusListener,
	c codec.Codec, clk clock.Clock) *Server {
	if c == nil {
		c = codec.New()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Server{
		opts:      opts,
		handler:   handler,
		listeners: listeners,
		codec:     c,
		clock:     clk,
		channels:  make(map[*Channel]struct{}),
	}
}

// Start 绑定端口并启动接收循环
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerStarted
	}

	host := ""
	if s.opts.ListenIP != nil {
		host = s.opts.ListenIP.String()
	}
	lc := net.ListenConfig{Control: listenControl}

	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(s.opts.TCPPort)))
	if err != nil {
		return err
	}

	udpPort := s.opts.UDPPort
	if udpPort == 0 {
		udpPort = ln.Addr().(*net.TCPAddr).Port
	}
	pc, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(udpPort)))
	if err != nil && s.opts.UDPPort == 0 {
		pc, err = lc.ListenPacket(ctx, "udp", net.JoinHostPort(host, "0"))
	}
	if err != nil {
		return multierr.Append(err, ln.Close())
	}

	s.tcp, s.udp = ln, pc
	s.started = true
	s.wg.Add(2)
	go s.acceptLoop(ln)
	go s.packetLoop(pc)

	log.Info("服务端开始监听", "tcp", ln.Addr(), "udp", pc.LocalAddr())
	return nil
}

// TCPAddr TCP 监听地址
func (s *Server) TCPAddr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Addr().(*net.TCPAddr)
}

// UDPAddr UDP 监听地址
func (s *Server) UDPAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udp == nil {
		return nil
	}
	return s.udp.LocalAddr().(*net.UDPAddr)
}

// PeerAddress 以 id 为身份的对外地址，未启动时端口为 0
func (s *Server) PeerAddress(id types.PeerID) types.PeerAddress {
	ip := s.opts.AdvertiseIP
	if ip == nil {
		ip = s.opts.ListenIP
	}
	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	addr := types.PeerAddress{ID: id, IP: ip}
	if t := s.TCPAddr(); t != nil {
		addr.TCPPort = t.Port
	}
	if u := s.UDPAddr(); u != nil {
		addr.UDPPort = u.Port
	}
	return addr
}

func (s *Server) streamStages() Stages {
	return Stages{
		Timeout: NewTimeoutFactory(nil, s.opts.IdleTCP, s.listeners).Stage(),
		Codec:   s.codec,
		Handler: s.handler,
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("接受连接失败", "err", err)
			continue
		}
		tuneTCP(conn)

		ch := NewStreamChannel(conn, s.streamStages(), s.clock)
		if !s.track(ch) {
			ch.Close()
			return
		}
		log.Debug("入站 TCP 通道", "remote", conn.RemoteAddr())
	}
}

func (s *Server) packetLoop(pc net.PacketConn) {
	defer s.wg.Done()
	buf := make([]byte, maxDatagram)
	stages := Stages{Codec: s.codec, Handler: s.handler}
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug("UDP 读取失败", "err", err)
			continue
		}
		ch := newReplyChannel(pc, from, stages, s.clock)
		ch.receivePacket(buf[:n], from)
		ch.Close()
	}
}

func (s *Server) track(ch *Channel) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.channels[ch] = struct{}{}
	s.mu.Unlock()

	ch.CloseFuture().AddListener(func(*future.Done) {
		s.mu.Lock()
		delete(s.channels, ch)
		s.mu.Unlock()
	})
	return true
}

// Stop 关闭监听和所有入站通道，等待接收循环退出
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	ln, pc := s.tcp, s.udp
	chans := make([]*Channel, 0, len(s.channels))
	for ch := range s.channels {
		chans = append(chans, ch)
	}
	s.mu.Unlock()

	err := multierr.Combine(ln.Close(), pc.Close())
	s.wg.Wait()

	closing := make([]*future.Done, 0, len(chans))
	for _, ch := range chans {
		closing = append(closing, ch.Close())
	}
	<-future.All(closing...).Done()

	log.Info("服务端已停止")
	return err
}
