package connection

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtnet/internal/core/codec"
	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

func startServer(t *testing.T, h InboundHandler, idle time.Duration, listeners ...liveness.PeerStatusListener) *Server {
	t.Helper()
	s := NewServer(ServerOptions{ListenIP: net.IPv4(127, 0, 0, 1), IdleTCP: idle}, h, listeners, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// TestServer_UDP 测试 UDP 请求经共享套接字应答
func TestServer_UDP(t *testing.T) {
	self := loopbackPeer("server", 0, 0)
	h := &recordingHandler{replyWith: types.OK, self: self}
	s := startServer(t, h, time.Second)

	conn, err := net.DialUDP("udp", nil, s.UDPAddr())
	require.NoError(t, err)
	defer conn.Close()

	req := types.NewRequest(1, types.Request1, 2, loopbackPeer("alice", 0, conn.LocalAddr().(*net.UDPAddr).Port), s.PeerAddress(self.ID))
	b, err := codec.New().EncodePacket(req)
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)

	reply := readPacket(t, conn)
	assert.Equal(t, req.ID, reply.ID)
	assert.Equal(t, types.OK, reply.Type)
	assert.Equal(t, req.Key(), reply.Key())

	t.Log("✅ 服务端 UDP 测试通过")
}

// TestServer_TCP 测试 TCP 请求应答及停止时关闭入站连接
func TestServer_TCP(t *testing.T) {
	self := loopbackPeer("server", 0, 0)
	h := &recordingHandler{replyWith: types.PartiallyOK, self: self}
	s := startServer(t, h, 10*time.Second)

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := types.NewRequest(1, types.Request3, 0, loopbackPeer("alice", 0, 0), s.PeerAddress(self.ID))
	b, err := codec.New().EncodeFrame(req)
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	reply, err := codec.New().DecodeFrame(r, nil)
	require.NoError(t, err)
	assert.Equal(t, types.PartiallyOK, reply.Type)
	assert.Equal(t, req.ID, reply.ID)

	require.NoError(t, s.Stop())
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return h.inactiveCount() == 1 }, waitFor, tick)

	t.Log("✅ 服务端 TCP 测试通过")
}

// TestServer_IdleInbound 测试入站连接空闲关闭并软上报发送方
func TestServer_IdleInbound(t *testing.T) {
	l := &recordingListener{}
	s := startServer(t, &recordingHandler{}, 100*time.Millisecond, l)

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := types.NewRequest(1, types.RequestFF1, 0, loopbackPeer("alice", 4001, 4001), s.PeerAddress(types.PeerIDFromName("server")))
	b, err := codec.New().EncodeFrame(req)
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool { return len(l.failed()) == 1 }, waitFor, tick)
	assert.True(t, l.failed()[0].remote.Equal(req.Sender))
	assert.False(t, l.failed()[0].force)

	t.Log("✅ 入站空闲测试通过")
}

// TestServer_Lifecycle 测试重复启动与地址
func TestServer_Lifecycle(t *testing.T) {
	s := NewServer(ServerOptions{}, nil, nil, nil, nil)
	assert.Nil(t, s.TCPAddr())
	assert.NoError(t, s.Stop())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrServerStarted)

	id := types.PeerIDFromName("me")
	addr := s.PeerAddress(id)
	assert.Equal(t, id, addr.ID)
	assert.True(t, addr.IP.Equal(net.IPv4(127, 0, 0, 1)))
	assert.Equal(t, s.TCPAddr().Port, addr.TCPPort)
	assert.Equal(t, s.UDPAddr().Port, addr.UDPPort)

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())

	t.Log("✅ 服务端生命周期测试通过")
}

// TestPeerConnection 测试长连接复用与独占
func TestPeerConnection(t *testing.T) {
	self := loopbackPeer("server", 0, 0)
	s := startServer(t, &recordingHandler{replyWith: types.OK, self: self}, 10*time.Second)
	remote := s.PeerAddress(self.ID)

	f := NewConnectionFactory(0, 1, nil)
	pc := NewPeerConnection(remote, f)
	assert.Equal(t, remote, pc.Remote())
	assert.Same(t, f, pc.Factory())
	assert.False(t, pc.IsActive())

	require.True(t, pc.Acquire())
	assert.False(t, pc.Acquire())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pc.AcquireContext(ctx), context.DeadlineExceeded)
	pc.Release()
	pc.Release()
	require.NoError(t, pc.AcquireContext(context.Background()))
	pc.Release()

	client := &recordingHandler{}
	sender := NewSender(nil, nil)
	before := TCPConnectionCount()

	for i := 0; i < 2; i++ {
		msg := types.NewRequest(1, types.Request1, uint8(i), loopbackPeer("alice", 0, 0), remote).SetKeepAlive(true)
		sender.SendTCP(client, future.NewResponse(msg), msg, nil, 10*time.Second, time.Second, pc)
		require.Eventually(t, func() bool { return len(client.messages()) == i+1 }, waitFor, tick)
		assert.True(t, pc.IsActive())
	}
	assert.Equal(t, before+1, TCPConnectionCount())
	assert.True(t, client.messages()[1].IsKeepAlive())

	ch := pc.ChannelFuture().Channel()
	closed := pc.Close()
	awaitDone(t, closed.Done())
	assert.NoError(t, closed.Err())
	assert.False(t, ch.IsOpen())
	assert.False(t, pc.IsActive())

	t.Log("✅ 长连接测试通过")
}
