package connection

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtnet/internal/core/codec"
	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

func readPacket(t *testing.T, pc net.PacketConn) *types.Message {
	t.Helper()
	buf := make([]byte, maxDatagram)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(waitFor)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	msg, err := codec.New().DecodePacket(buf[:n], nil)
	require.NoError(t, err)
	return msg
}

// TestSender_FireAndForgetUDP 测试单向 UDP 请求在套接字关闭后以 nil 应答完成
func TestSender_FireAndForgetUDP(t *testing.T) {
	sink := udpSink(t)
	port := sink.LocalAddr().(*net.UDPAddr).Port
	msg := types.NewRequest(1, types.RequestFF1, 3, loopbackPeer("alice", 0, 0), loopbackPeer("bob", 0, port))
	resp := future.NewResponse(msg)

	f := NewConnectionFactory(1, 0, nil)
	defer f.Shutdown()

	openAtDone := make(chan int, 1)
	resp.AddListener(func(*future.Response) { openAtDone <- f.OpenChannels() })

	NewSender(nil, nil).SendUDP(nil, resp, msg, f, time.Second, false)
	awaitDone(t, resp.Done())
	require.NoError(t, resp.Err())
	assert.Nil(t, resp.Message())
	assert.Equal(t, 0, <-openAtDone)

	got := readPacket(t, sink)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, types.RequestFF1, got.Type)

	t.Log("✅ 单向 UDP 测试通过")
}

// TestSender_FireAndForgetTCP 测试单向 TCP 请求的数据在关闭前送达
func TestSender_FireAndForgetTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan *types.Message, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		msg, err := codec.New().DecodeFrame(bufio.NewReader(c), nil)
		if err == nil {
			received <- msg
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	msg := types.NewRequest(1, types.RequestFF2, 0, loopbackPeer("alice", 0, 0), loopbackPeer("bob", port, 0))
	msg.Payload = []byte("payload")
	resp := future.NewResponse(msg)

	f := NewConnectionFactory(0, 1, nil)
	defer f.Shutdown()

	NewSender(nil, nil).SendTCP(nil, resp, msg, f, time.Second, time.Second, nil)
	awaitDone(t, resp.Done())
	require.NoError(t, resp.Err())
	assert.Equal(t, 0, f.OpenChannels())

	select {
	case got := <-received:
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, []byte("payload"), got.Payload)
	case <-time.After(waitFor):
		t.Fatal("message not delivered")
	}

	t.Log("✅ 单向 TCP 测试通过")
}

// TestSender_Timeout 测试无应答时空闲超时失败并软上报接收方
func TestSender_Timeout(t *testing.T) {
	mock := clock.NewMock()
	sink := udpSink(t)
	port := sink.LocalAddr().(*net.UDPAddr).Port
	msg := types.NewRequest(1, types.Request1, 0, loopbackPeer("alice", 0, 0), loopbackPeer("bob", 0, port))
	resp := future.NewResponse(msg)

	l := &recordingListener{}
	f := NewConnectionFactory(1, 0, mock)
	defer f.Shutdown()

	openAtDone := make(chan int, 1)
	resp.AddListener(func(*future.Response) { openAtDone <- f.OpenChannels() })

	s := NewSender([]liveness.PeerStatusListener{l}, nil)
	s.SendUDP(&recordingHandler{}, resp, msg, f, time.Second, false)
	readPacket(t, sink)

	require.Eventually(t, func() bool {
		mock.Add(250 * time.Millisecond)
		return resp.IsCompleted()
	}, waitFor, tick)

	assert.True(t, types.IsAbortCause(resp.Err(), types.Timeout))
	assert.Equal(t, 0, <-openAtDone)
	require.Eventually(t, func() bool { return len(l.failed()) == 1 }, waitFor, tick)
	assert.False(t, l.failed()[0].force)

	t.Log("✅ 请求超时测试通过")
}

// TestSender_Cancel 测试取消已写出的请求会关闭通道
func TestSender_Cancel(t *testing.T) {
	sink := udpSink(t)
	port := sink.LocalAddr().(*net.UDPAddr).Port
	msg := types.NewRequest(1, types.Request2, 0, loopbackPeer("alice", 0, 0), loopbackPeer("bob", 0, port))
	resp := future.NewResponse(msg)

	f := NewConnectionFactory(1, 0, nil)
	defer f.Shutdown()

	NewSender(nil, nil).SendUDP(&recordingHandler{}, resp, msg, f, 10*time.Second, false)
	readPacket(t, sink)

	require.True(t, resp.Cancel())
	assert.True(t, types.IsAbortCause(resp.Err(), types.UserAbort))
	require.Eventually(t, func() bool { return f.OpenChannels() == 0 }, waitFor, tick)
	assert.False(t, resp.Cancel())

	t.Log("✅ 取消测试通过")
}

// TestSender_CancelAwaitingReplyTCP 测试等待应答阶段取消会关闭连接并归还许可
func TestSender_CancelAwaitingReplyTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan struct{}, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		if _, err := codec.New().DecodeFrame(br, nil); err == nil {
			received <- struct{}{}
		}
		// 不应答，直到对端关闭
		_, _ = br.ReadByte()
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	msg := types.NewRequest(1, types.Request1, 0, loopbackPeer("alice", 0, 0), loopbackPeer("bob", port, 0))
	resp := future.NewResponse(msg)

	f := NewConnectionFactory(0, 1, nil)
	defer f.Shutdown()

	NewSender(nil, nil).SendTCP(&recordingHandler{}, resp, msg, f, 10*time.Second, time.Second, nil)
	select {
	case <-received:
	case <-time.After(waitFor):
		t.Fatal("request not delivered")
	}
	assert.Equal(t, 1, f.OpenChannels())

	require.True(t, resp.Cancel())
	assert.True(t, types.IsAbortCause(resp.Err(), types.UserAbort))
	require.Eventually(t, func() bool { return f.OpenChannels() == 0 }, waitFor, tick)

	t.Log("✅ 等待应答阶段取消测试通过")
}

// TestSender_ConnectFailure 测试建连失败
func TestSender_ConnectFailure(t *testing.T) {
	port := closedTCPPort(t)
	msg := types.NewRequest(1, types.Request1, 0, loopbackPeer("alice", 0, 0), loopbackPeer("bob", port, 0))
	resp := future.NewResponse(msg)

	f := NewConnectionFactory(0, 1, nil)
	defer f.Shutdown()

	NewSender(nil, nil).SendTCP(&recordingHandler{}, resp, msg, f, time.Second, time.Second, nil)
	awaitDone(t, resp.Done())
	assert.ErrorIs(t, resp.Err(), ErrChannelCreation)
	assert.Equal(t, 0, f.OpenChannels())

	t.Log("✅ 建连失败测试通过")
}

// TestSender_FactoryShutDown 测试工厂已关闭时请求失败
func TestSender_FactoryShutDown(t *testing.T) {
	msg := types.NewRequest(1, types.Request1, 0, loopbackPeer("alice", 0, 0), loopbackPeer("bob", 0, 9))
	resp := future.NewResponse(msg)

	f := NewConnectionFactory(1, 0, nil)
	awaitDone(t, f.Shutdown().Done())

	NewSender(nil, nil).SendUDP(nil, resp, msg, f, time.Second, false)
	require.True(t, resp.IsCompleted())
	assert.ErrorIs(t, resp.Err(), ErrShuttingDown)

	t.Log("✅ 工厂关闭后发送测试通过")
}

// TestSender_AlreadyCompleted 测试已完成的请求不再建连
func TestSender_AlreadyCompleted(t *testing.T) {
	msg := types.NewRequest(1, types.Request1, 0, loopbackPeer("alice", 0, 0), loopbackPeer("bob", 0, 9))
	resp := future.NewResponse(msg)
	require.True(t, resp.Cancel())

	f := NewConnectionFactory(1, 0, nil)
	defer f.Shutdown()

	NewSender(nil, nil).SendUDP(nil, resp, msg, f, time.Second, false)
	assert.Equal(t, 0, f.OpenChannels())
	assert.True(t, types.IsAbortCause(resp.Err(), types.UserAbort))
}
