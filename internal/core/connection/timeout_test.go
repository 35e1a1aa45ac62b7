package connection

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtnet/internal/core/future"
	"github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// TestTimeoutFactory_Request 测试挂起请求在关闭完成后以 Timeout 失败
func TestTimeoutFactory_Request(t *testing.T) {
	mock := clock.NewMock()
	l := &recordingListener{}
	req := testRequest(1)
	resp := future.NewResponse(req)

	tf := NewTimeoutFactory(resp, time.Second, []liveness.PeerStatusListener{l})
	assert.Equal(t, time.Second, tf.Stage().Timeout())
	chA, _ := pipeChannels(t, mock, Stages{Timeout: tf.Stage()}, Stages{})

	closedFirst := make(chan bool, 1)
	resp.AddListener(func(*future.Response) {
		closedFirst <- chA.CloseFuture().IsCompleted()
	})

	require.Eventually(t, func() bool {
		mock.Add(250 * time.Millisecond)
		return resp.IsCompleted()
	}, waitFor, tick)

	assert.True(t, <-closedFirst)
	assert.True(t, types.IsAbortCause(resp.Err(), types.Timeout))
	assert.True(t, errors.Is(resp.Err(), ErrChannelIdle))

	require.Eventually(t, func() bool { return len(l.failed()) == 1 }, waitFor, tick)
	f := l.failed()[0]
	assert.False(t, f.force)
	assert.True(t, f.remote.Equal(req.Recipient))

	t.Log("✅ 请求超时测试通过")
}

// TestTimeoutFactory_InboundDecodedPeer 测试服务端用解码记录的发送方上报
func TestTimeoutFactory_InboundDecodedPeer(t *testing.T) {
	mock := clock.NewMock()
	l := &recordingListener{}
	hb := &recordingHandler{}
	tf := NewTimeoutFactory(nil, time.Second, []liveness.PeerStatusListener{l})
	chA, chB := pipeChannels(t, mock, Stages{}, Stages{Timeout: tf.Stage(), Handler: hb})

	req := testRequest(7)
	awaitDone(t, chA.Write(req).Done())
	require.Eventually(t, func() bool { return len(hb.messages()) == 1 }, waitFor, tick)

	require.Eventually(t, func() bool {
		mock.Add(250 * time.Millisecond)
		return !chB.IsOpen()
	}, waitFor, tick)

	require.Eventually(t, func() bool { return len(l.failed()) == 1 }, waitFor, tick)
	f := l.failed()[0]
	assert.False(t, f.force)
	assert.True(t, f.remote.Equal(req.Sender))

	t.Log("✅ 入站空闲上报测试通过")
}

// TestTimeoutFactory_InboundUnknownPeer 测试无法确定地址时只关闭
func TestTimeoutFactory_InboundUnknownPeer(t *testing.T) {
	mock := clock.NewMock()
	l := &recordingListener{}
	tf := NewTimeoutFactory(nil, time.Second, []liveness.PeerStatusListener{l})
	_, chB := pipeChannels(t, mock, Stages{}, Stages{Timeout: tf.Stage()})

	require.Eventually(t, func() bool {
		mock.Add(250 * time.Millisecond)
		return !chB.IsOpen()
	}, waitFor, tick)
	require.Never(t, func() bool { return len(l.failed()) > 0 }, 10*tick, tick)

	t.Log("✅ 未知对端空闲测试通过")
}

func TestIdlePeer_SocketAddress(t *testing.T) {
	pc := udpSink(t)
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}
	ch := newReplyChannel(pc, from, Stages{}, nil)
	defer ch.Close()

	p, ok := idlePeer(ch)
	require.True(t, ok)
	assert.Equal(t, 5555, p.UDPPort)
	assert.True(t, p.ID.IsZero())
}
