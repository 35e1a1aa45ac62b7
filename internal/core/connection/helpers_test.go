package connection

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtnet/pkg/types"
)

// ============================================================================
//                              Mock 实现
// ============================================================================

// recordingHandler 记录入站事件，可选自动应答
type recordingHandler struct {
	mu        sync.Mutex
	reads     []*types.Message
	errs      []error
	inactive  int
	replyWith types.MessageType
	self      types.PeerAddress
}

func (h *recordingHandler) ChannelRead(ch *Channel, msg *types.Message) {
	h.mu.Lock()
	h.reads = append(h.reads, msg)
	reply := h.replyWith
	h.mu.Unlock()
	if reply != 0 && msg.Type.IsRequest() {
		ch.Write(msg.Reply(h.self, reply))
	}
}

func (h *recordingHandler) ChannelInactive(*Channel) {
	h.mu.Lock()
	h.inactive++
	h.mu.Unlock()
}

func (h *recordingHandler) ExceptionCaught(_ *Channel, err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *recordingHandler) messages() []*types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*types.Message(nil), h.reads...)
}

func (h *recordingHandler) inactiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inactive
}

// failure 一次 PeerFailed 调用
type failure struct {
	remote types.PeerAddress
	force  bool
}

// recordingListener 记录存活事件
type recordingListener struct {
	mu       sync.Mutex
	found    []types.PeerAddress
	failures []failure
}

func (l *recordingListener) PeerFound(remote, _ types.PeerAddress) bool {
	l.mu.Lock()
	l.found = append(l.found, remote)
	l.mu.Unlock()
	return true
}

func (l *recordingListener) PeerFailed(remote types.PeerAddress, force bool) bool {
	l.mu.Lock()
	l.failures = append(l.failures, failure{remote: remote, force: force})
	l.mu.Unlock()
	return true
}

func (l *recordingListener) failed() []failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]failure(nil), l.failures...)
}

// ============================================================================
//                              辅助函数
// ============================================================================

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// loopbackPeer 回环地址上的对端，端口来自已绑定的套接字
func loopbackPeer(name string, tcpPort, udpPort int) types.PeerAddress {
	return types.NewPeerAddress(types.PeerIDFromName(name), net.IPv4(127, 0, 0, 1), tcpPort, udpPort)
}

// closedTCPPort 返回一个刚释放的本地 TCP 端口，连接会被拒绝
func closedTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// udpSink 只接收不应答的 UDP 套接字
func udpSink(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func awaitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for completion")
	}
}
