package dhtnet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/dep2p/go-dhtnet/config"
	"github.com/dep2p/go-dhtnet/internal/core/dispatcher"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// ============================================================================
//                              Mock 实现
// ============================================================================

type recordingListener struct {
	mu    sync.Mutex
	found []types.PeerAddress
}

func (l *recordingListener) PeerFound(remote, _ types.PeerAddress) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.found = append(l.found, remote)
	return true
}

func (l *recordingListener) PeerFailed(types.PeerAddress, bool) bool { return true }

func (l *recordingListener) foundCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.found)
}

// ============================================================================
//                              辅助函数
// ============================================================================

func startNode(t *testing.T, name string, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithName(name), WithListenAddr("127.0.0.1")}, opts...)
	n, err := New(opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ============================================================================
//                              生命周期
// ============================================================================

// TestNode_Lifecycle 测试启动、重复启动与停止
func TestNode_Lifecycle(t *testing.T) {
	n, err := New(WithName("alice"), WithListenAddr("127.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, types.PeerIDFromName("alice"), n.ID())

	ctx := testContext(t)
	require.NoError(t, n.Start(ctx))
	assert.ErrorIs(t, n.Start(ctx), ErrAlreadyStarted)

	addr := n.PeerAddress()
	assert.NotZero(t, addr.TCPPort)
	assert.NotZero(t, addr.UDPPort)
	assert.Equal(t, "127.0.0.1", addr.IP.String())

	require.NoError(t, n.Stop(ctx))
	require.NoError(t, n.Stop(ctx), "重复停止应无副作用")
	assert.ErrorIs(t, n.Start(ctx), ErrNodeClosed)

	t.Log("✅ 节点生命周期测试通过")
}

// TestNode_InvalidConfig 测试非法配置在构建时被拒绝
func TestNode_InvalidConfig(t *testing.T) {
	_, err := New(WithPermits(0, 1, 1))
	assert.Error(t, err)

	_, err = New(WithPeerID("not-hex"))
	assert.Error(t, err)

	_, err = New(WithConfig(nil))
	assert.Error(t, err)

	t.Log("✅ 非法配置测试通过")
}

// TestNode_WithConfig 测试完整配置与覆盖项合并
func TestNode_WithConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Connection = cfg.Connection.WithPermits(4, 5, 6)

	n, err := New(WithConfig(cfg), WithName("bob"))
	require.NoError(t, err)

	limits := n.Reservation().Limits()
	assert.Equal(t, 4, limits.UDP)
	assert.Equal(t, 5, limits.TCP)
	assert.Equal(t, 6, limits.PermanentTCP)
	assert.Equal(t, "bob", n.Config().Identity.Name)
	assert.Empty(t, cfg.Identity.Name, "调用方的配置不应被修改")

	t.Log("✅ 配置合并测试通过")
}

// TestNode_PingNotStarted 测试未启动时拒绝请求
func TestNode_PingNotStarted(t *testing.T) {
	n, err := New(WithName("idle"))
	require.NoError(t, err)

	remote := types.PeerAddress{ID: types.PeerIDFromName("x"), UDPPort: 1}
	_, err = n.Ping(testContext(t), remote)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = n.PingTCP(testContext(t), types.PeerAddress{})
	assert.ErrorIs(t, err, ErrNoRoute)

	t.Log("✅ 未启动请求测试通过")
}

// ============================================================================
//                              端到端
// ============================================================================

// TestNode_Ping 测试两个节点之间的 UDP / TCP ping
func TestNode_Ping(t *testing.T) {
	rec := &recordingListener{}
	a := startNode(t, "a", WithStatusListener(rec))
	b := startNode(t, "b")
	ctx := testContext(t)

	reply, err := a.Ping(ctx, b.PeerAddress())
	require.NoError(t, err)
	assert.Equal(t, types.OK, reply.Type)
	assert.Equal(t, b.ID(), reply.Sender.ID)

	reply, err = a.PingTCP(ctx, b.PeerAddress())
	require.NoError(t, err)
	assert.Equal(t, types.OK, reply.Type)

	assert.Equal(t, types.PeerStatusOnline, a.Status(b.PeerAddress()))
	assert.Equal(t, 2, rec.foundCount())

	require.Eventually(t, func() bool {
		return a.Reservation().LiveFactories() == 0
	}, 2*time.Second, 5*time.Millisecond, "每次 ping 结束后工厂应已关闭")

	t.Log("✅ 节点 ping 测试通过")
}

// TestNode_ForceUDP 测试强制 UDP 时 TCP ping 改走 UDP
func TestNode_ForceUDP(t *testing.T) {
	a := startNode(t, "a", WithForceUDP())
	b := startNode(t, "b")
	ctx := testContext(t)

	// 去掉 TCP 端口，只有改走 UDP 才能送达
	remote := b.PeerAddress()
	remote.TCPPort = 0

	reply, err := a.PingTCP(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, types.OK, reply.Type)
	assert.True(t, a.Config().Connection.ForceUDP)

	t.Log("✅ 强制 UDP 测试通过")
}

// TestNode_ForceTCP 测试强制 TCP 时 ping 改走 TCP
func TestNode_ForceTCP(t *testing.T) {
	a := startNode(t, "a", WithForceTCP())
	b := startNode(t, "b")

	remote := b.PeerAddress()
	remote.UDPPort = 0

	reply, err := a.Ping(testContext(t), remote)
	require.NoError(t, err)
	assert.Equal(t, types.OK, reply.Type)

	t.Log("✅ 强制 TCP 测试通过")
}

// TestNode_PingFireAndForget 测试单向 ping
func TestNode_PingFireAndForget(t *testing.T) {
	a := startNode(t, "a")
	b := startNode(t, "b")

	require.NoError(t, a.PingFireAndForget(testContext(t), b.PeerAddress()))

	t.Log("✅ 单向 ping 测试通过")
}

// TestNode_PingUnreachable 测试对端无应答时超时并标记降级
func TestNode_PingUnreachable(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Connection = cfg.Connection.WithIdle(100 * time.Millisecond)
	a := startNode(t, "a", WithConfig(cfg))
	b := startNode(t, "b")
	remote := b.PeerAddress()
	require.NoError(t, b.Close())

	_, err := a.Ping(testContext(t), remote)
	require.Error(t, err)
	// 超时为软失败（降级），ICMP 拒绝为硬失败（离线）
	require.Eventually(t, func() bool {
		s := a.Status(remote)
		return s == types.PeerStatusDegraded || s == types.PeerStatusOffline
	}, 2*time.Second, 5*time.Millisecond)

	t.Log("✅ 不可达 ping 测试通过")
}

// TestNode_CustomHandler 测试自定义命令处理器
func TestNode_CustomHandler(t *testing.T) {
	const echo uint8 = 7
	a := startNode(t, "a")
	b := startNode(t, "b")
	b.Dispatcher().RegisterHandler(b.ID(), dispatcher.HandlerFunc(func(msg *types.Message) *types.Message {
		reply := msg.Reply(b.PeerAddress(), types.OK)
		reply.Payload = append([]byte("echo:"), msg.Payload...)
		return reply
	}), echo)

	ctx := testContext(t)
	f, err := a.Reservation().Reserve(0, 1).Await(ctx)
	require.NoError(t, err)
	defer f.Shutdown()

	msg := a.NewRequest(types.Request1, echo, b.PeerAddress())
	msg.Payload = []byte("hello")
	reply, err := a.Requests().New(msg).SendTCP(f).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(reply.Payload))

	t.Log("✅ 自定义处理器测试通过")
}

// TestNode_Registerer 测试指标注册
func TestNode_Registerer(t *testing.T) {
	reg := prometheus.NewRegistry()
	startNode(t, "metrics", WithRegisterer(reg))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "dhtnet_reservation_pending")

	t.Log("✅ 指标注册测试通过")
}

// TestNode_FxOptions 测试用户 Fx 选项可以取到内部组件
func TestNode_FxOptions(t *testing.T) {
	var got *dispatcher.Dispatcher
	n := startNode(t, "fx", WithFxOptions(fx.Invoke(func(d *dispatcher.Dispatcher) { got = d })))
	assert.Same(t, n.Dispatcher(), got)

	t.Log("✅ Fx 选项测试通过")
}

// TestVersionInfo 测试版本信息
func TestVersionInfo(t *testing.T) {
	assert.Contains(t, VersionInfo(), Version)
}
