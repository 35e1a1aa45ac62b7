package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dhtnet/pkg/types"
)

// TestNewConfig 测试创建默认配置
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.Connection.IdleTCP.Duration())
	assert.Equal(t, 3*time.Second, cfg.Connection.ConnectTimeoutTCP.Duration())
	assert.Equal(t, 250, cfg.Connection.MaxPermitsUDP)
	assert.Equal(t, uint32(1), cfg.Dispatcher.P2PID)
	assert.Equal(t, "0.0.0.0", cfg.Server.ListenAddr)

	t.Log("✅ NewConfig 测试通过")
}

// TestIdentityConfig 测试身份配置
func TestIdentityConfig(t *testing.T) {
	t.Run("Empty_Random", func(t *testing.T) {
		cfg := DefaultIdentityConfig()
		assert.NoError(t, cfg.Validate())
		assert.False(t, cfg.Resolve().IsZero())
	})

	t.Run("Name", func(t *testing.T) {
		cfg := DefaultIdentityConfig().WithName("alice")
		assert.Equal(t, types.PeerIDFromName("alice"), cfg.Resolve())
	})

	t.Run("PeerID", func(t *testing.T) {
		id := types.RandomPeerID()
		cfg := IdentityConfig{PeerID: id.String(), Name: "ignored"}
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, id, cfg.Resolve())
	})

	t.Run("Invalid", func(t *testing.T) {
		cfg := IdentityConfig{PeerID: "xyz"}
		assert.Error(t, cfg.Validate())
	})

	t.Log("✅ IdentityConfig 测试通过")
}

// TestConnectionConfig 测试连接配置
func TestConnectionConfig(t *testing.T) {
	t.Run("ForceBoth", func(t *testing.T) {
		cfg := DefaultConnectionConfig().WithForceUDP(true).WithForceTCP(true)
		assert.Error(t, cfg.Validate())
	})

	t.Run("ZeroPermits", func(t *testing.T) {
		cfg := DefaultConnectionConfig().WithPermits(0, 1, 1)
		assert.Error(t, cfg.Validate())
	})

	t.Run("ZeroIdle", func(t *testing.T) {
		cfg := DefaultConnectionConfig().WithIdle(0)
		assert.Error(t, cfg.Validate())
	})

	t.Run("Builders", func(t *testing.T) {
		cfg := DefaultConnectionConfig().
			WithIdle(time.Second).
			WithConnectTimeout(500 * time.Millisecond).
			WithPermits(1, 2, 3)
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, time.Second, cfg.IdleUDP.Duration())
		assert.Equal(t, int64(500), cfg.ConnectTimeoutTCP.Millis())
		assert.Equal(t, 3, cfg.MaxPermitsPermanentTCP)
	})

	t.Log("✅ ConnectionConfig 测试通过")
}

// TestDispatcherConfig 测试分发配置
func TestDispatcherConfig(t *testing.T) {
	assert.NoError(t, DefaultDispatcherConfig().Validate())
	assert.Error(t, DefaultDispatcherConfig().WithRecvRateLimit(10, 0).Validate())
	assert.Error(t, DefaultDispatcherConfig().WithRecvRateLimit(-1, 1).Validate())
	assert.NoError(t, DefaultDispatcherConfig().WithRecvRateLimit(10, 5).Validate())

	t.Log("✅ DispatcherConfig 测试通过")
}

// TestServerConfig 测试监听配置
func TestServerConfig(t *testing.T) {
	assert.NoError(t, DefaultServerConfig().WithPorts(7700, 7701).Validate())
	assert.Error(t, DefaultServerConfig().WithPorts(70000, 0).Validate())
	assert.Error(t, DefaultServerConfig().WithListenAddr("localhost").Validate())

	cfg := DefaultServerConfig()
	cfg.AdvertiseAddr = "not-an-ip"
	assert.Error(t, cfg.Validate())

	t.Log("✅ ServerConfig 测试通过")
}

// TestLivenessConfig 测试存活跟踪配置
func TestLivenessConfig(t *testing.T) {
	assert.NoError(t, DefaultLivenessConfig().Validate())

	cfg := DefaultLivenessConfig()
	cfg.MaxSoftFailures = 0
	assert.Error(t, cfg.Validate())

	t.Log("✅ LivenessConfig 测试通过")
}

// TestFromJSON 测试 JSON 加载
func TestFromJSON(t *testing.T) {
	t.Run("Overlay", func(t *testing.T) {
		data := []byte(`{
			"connection": {"idle_tcp": "2s", "max_permits_udp": 10},
			"server": {"tcp_port": 7700}
		}`)
		cfg, err := FromJSON(data)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Connection.IdleTCP.Duration())
		assert.Equal(t, 5*time.Second, cfg.Connection.IdleUDP.Duration())
		assert.Equal(t, 10, cfg.Connection.MaxPermitsUDP)
		assert.Equal(t, 7700, cfg.Server.TCPPort)
	})

	t.Run("NanosecondDuration", func(t *testing.T) {
		cfg, err := FromJSON([]byte(`{"connection": {"idle_udp": 1000000000}}`))
		require.NoError(t, err)
		assert.Equal(t, time.Second, cfg.Connection.IdleUDP.Duration())
	})

	t.Run("BadDuration", func(t *testing.T) {
		_, err := FromJSON([]byte(`{"connection": {"idle_udp": "soon"}}`))
		assert.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := FromJSON([]byte(`{"connection": {"force_tcp": true, "force_udp": true}}`))
		assert.Error(t, err)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Server.TCPPort = 9000
		data, err := cfg.ToJSON()
		require.NoError(t, err)
		assert.Contains(t, string(data), `"idle_tcp": "5s"`)

		back, err := FromJSON(data)
		require.NoError(t, err)
		assert.Equal(t, cfg, back)
	})

	t.Log("✅ FromJSON 测试通过")
}
