package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 基础功能测试
// ============================================================================

// TestBandwidthCounter_Totals 测试总量与分传输统计
func TestBandwidthCounter_Totals(t *testing.T) {
	bwc := NewBandwidthCounter(clock.NewMock())

	bwc.LogSent(TransportTCP, 1024)
	bwc.LogSent(TransportUDP, 100)
	bwc.LogRecv(TransportTCP, 512)
	bwc.LogRecv("quic", 7)

	total := bwc.Totals()
	assert.Equal(t, int64(1124), total.TotalOut)
	assert.Equal(t, int64(519), total.TotalIn, "未知传输计入总量")

	tcp := bwc.ForTransport(TransportTCP)
	assert.Equal(t, int64(1024), tcp.TotalOut)
	assert.Equal(t, int64(512), tcp.TotalIn)
	assert.Equal(t, Stats{}, bwc.ForTransport("quic"))

	by := bwc.ByTransport()
	assert.Len(t, by, 2)
	assert.Equal(t, int64(100), by[TransportUDP].TotalOut)

	t.Log("✅ 带宽统计测试通过")
}

// TestBandwidthCounter_IgnoresNonPositive 测试忽略 0 和负数
func TestBandwidthCounter_IgnoresNonPositive(t *testing.T) {
	bwc := NewBandwidthCounter(nil)
	bwc.LogSent(TransportTCP, 0)
	bwc.LogRecv(TransportTCP, -5)
	assert.Equal(t, Stats{}, bwc.Totals())
}

// TestBandwidthCounter_Reset 测试重置
func TestBandwidthCounter_Reset(t *testing.T) {
	bwc := NewBandwidthCounter(clock.NewMock())
	bwc.LogSent(TransportUDP, 10)
	bwc.LogRecv(TransportUDP, 20)

	bwc.Reset()
	assert.Equal(t, Stats{}, bwc.Totals())
	assert.Equal(t, Stats{}, bwc.ForTransport(TransportUDP))
}

// ============================================================================
// 速率测试
// ============================================================================

// TestRateMeter_Window 测试滑动窗口
func TestRateMeter_Window(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateMeter(clk)

	r.Add(60)
	assert.Equal(t, int64(60), r.Window())
	assert.InDelta(t, 1.0, r.Rate(), 1e-9)

	clk.Add(30 * time.Second)
	r.Add(120)
	assert.Equal(t, int64(180), r.Window())

	// 第一个桶滑出窗口
	clk.Add(31 * time.Second)
	assert.Equal(t, int64(120), r.Window())

	// 长时间无数据，窗口清空
	clk.Add(2 * time.Minute)
	assert.Equal(t, int64(0), r.Window())

	t.Log("✅ 滑动窗口测试通过")
}

// TestRateMeter_Reset 测试重置
func TestRateMeter_Reset(t *testing.T) {
	r := NewRateMeter(clock.NewMock())
	r.Add(5)
	r.Reset()
	assert.Equal(t, int64(0), r.Window())
}

// ============================================================================
// prometheus
// ============================================================================

// TestCollector 测试导出指标
func TestCollector(t *testing.T) {
	bwc := NewBandwidthCounter(clock.NewMock())
	bwc.LogSent(TransportTCP, 3)
	bwc.LogRecv(TransportUDP, 4)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(bwc.Collector()))

	expected := `
# HELP dhtnet_bandwidth_bytes_total Bytes moved by transport sockets.
# TYPE dhtnet_bandwidth_bytes_total counter
dhtnet_bandwidth_bytes_total{direction="in",transport="tcp"} 0
dhtnet_bandwidth_bytes_total{direction="in",transport="udp"} 4
dhtnet_bandwidth_bytes_total{direction="out",transport="tcp"} 3
dhtnet_bandwidth_bytes_total{direction="out",transport="udp"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "dhtnet_bandwidth_bytes_total"))

	t.Log("✅ 指标导出测试通过")
}
