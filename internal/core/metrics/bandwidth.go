package metrics

import (
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// 传输标签
const (
	TransportTCP = "tcp"
	TransportUDP = "udp"
)

// Transports 所有传输标签
var Transports = []string{TransportTCP, TransportUDP}

// meter 单一方向的累计量和速率
type meter struct {
	total atomic.Int64
	rate  *RateMeter
}

func newMeter(clk clock.Clock) *meter {
	return &meter{rate: NewRateMeter(clk)}
}

func (m *meter) add(n int64) {
	m.total.Add(n)
	m.rate.Add(n)
}

func (m *meter) reset() {
	m.total.Store(0)
	m.rate.Reset()
}

// direction 一个传输的入站和出站
type direction struct {
	in, out *meter
}

func (d direction) stats() Stats {
	return Stats{
		TotalIn:  d.in.total.Load(),
		TotalOut: d.out.total.Load(),
		RateIn:   d.in.rate.Rate(),
		RateOut:  d.out.rate.Rate(),
	}
}

// BandwidthCounter 带宽计数器
//
// 传输集合固定，计数路径只有原子操作和一次速率桶加锁。
type BandwidthCounter struct {
	total      direction
	transports map[string]direction
}

// NewBandwidthCounter 创建 BandwidthCounter
func NewBandwidthCounter(clk clock.Clock) *BandwidthCounter {
	if clk == nil {
		clk = clock.New()
	}
	bwc := &BandwidthCounter{
		total:      direction{in: newMeter(clk), out: newMeter(clk)},
		transports: make(map[string]direction, len(Transports)),
	}
	for _, t := range Transports {
		bwc.transports[t] = direction{in: newMeter(clk), out: newMeter(clk)}
	}
	return bwc
}

// LogSent 记录出站字节；未知传输只计入总量
func (bwc *BandwidthCounter) LogSent(transport string, n int64) {
	if n <= 0 {
		return
	}
	bwc.total.out.add(n)
	if d, ok := bwc.transports[transport]; ok {
		d.out.add(n)
	}
}

// LogRecv 记录入站字节
func (bwc *BandwidthCounter) LogRecv(transport string, n int64) {
	if n <= 0 {
		return
	}
	bwc.total.in.add(n)
	if d, ok := bwc.transports[transport]; ok {
		d.in.add(n)
	}
}

// Totals 总带宽统计
func (bwc *BandwidthCounter) Totals() Stats {
	return bwc.total.stats()
}

// ForTransport 单个传输的统计，未知传输返回零值
func (bwc *BandwidthCounter) ForTransport(transport string) Stats {
	d, ok := bwc.transports[transport]
	if !ok {
		return Stats{}
	}
	return d.stats()
}

// ByTransport 所有传输的统计
func (bwc *BandwidthCounter) ByTransport() map[string]Stats {
	out := make(map[string]Stats, len(bwc.transports))
	for t, d := range bwc.transports {
		out[t] = d.stats()
	}
	return out
}

// Reset 清除所有统计
func (bwc *BandwidthCounter) Reset() {
	bwc.total.in.reset()
	bwc.total.out.reset()
	for _, d := range bwc.transports {
		d.in.reset()
		d.out.reset()
	}
}
