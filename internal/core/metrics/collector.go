package metrics

import "github.com/prometheus/client_golang/prometheus"

var bytesDesc = prometheus.NewDesc(
	"dhtnet_bandwidth_bytes_total",
	"Bytes moved by transport sockets.",
	[]string{"direction", "transport"}, nil,
)

// collector 按需读取计数，不额外保存状态
type collector struct {
	bwc *BandwidthCounter
}

// Collector prometheus 采集器
func (bwc *BandwidthCounter) Collector() prometheus.Collector {
	return collector{bwc: bwc}
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bytesDesc
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range Transports {
		s := c.bwc.ForTransport(t)
		ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(s.TotalIn), "in", t)
		ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(s.TotalOut), "out", t)
	}
}
