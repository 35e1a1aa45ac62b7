package connection

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-dhtnet/internal/core/metrics"
)

// 进程级套接字创建计数
var (
	createdTCP atomic.Int64
	createdUDP atomic.Int64

	createdTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dhtnet",
		Subsystem: "connection",
		Name:      "created_total",
		Help:      "Number of sockets created by connection factories.",
	}, []string{"proto"})
)

// bandwidth 进程级字节计数，所有通道共享
var bandwidth = metrics.NewBandwidthCounter(nil)

// Bandwidth 进程级带宽统计
func Bandwidth() *metrics.BandwidthCounter {
	return bandwidth
}

func countTCP() {
	createdTCP.Add(1)
	createdTotal.WithLabelValues("tcp").Inc()
}

func countUDP() {
	createdUDP.Add(1)
	createdTotal.WithLabelValues("udp").Inc()
}

// TCPConnectionCount 自上次重置以来创建的 TCP 连接数
func TCPConnectionCount() int64 {
	return createdTCP.Load()
}

// UDPConnectionCount 自上次重置以来创建的 UDP 套接字数
func UDPConnectionCount() int64 {
	return createdUDP.Load()
}

// ResetConnectionCounts 清零计数；prometheus 计数器单调递增，不受影响
func ResetConnectionCounts() {
	createdTCP.Store(0)
	createdUDP.Store(0)
}

// RegisterMetrics 向 reg 注册连接指标，重复注册不报错
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(createdTotal); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
	}
	return nil
}
