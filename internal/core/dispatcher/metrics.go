package dispatcher

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// 入站结果标签
const (
	resultHandled = "handled"
	resultFF      = "fire_and_forget"
	resultNil     = "nil_reply"
	resultUnknown = "unknown"
	resultVersion = "version"
	resultLimited = "rate_limited"
	resultDropped = "dropped"
	resultNotReq  = "not_request"
	resultTCPFF   = "tcp_fire_and_forget"
)

var inbound = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dhtnet",
	Subsystem: "dispatcher",
	Name:      "inbound_total",
	Help:      "Inbound messages by dispatch result.",
}, []string{"result"})

func count(result string) {
	inbound.WithLabelValues(result).Inc()
}

// RegisterMetrics 向 reg 注册分发指标，重复注册不报错
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(inbound); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
	}
	return nil
}
