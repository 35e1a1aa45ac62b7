// Package metrics 统计传输层带宽
//
// BandwidthCounter 按方向（入站/出站）和传输（tcp/udp）累计字节数，
// 并用 60 个一秒桶的滑动窗口计算最近一分钟的平均速率。
//
// # 使用示例
//
//	bw := metrics.NewBandwidthCounter(nil)
//	bw.LogSent(metrics.TransportTCP, int64(n))
//	stats := bw.Totals()
//
// Collector 把计数导出为 prometheus 指标：
//
//	dhtnet_bandwidth_bytes_total{direction="in|out", transport="tcp|udp"}
package metrics
