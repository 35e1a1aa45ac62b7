// Package connection 实现 dhtnet 的传输核心
//
// # 组件
//
//   - Channel: 一个 TCP 连接或 UDP 套接字，带读循环、有序写队列和空闲检测
//   - ConnectionFactory: 持有固定数量 UDP/TCP 许可，每个套接字占一个许可，
//     套接字关闭时归还；关闭时等待所有套接字关闭并收回全部许可
//   - Reservation: 三个全局许可池（UDP、TCP、长连接 TCP），按 FIFO 顺序
//     为调用方分配 ConnectionFactory
//   - Sender: 建立或复用连接、写出请求，并把取消和完成接到挂起请求上
//   - TimeoutFactory: 空闲检测触发时关闭连接并上报对端软失败
//   - Server: 监听 TCP/UDP，把入站消息交给 Dispatcher
//
// # 完成顺序
//
// 由同一操作触发的关闭总是先完成，之后才发布挂起请求的结果。
// 调用方看到结果时，对应套接字的许可已经归还。
package connection

import "github.com/dep2p/go-dhtnet/internal/util/logger"

var log = logger.Logger("connection")
