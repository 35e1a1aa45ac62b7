// Package dhtnet 是 DHT 节点的传输核心
//
// Node 把各内部模块组装成一个可运行的节点：
//
//   - liveness    对端存活跟踪（PeerStatusListener 默认实现）
//   - connection  许可池、连接工厂、Sender 与入站服务端
//   - request     请求处理器（关联应答、超时与存活反馈）
//   - dispatcher  入站请求按 (身份, 命令) 分发
//
// # 快速开始
//
//	node, err := dhtnet.New(dhtnet.WithName("alice"), dhtnet.WithPorts(4000, 4000))
//	if err != nil {
//	    return err
//	}
//	if err := node.Start(ctx); err != nil {
//	    return err
//	}
//	defer node.Close()
//
//	reply, err := node.Ping(ctx, remote)
//
// # 自定义处理器
//
//	node.Dispatcher().RegisterHandler(node.ID(), handler, myCommand)
//
// 请求方通过 Reservation 预留许可得到 ConnectionFactory，再用
// Requests().New(msg) 创建处理器发送，最后关闭工厂归还许可。
package dhtnet
