// Package dispatcher 把入站请求路由到本地处理器
//
// 路由表以 (本地身份, 命令码) 为键，整表不可变，注册和注销都安装新快照，
// 读路径无锁。
//
// 入站请求的处理顺序：
//
//  1. 网络版本不一致：关闭连接，向所有存活监听者硬上报发送方，不应答
//  2. 限速（可选）：超出预算以 Exception 应答
//  3. 查找处理器：零身份 + 命令 0 视为 ping，映射到本节点
//  4. 处理器返回 nil：Exception 应答；返回请求本身：单向请求，不应答
//     （只允许 UDP，TCP 上视为协议误用）；否则发送其应答
//  5. 找不到处理器：UnknownID 应答
//
// 所有应答写出前检查通道是否仍打开（UDP）或活动（TCP），否则静默丢弃。
package dispatcher

import "github.com/dep2p/go-dhtnet/internal/util/logger"

var log = logger.Logger("dispatcher")
