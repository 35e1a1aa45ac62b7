// Package request 实现请求与应答的关联
//
// Handler 绑定一条请求消息和它的挂起结果（future.Response），
// 作为通道的入站处理阶段接收应答：
//
//   - 应答类型为 UnknownID / Exception，或关联键不一致：按对端中止处理
//   - OK / NotOK 应答：上报对端在线，交付进度；流式应答直到最后一个分片
//   - 非 keep-alive 请求：先关闭通道，关闭完成后才发布结果
//   - keep-alive 请求：直接完成，不关闭通道
//
// 失败上报规则：用户取消不上报，超时软上报，其余硬上报。
package request

import "github.com/dep2p/go-dhtnet/internal/util/logger"

var log = logger.Logger("request")
