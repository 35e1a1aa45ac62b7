// Package types 定义 dhtnet 的基础数据类型
//
// 这是最底层的包，不依赖任何其他 dhtnet 包。
//
// # 文件组织
//
//   - ids.go      - PeerID（160 位节点标识）
//   - address.go  - PeerAddress（节点标识 + IP + TCP/UDP 端口）
//   - message.go  - MessageType, Message, MessageKey
//   - errors.go   - PeerError, AbortCause 及公共错误
//   - liveness.go - PeerStatus
package types
