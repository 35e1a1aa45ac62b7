package codec

import "errors"

var (
	// ErrMessageTooLarge 帧长度超过 MaxMessageSize
	ErrMessageTooLarge = errors.New("message too large")

	// ErrPacketTooLarge 编码后超过 MaxPacketSize，无法放入单个数据报
	ErrPacketTooLarge = errors.New("message does not fit into a datagram")

	// ErrInvalidAddress 地址字段格式错误
	ErrInvalidAddress = errors.New("invalid peer address encoding")

	// ErrInvalidType 未定义的消息类型
	ErrInvalidType = errors.New("invalid message type")

	// ErrTruncated 声明的负载长度超过帧内剩余字节
	ErrTruncated = errors.New("payload length exceeds remaining bytes")

	// ErrTrailingData 帧内有多余字节
	ErrTrailingData = errors.New("trailing data after message")
)
