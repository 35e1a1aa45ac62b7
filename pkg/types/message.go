package types

import (
	"fmt"
	"math/rand/v2"
)

// ============================================================================
//                              MessageType
// ============================================================================

// MessageType 消息类型
type MessageType uint8

const (
	// Request1 请求，期待应答
	Request1 MessageType = iota
	Request2
	Request3
	Request4
	// RequestFF1 单向请求（fire-and-forget），无应答
	RequestFF1
	RequestFF2
	// OK 成功应答
	OK
	// PartiallyOK 部分成功
	PartiallyOK
	// NotFound 目标不存在
	NotFound
	// Denied 被拒绝
	Denied
	// UnknownID 接收方没有对应的处理器
	UnknownID
	// Exception 接收方处理出错
	Exception
	// Cancel 取消
	Cancel
	// User1 应用自定义
	User1
	User2
)

var messageTypeNames = [...]string{
	"REQUEST_1", "REQUEST_2", "REQUEST_3", "REQUEST_4",
	"REQUEST_FF_1", "REQUEST_FF_2",
	"OK", "PARTIALLY_OK", "NOT_FOUND", "DENIED",
	"UNKNOWN_ID", "EXCEPTION", "CANCEL",
	"USER1", "USER2",
}

// String 返回类型名称
func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// Valid 是否为已定义的类型
func (t MessageType) Valid() bool {
	return int(t) < len(messageTypeNames)
}

// IsRequest 期待应答的请求
func (t MessageType) IsRequest() bool {
	return t <= Request4
}

// IsFireAndForget 单向请求
func (t MessageType) IsFireAndForget() bool {
	return t == RequestFF1 || t == RequestFF2
}

// IsReply 应答类型（含错误应答）
func (t MessageType) IsReply() bool {
	return t >= OK && t <= Cancel
}

// IsOK OK 或 PartiallyOK
func (t MessageType) IsOK() bool {
	return t == OK || t == PartiallyOK
}

// IsNotOK NotFound 或 Denied，对端正常处理但结果为否
func (t MessageType) IsNotOK() bool {
	return t == NotFound || t == Denied
}

// IsError UnknownID、Exception 或 Cancel
func (t MessageType) IsError() bool {
	return t == UnknownID || t == Exception || t == Cancel
}

// ============================================================================
//                              Message
// ============================================================================

// 选项位
const (
	// OptionKeepAlive 应答后保持连接
	OptionKeepAlive uint8 = 1 << 0
	// OptionStreaming 后续还有分片
	OptionStreaming uint8 = 1 << 1
)

// Message 传输层消息
//
// ID 与请求方身份一起构成关联键，见 Key。
type Message struct {
	ID        uint32
	Version   uint32
	Type      MessageType
	Command   uint8
	Sender    PeerAddress
	Recipient PeerAddress
	Options   uint8
	Payload   []byte
}

// NewMessage 构造带随机 ID 的消息
func NewMessage() *Message {
	return &Message{ID: rand.Uint32()}
}

// NewRequest 构造请求
func NewRequest(version uint32, t MessageType, command uint8, sender, recipient PeerAddress) *Message {
	m := NewMessage()
	m.Version = version
	m.Type = t
	m.Command = command
	m.Sender = sender
	m.Recipient = recipient
	return m
}

// IsKeepAlive 是否设置了 keep-alive
func (m *Message) IsKeepAlive() bool {
	return m.Options&OptionKeepAlive != 0
}

// SetKeepAlive 设置 keep-alive 位
func (m *Message) SetKeepAlive(keepAlive bool) *Message {
	if keepAlive {
		m.Options |= OptionKeepAlive
	} else {
		m.Options &^= OptionKeepAlive
	}
	return m
}

// IsDone 是否为最后一个分片；非流式消息总是 true
func (m *Message) IsDone() bool {
	return m.Options&OptionStreaming == 0
}

// SetStreaming 标记后续还有分片
func (m *Message) SetStreaming(more bool) *Message {
	if more {
		m.Options |= OptionStreaming
	} else {
		m.Options &^= OptionStreaming
	}
	return m
}

// Key 关联键
//
// 请求方对请求是 Sender，对应答是 Recipient，因此请求与其应答的键相同。
func (m *Message) Key() MessageKey {
	if m.Type.IsReply() {
		return MessageKey{ID: m.ID, Requester: m.Recipient.ID}
	}
	return MessageKey{ID: m.ID, Requester: m.Sender.ID}
}

// Reply 以 self 为发送方构造应答，保留 ID、版本、命令和 keep-alive
func (m *Message) Reply(self PeerAddress, t MessageType) *Message {
	return &Message{
		ID:        m.ID,
		Version:   m.Version,
		Type:      t,
		Command:   m.Command,
		Sender:    self,
		Recipient: m.Sender,
		Options:   m.Options & OptionKeepAlive,
	}
}

// String 用于日志
func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("msg[id=%d type=%s cmd=%d %s->%s len=%d]",
		m.ID, m.Type, m.Command, m.Sender, m.Recipient, len(m.Payload))
}

// MessageKey 关联键：消息 ID + 请求方身份
type MessageKey struct {
	ID        uint32
	Requester PeerID
}

// String 用于日志
func (k MessageKey) String() string {
	return fmt.Sprintf("%d/%s", k.ID, k.Requester.ShortString())
}
