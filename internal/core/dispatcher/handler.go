package dispatcher

import "github.com/dep2p/go-dhtnet/pkg/types"

// Handler 处理一条入站请求
//
// 返回应答消息；返回 nil 表示处理失败（以 Exception 应答）；
// 返回 msg 本身表示单向请求，不应答。
type Handler interface {
	ForwardMessage(msg *types.Message) *types.Message
}

// HandlerFunc 函数适配器
type HandlerFunc func(msg *types.Message) *types.Message

// ForwardMessage 实现 Handler
func (f HandlerFunc) ForwardMessage(msg *types.Message) *types.Message {
	return f(msg)
}

// CommandPing ping 的命令码
const CommandPing uint8 = 0

// PingHandler 应答 ping：请求以 OK 应答，单向 ping 不应答
func PingHandler(self func() types.PeerAddress) Handler {
	return HandlerFunc(func(msg *types.Message) *types.Message {
		if msg.Type.IsFireAndForget() {
			return msg
		}
		return msg.Reply(self(), types.OK)
	})
}
