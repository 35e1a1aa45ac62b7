package future

import (
	"context"
	"fmt"
	"sync"

	"github.com/dep2p/go-dhtnet/pkg/types"
)

// CancelHandle AddCancel 返回的句柄
type CancelHandle uint64

// Response 挂起请求的结果
//
// 直接完成用 SetResponse / SetFailed；两阶段完成先调用
// SetResponseLater 或 SetFailedLater 记录结果，此后直接完成全部失效，
// 直到 SetResponseNow 发布记录的结果。
type Response struct {
	f       *Future[*types.Message]
	request *types.Message

	mu         sync.Mutex
	pending    bool
	pendingMsg *types.Message
	pendingErr error

	cancels    map[CancelHandle]func()
	nextCancel CancelHandle

	progress        func(*types.Message)
	progressHandler func(*Response)
	progressFirst   bool
}

// NewResponse 为 request 创建挂起结果
func NewResponse(request *types.Message) *Response {
	return &Response{
		f:       New[*types.Message](),
		request: request,
		cancels: make(map[CancelHandle]func()),
	}
}

// Request 原始请求
func (r *Response) Request() *types.Message {
	return r.request
}

// ============================================================================
//                              完成
// ============================================================================

// SetResponse 直接以应答完成
//
// nil 表示无应答（单向请求）并视为成功；OK / NotOK 成功；其他类型失败。
func (r *Response) SetResponse(msg *types.Message) bool {
	r.mu.Lock()
	if r.pending {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()
	return r.publish(msg, nil)
}

// SetFailed 直接失败；已记录两阶段结果时无效
func (r *Response) SetFailed(err error) bool {
	r.mu.Lock()
	if r.pending {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()
	return r.f.SetFailed(err)
}

// SetResponseLater 记录应答，等待 SetResponseNow 发布
func (r *Response) SetResponseLater(msg *types.Message) bool {
	return r.record(msg, nil)
}

// SetFailedLater 记录失败，等待 SetResponseNow 发布
func (r *Response) SetFailedLater(err error) bool {
	return r.record(nil, err)
}

func (r *Response) record(msg *types.Message, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending || r.f.IsCompleted() {
		return false
	}
	r.pending = true
	r.pendingMsg, r.pendingErr = msg, err
	return true
}

// SetResponseNow 发布已记录的结果；没有记录时返回 false
func (r *Response) SetResponseNow() bool {
	r.mu.Lock()
	if !r.pending {
		r.mu.Unlock()
		return false
	}
	msg, err := r.pendingMsg, r.pendingErr
	r.mu.Unlock()
	return r.publish(msg, err)
}

func (r *Response) publish(msg *types.Message, err error) bool {
	if err != nil {
		return r.f.SetFailed(err)
	}
	if msg != nil && !msg.Type.IsOK() && !msg.Type.IsNotOK() {
		return r.f.SetFailed(fmt.Errorf("%w: %s", ErrUnexpectedResponse, msg.Type))
	}
	return r.f.SetSuccess(msg)
}

// IsPending 是否已记录两阶段结果但尚未发布
func (r *Response) IsPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending && !r.f.IsCompleted()
}

// ============================================================================
//                              取消
// ============================================================================

// AddCancel 注册取消钩子
func (r *Response) AddCancel(fn func()) CancelHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCancel++
	r.cancels[r.nextCancel] = fn
	return r.nextCancel
}

// RemoveCancel 移除取消钩子
func (r *Response) RemoveCancel(h CancelHandle) {
	r.mu.Lock()
	delete(r.cancels, h)
	r.mu.Unlock()
}

// Cancel 取消请求：以 UserAbort 失败，然后执行当时注册的取消钩子
//
// 已完成或已记录结果时返回 false，不执行钩子。
func (r *Response) Cancel() bool {
	r.mu.Lock()
	hooks := make([]func(), 0, len(r.cancels))
	for _, fn := range r.cancels {
		hooks = append(hooks, fn)
	}
	r.mu.Unlock()

	if !r.SetFailed(types.NewPeerError(types.UserAbort, "request cancelled")) {
		return false
	}
	for _, fn := range hooks {
		fn()
	}
	return true
}

// ============================================================================
//                              进度
// ============================================================================

// SetProgressListener 设置分片应答回调
func (r *Response) SetProgressListener(fn func(*types.Message)) {
	r.mu.Lock()
	r.progress = fn
	r.mu.Unlock()
}

// Progress 交付一个应答分片
func (r *Response) Progress(msg *types.Message) {
	r.mu.Lock()
	fn := r.progress
	r.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// SetProgressHandler 设置请求写出后的回调，用于在同一连接上继续发送
func (r *Response) SetProgressHandler(fn func(*Response)) {
	r.mu.Lock()
	r.progressHandler = fn
	r.mu.Unlock()
}

// ProgressFirst 请求已写出；只触发一次 progress handler
func (r *Response) ProgressFirst() {
	r.mu.Lock()
	if r.progressFirst {
		r.mu.Unlock()
		return
	}
	r.progressFirst = true
	fn := r.progressHandler
	r.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

// ============================================================================
//                              读取
// ============================================================================

// AddListener 注册完成回调
func (r *Response) AddListener(fn func(*Response)) {
	r.f.AddListener(func(*Future[*types.Message]) { fn(r) })
}

// Done 完成时关闭的通道
func (r *Response) Done() <-chan struct{} {
	return r.f.Done()
}

// Await 等待应答
func (r *Response) Await(ctx context.Context) (*types.Message, error) {
	return r.f.Await(ctx)
}

// IsCompleted 是否已发布结果
func (r *Response) IsCompleted() bool {
	return r.f.IsCompleted()
}

// IsSuccess 是否成功
func (r *Response) IsSuccess() bool {
	return r.f.IsSuccess()
}

// Err 失败原因
func (r *Response) Err() error {
	return r.f.Err()
}

// Message 应答消息；单向请求为 nil
func (r *Response) Message() *types.Message {
	return r.f.Value()
}
