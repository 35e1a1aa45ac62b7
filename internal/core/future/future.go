package future

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Listener 完成回调
type Listener[T any] func(f *Future[T])

// Future 一次性完成的异步结果
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	notifying bool
	value     T
	err       error
	listeners []Listener[T]
}

// New 创建未完成的 Future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Succeeded 创建已成功的 Future
func Succeeded[T any](v T) *Future[T] {
	f := New[T]()
	f.SetSuccess(v)
	return f
}

// Failed 创建已失败的 Future
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.SetFailed(err)
	return f
}

// SetSuccess 以 v 完成；已完成时返回 false
func (f *Future[T]) SetSuccess(v T) bool {
	return f.complete(v, nil)
}

// SetFailed 以 err 失败；已完成时返回 false
func (f *Future[T]) SetFailed(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.value, f.err = v, err
	f.completed = true
	f.notifying = true
	close(f.done)
	f.mu.Unlock()

	f.notify()
	return true
}

// notify 由持有 notifying 标记的 goroutine 执行，排空监听者队列
func (f *Future[T]) notify() {
	for {
		f.mu.Lock()
		ls := f.listeners
		f.listeners = nil
		if len(ls) == 0 {
			f.notifying = false
			f.mu.Unlock()
			return
		}
		f.mu.Unlock()

		for _, l := range ls {
			l(f)
		}
	}
}

// AddListener 注册完成回调
//
// 已完成时立即执行；若正在通知，则排在已注册的监听者之后。
func (f *Future[T]) AddListener(l Listener[T]) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	if !f.completed || f.notifying {
		f.mu.Unlock()
		return
	}
	f.notifying = true
	f.mu.Unlock()
	f.notify()
}

// Done 完成时关闭的通道
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await 等待完成或 ctx 结束
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result 非阻塞读取结果，未完成时返回零值
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// IsCompleted 是否已完成
func (f *Future[T]) IsCompleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// IsSuccess 已完成且无错误
func (f *Future[T]) IsSuccess() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed && f.err == nil
}

// Err 失败原因
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Value 成功值
func (f *Future[T]) Value() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// ============================================================================
//                              Done - 无值 Future
// ============================================================================

// Done 只关心完成与否的 Future
type Done = Future[struct{}]

// NewDone 创建未完成的 Done
func NewDone() *Done {
	return New[struct{}]()
}

// DoneSucceeded 已成功的 Done
func DoneSucceeded() *Done {
	return Succeeded(struct{}{})
}

// DoneFailed 已失败的 Done
func DoneFailed(err error) *Done {
	return Failed[struct{}](err)
}

// Complete 以成功完成 Done
func Complete(d *Done) bool {
	return d.SetSuccess(struct{}{})
}

// All 在所有 Future 完成后完成；任一失败则以合并后的错误失败
func All[T any](fs ...*Future[T]) *Done {
	all := NewDone()
	if len(fs) == 0 {
		Complete(all)
		return all
	}

	var (
		mu      sync.Mutex
		pending = len(fs)
		errs    error
	)
	for _, f := range fs {
		f.AddListener(func(f *Future[T]) {
			mu.Lock()
			errs = multierr.Append(errs, f.Err())
			pending--
			last := pending == 0
			err := errs
			mu.Unlock()

			if !last {
				return
			}
			if err != nil {
				all.SetFailed(err)
			} else {
				Complete(all)
			}
		})
	}
	return all
}
