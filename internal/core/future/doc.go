// Package future 提供一次性完成的异步结果
//
// Future[T] 只能完成一次（成功或失败）。监听者按注册顺序执行；
// 完成后注册的监听者立即执行。Done 通道先于监听者关闭。
//
// Response 是挂起请求的结果，在 Future 之上增加两阶段完成：
// 先记录结果（SetResponseLater / SetFailedLater），待连接关闭后
// 再发布（SetResponseNow）。这样调用方看到结果时，连接的许可
// 已经归还给 ConnectionFactory。
package future
