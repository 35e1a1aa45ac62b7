package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-dhtnet/internal/core/future"
)

// FactoryFuture 预留完成后得到的 ConnectionFactory
type FactoryFuture = future.Future[*ConnectionFactory]

// Limits 全局许可上限
type Limits struct {
	UDP          int
	TCP          int
	PermanentTCP int
}

type reservationTask struct {
	udp, tcp  int
	permanent bool
	fut       *FactoryFuture
}

// Reservation 全局许可池
//
// 预留请求进入 FIFO 队列，由单个 worker 依次处理：先取 UDP 再取 TCP，
// 凑齐后创建 ConnectionFactory。工厂关闭时许可归还。
type Reservation struct {
	limits       Limits
	udp          *semaphore.Weighted
	tcp          *semaphore.Weighted
	permanentTCP *semaphore.Weighted
	clock        clock.Clock

	// ctx 在 Shutdown 开始时取消，阻塞中的许可获取随之返回
	ctx    context.Context
	cancel context.CancelFunc

	// worker 创建工厂时持读锁，Shutdown 取快照时持写锁
	lock         sync.RWMutex
	shuttingDown atomic.Bool

	qmu    sync.Mutex
	queue  []*reservationTask
	wakeup chan struct{}

	liveMu sync.Mutex
	live   map[*ConnectionFactory]struct{}

	shutdownFuture *future.Done
}

// NewReservation 创建 Reservation 并启动 worker
func NewReservation(limits Limits, clk clock.Clock) *Reservation {
	if limits.UDP < 0 || limits.TCP < 0 || limits.PermanentTCP < 0 {
		panic(fmt.Sprintf("negative reservation limits: %+v", limits))
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reservation{
		limits:         limits,
		udp:            semaphore.NewWeighted(int64(limits.UDP)),
		tcp:            semaphore.NewWeighted(int64(limits.TCP)),
		permanentTCP:   semaphore.NewWeighted(int64(limits.PermanentTCP)),
		clock:          clk,
		ctx:            ctx,
		cancel:         cancel,
		wakeup:         make(chan struct{}, 1),
		live:           make(map[*ConnectionFactory]struct{}),
		shutdownFuture: future.NewDone(),
	}
	go r.worker()
	return r
}

// Limits 全局上限
func (r *Reservation) Limits() Limits {
	return r.limits
}

// Reserve 预留 udp 个 UDP 和 tcp 个 TCP 短连接许可
//
// 超过上限或为负数属于调用方错误，直接 panic。
func (r *Reservation) Reserve(udp, tcp int) *FactoryFuture {
	if udp < 0 || udp > r.limits.UDP {
		panic(fmt.Sprintf("cannot acquire %d UDP permits, maximum is %d", udp, r.limits.UDP))
	}
	if tcp < 0 || tcp > r.limits.TCP {
		panic(fmt.Sprintf("cannot acquire %d TCP permits, maximum is %d", tcp, r.limits.TCP))
	}
	return r.enqueue(&reservationTask{udp: udp, tcp: tcp})
}

// ReservePermanent 预留 tcp 个长连接 TCP 许可
func (r *Reservation) ReservePermanent(tcp int) *FactoryFuture {
	if tcp < 0 || tcp > r.limits.PermanentTCP {
		panic(fmt.Sprintf("cannot acquire %d permanent TCP permits, maximum is %d", tcp, r.limits.PermanentTCP))
	}
	return r.enqueue(&reservationTask{tcp: tcp, permanent: true})
}

// ReserveFor 按路由并行度和请求并行度推算许可数后预留
//
// 请求走 TCP（forceUDP 时走 UDP），路由走 UDP（forceTCP 时走 TCP），
// 同一协议取两者较大值。两个并行度都为 0 时 panic。
func (r *Reservation) ReserveFor(routingParallel, requestParallel int, forceUDP, forceTCP bool) *FactoryFuture {
	if routingParallel <= 0 && requestParallel <= 0 {
		panic("both routing and request parallelism are zero")
	}
	udp, tcp := 0, 0
	if requestParallel > 0 {
		if forceUDP {
			udp = requestParallel
		} else {
			tcp = requestParallel
		}
	}
	if routingParallel > 0 {
		if forceTCP {
			tcp = max(tcp, routingParallel)
		} else {
			udp = max(udp, routingParallel)
		}
	}
	return r.Reserve(udp, tcp)
}

// PendingRequests 排队中的预留请求数
func (r *Reservation) PendingRequests() int {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	return len(r.queue)
}

// LiveFactories 尚未关闭的工厂数
func (r *Reservation) LiveFactories() int {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	return len(r.live)
}

// Collector 排队长度和存活工厂数的 prometheus 指标
func (r *Reservation) Collector() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dhtnet",
			Subsystem: "reservation",
			Name:      "pending",
			Help:      "Reservation requests waiting for permits.",
		}, func() float64 { return float64(r.PendingRequests()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dhtnet",
			Subsystem: "reservation",
			Name:      "live_factories",
			Help:      "Connection factories not yet shut down.",
		}, func() float64 { return float64(r.LiveFactories()) }),
	}
}

func (r *Reservation) enqueue(t *reservationTask) *FactoryFuture {
	t.fut = future.New[*ConnectionFactory]()

	// Shutdown 在置位后持 qmu 清空队列，这里在 qmu 内复查
	r.qmu.Lock()
	if r.shuttingDown.Load() {
		r.qmu.Unlock()
		t.fut.SetFailed(ErrShuttingDown)
		return t.fut
	}
	r.queue = append(r.queue, t)
	r.qmu.Unlock()

	select {
	case r.wakeup <- struct{}{}:
	default:
	}
	return t.fut
}

// next 取出队首任务；Shutdown 开始后返回 nil
func (r *Reservation) next() *reservationTask {
	for {
		r.qmu.Lock()
		if len(r.queue) > 0 {
			t := r.queue[0]
			r.queue = r.queue[1:]
			r.qmu.Unlock()
			return t
		}
		r.qmu.Unlock()

		select {
		case <-r.ctx.Done():
			return nil
		case <-r.wakeup:
		}
	}
}

func (r *Reservation) worker() {
	for {
		t := r.next()
		if t == nil {
			return
		}
		r.serve(t)
	}
}

func (r *Reservation) serve(t *reservationTask) {
	r.lock.RLock()
	f, err := r.createFactory(t)
	r.lock.RUnlock()

	if err != nil {
		t.fut.SetFailed(err)
		return
	}
	t.fut.SetSuccess(f)
}

// createFactory 调用方持有读锁
func (r *Reservation) createFactory(t *reservationTask) (*ConnectionFactory, error) {
	if r.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	udpPool, tcpPool := r.udp, r.tcp
	if t.permanent {
		udpPool, tcpPool = nil, r.permanentTCP
	}
	if udpPool != nil {
		if err := udpPool.Acquire(r.ctx, int64(t.udp)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrShuttingDown, err)
		}
	}
	if err := tcpPool.Acquire(r.ctx, int64(t.tcp)); err != nil {
		if udpPool != nil {
			udpPool.Release(int64(t.udp))
		}
		return nil, fmt.Errorf("%w: %w", ErrShuttingDown, err)
	}

	f := NewConnectionFactory(t.udp, t.tcp, r.clock)
	// 第一个监听者：归还许可
	f.ShutdownFuture().AddListener(func(*future.Done) {
		if udpPool != nil {
			udpPool.Release(int64(t.udp))
		}
		tcpPool.Release(int64(t.tcp))
	})

	r.liveMu.Lock()
	r.live[f] = struct{}{}
	r.liveMu.Unlock()
	f.ShutdownFuture().AddListener(func(*future.Done) {
		if r.shuttingDown.Load() {
			return
		}
		r.liveMu.Lock()
		delete(r.live, f)
		r.liveMu.Unlock()
	})

	log.Debug("连接工厂预留完成", "factory", f.ID(), "udp", t.udp, "tcp", t.tcp, "permanent", t.permanent)
	return f, nil
}

// Shutdown 拒绝新的预留，关闭所有存活工厂并收回全部许可
//
// 第二次调用返回一个以 ErrAlreadyShuttingDown 失败的新 future。
func (r *Reservation) Shutdown() *future.Done {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return future.DoneFailed(ErrAlreadyShuttingDown)
	}
	r.cancel()

	r.lock.Lock()
	r.liveMu.Lock()
	factories := make([]*ConnectionFactory, 0, len(r.live))
	for f := range r.live {
		factories = append(factories, f)
	}
	r.liveMu.Unlock()
	r.lock.Unlock()

	r.qmu.Lock()
	queued := r.queue
	r.queue = nil
	r.qmu.Unlock()
	for _, t := range queued {
		t.fut.SetFailed(ErrShuttingDown)
	}

	log.Debug("许可池开始关闭", "factories", len(factories), "queued", len(queued))
	closed := make([]*future.Done, 0, len(factories))
	for _, f := range factories {
		f.Shutdown()
		closed = append(closed, f.ShutdownFuture())
	}
	future.All(closed...).AddListener(func(*future.Done) {
		r.reclaim()
	})
	return r.shutdownFuture
}

func (r *Reservation) reclaim() {
	if !r.udp.TryAcquire(int64(r.limits.UDP)) ||
		!r.tcp.TryAcquire(int64(r.limits.TCP)) ||
		!r.permanentTCP.TryAcquire(int64(r.limits.PermanentTCP)) {
		err := invariant("reservation could not reclaim all permits after shutdown")
		r.shutdownFuture.SetFailed(err)
		log.Error("许可泄漏", "limits", r.limits)
		panic(err)
	}
	log.Debug("许可池已关闭")
	future.Complete(r.shutdownFuture)
}
