package liveness

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-dhtnet/config"
	livenessif "github.com/dep2p/go-dhtnet/pkg/interfaces/liveness"
	"github.com/dep2p/go-dhtnet/pkg/types"
)

// ============================================================================
//                              peerState 节点状态
// ============================================================================

type peerState struct {
	addr         types.PeerAddress
	status       types.PeerStatus
	lastSeen     time.Time
	softFailures int
}

// offlineEntry 离线缓存条目
type offlineEntry struct {
	addr  types.PeerAddress
	since time.Time
}

// ============================================================================
//                              Tracker 实现
// ============================================================================

// Tracker 根据传输层上报维护对端存活状态
//
// PeerFound 置为在线；硬失败直接离线；软失败先降级，连续
// MaxSoftFailures 次后离线。离线对端放在容量有限的 LRU 中，
// 超过 OfflineTTL 后视为未知。
type Tracker struct {
	cfg   config.LivenessConfig
	self  types.PeerID
	clock clock.Clock

	mu      sync.RWMutex
	peers   map[types.PeerID]*peerState
	offline *lru.Cache[types.PeerID, offlineEntry]

	cbMu      sync.RWMutex
	callbacks map[uint64]livenessif.StatusChangeCallback
	nextCB    uint64
}

var (
	_ livenessif.PeerStatusListener = (*Tracker)(nil)
	_ livenessif.StatusView         = (*Tracker)(nil)
)

// NewTracker 创建 Tracker；self 为本节点身份，不会被记录
func NewTracker(cfg config.LivenessConfig, self types.PeerID, clk clock.Clock) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	offline, err := lru.New[types.PeerID, offlineEntry](cfg.OfflineCacheSize)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:       cfg,
		self:      self,
		clock:     clk,
		peers:     make(map[types.PeerID]*peerState),
		offline:   offline,
		callbacks: make(map[uint64]livenessif.StatusChangeCallback),
	}, nil
}

// ============================================================================
//                              PeerStatusListener
// ============================================================================

// PeerFound 对端有响应
//
// 第一手消息（referrer 为空或就是 remote）总是可信，会清除离线记录；
// 第三方转告的离线对端被拒绝。零身份和本节点被拒绝。
func (t *Tracker) PeerFound(remote, referrer types.PeerAddress) bool {
	if remote.ID.IsZero() || remote.ID == t.self {
		return false
	}
	firstHand := referrer.IsZero() || referrer.ID == remote.ID

	t.mu.Lock()
	if firstHand {
		t.offline.Remove(remote.ID)
	} else if t.isOfflineLocked(remote.ID) {
		t.mu.Unlock()
		log.Debug("拒绝第三方转告的离线节点", "peer", remote, "referrer", referrer)
		return false
	}

	state, ok := t.peers[remote.ID]
	if !ok {
		state = &peerState{status: types.PeerStatusUnknown}
		t.peers[remote.ID] = state
	}
	old := state.status
	state.addr = remote
	state.lastSeen = t.clock.Now()
	state.softFailures = 0
	state.status = types.PeerStatusOnline
	t.mu.Unlock()

	if old != types.PeerStatusOnline {
		t.notify(remote, old, types.PeerStatusOnline, "found")
	}
	return true
}

// PeerFailed 对端失败；force 为 false 时按软失败计数
func (t *Tracker) PeerFailed(remote types.PeerAddress, force bool) bool {
	if remote.ID.IsZero() || remote.ID == t.self {
		return false
	}

	t.mu.Lock()
	old := t.statusLocked(remote.ID)
	if old == types.PeerStatusOffline {
		// 已离线，刷新离线时间
		t.offline.Add(remote.ID, offlineEntry{addr: remote, since: t.clock.Now()})
		t.mu.Unlock()
		return true
	}
	state, ok := t.peers[remote.ID]
	if !ok {
		state = &peerState{addr: remote, status: types.PeerStatusUnknown}
		t.peers[remote.ID] = state
	}
	state.softFailures++

	next := types.PeerStatusDegraded
	reason := "soft_failure"
	if force || state.softFailures >= t.cfg.MaxSoftFailures {
		next = types.PeerStatusOffline
		reason = "failure"
		delete(t.peers, remote.ID)
		t.offline.Add(remote.ID, offlineEntry{addr: remote, since: t.clock.Now()})
	} else {
		state.status = next
	}
	t.mu.Unlock()

	if old != next {
		log.Debug("节点状态变更", "peer", remote, "old", old, "new", next, "force", force)
		t.notify(remote, old, next, reason)
	}
	return true
}

// ============================================================================
//                              查询
// ============================================================================

// Status 对端状态
func (t *Tracker) Status(remote types.PeerAddress) types.PeerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(remote.ID)
}

func (t *Tracker) statusLocked(id types.PeerID) types.PeerStatus {
	if t.isOfflineLocked(id) {
		return types.PeerStatusOffline
	}
	if state, ok := t.peers[id]; ok {
		return state.status
	}
	return types.PeerStatusUnknown
}

// isOfflineLocked 顺带清理过期的离线记录
func (t *Tracker) isOfflineLocked(id types.PeerID) bool {
	e, ok := t.offline.Get(id)
	if !ok {
		return false
	}
	if t.clock.Since(e.since) > t.cfg.OfflineTTL.Duration() {
		t.offline.Remove(id)
		return false
	}
	return true
}

// OnlinePeers 在线或降级的对端
func (t *Tracker) OnlinePeers() []types.PeerAddress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.PeerAddress, 0, len(t.peers))
	for _, state := range t.peers {
		if state.status.IsAvailable() {
			out = append(out, state.addr)
		}
	}
	return out
}

// OfflineCount 离线缓存中的条目数（含未清理的过期条目）
func (t *Tracker) OfflineCount() int {
	return t.offline.Len()
}

// ============================================================================
//                              回调管理
// ============================================================================

// OnStatusChange 注册状态变更回调，返回取消函数
func (t *Tracker) OnStatusChange(cb livenessif.StatusChangeCallback) func() {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.nextCB++
	id := t.nextCB
	t.callbacks[id] = cb
	return func() {
		t.cbMu.Lock()
		delete(t.callbacks, id)
		t.cbMu.Unlock()
	}
}

// notify 回调在独立 goroutine 中执行，调用方不持有 t.mu
func (t *Tracker) notify(remote types.PeerAddress, old, next types.PeerStatus, reason string) {
	event := types.PeerStatusChangeEvent{
		Peer:      remote,
		OldStatus: old,
		NewStatus: next,
		Reason:    reason,
		Timestamp: t.clock.Now(),
	}

	t.cbMu.RLock()
	callbacks := make([]livenessif.StatusChangeCallback, 0, len(t.callbacks))
	for _, cb := range t.callbacks {
		callbacks = append(callbacks, cb)
	}
	t.cbMu.RUnlock()

	for _, cb := range callbacks {
		go cb(event)
	}
}
