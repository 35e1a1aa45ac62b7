package dispatcher

import "github.com/dep2p/go-dhtnet/pkg/types"

// table 不可变路由表快照
type table map[types.PeerID]map[uint8]Handler

// with 返回加入 (id, cmds) -> h 的新快照
func (t table) with(id types.PeerID, h Handler, cmds []uint8) table {
	next := make(table, len(t)+1)
	for k, v := range t {
		next[k] = v
	}
	cmdMap := make(map[uint8]Handler, len(t[id])+len(cmds))
	for c, old := range t[id] {
		cmdMap[c] = old
	}
	for _, c := range cmds {
		cmdMap[c] = h
	}
	next[id] = cmdMap
	return next
}

// without 返回移除 id 全部条目的新快照
func (t table) without(id types.PeerID) table {
	next := make(table, len(t))
	for k, v := range t {
		if k != id {
			next[k] = v
		}
	}
	return next
}

func (t table) lookup(id types.PeerID, cmd uint8) Handler {
	return t[id][cmd]
}
