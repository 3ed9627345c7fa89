package rsocketdemo

import (
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Peer 已连接的对端（RSocket 连接或网关 WebSocket 连接）
type Peer interface {
	ID() string
	Transport() string
	RemoteAddr() string
	Close() error
}

// PeerInfo 对端快照
type PeerInfo struct {
	ID          string    `json:"id"`
	Transport   string    `json:"transport"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
}

type registryEntry struct {
	peer        Peer
	connectedAt time.Time
}

// Registry 维护当前已连接的对端，关停时统一释放
type Registry struct {
	mu    sync.RWMutex
	peers map[string]registryEntry
}

// NewRegistry 创建 Registry
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]registryEntry)}
}

// Add 注册对端，ID 相同时覆盖
func (r *Registry) Add(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID()] = registryEntry{peer: p, connectedAt: time.Now()}
}

// AddIfAbsent 仅当 ID 未被占用时注册，返回是否注册成功
func (r *Registry) AddIfAbsent(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID()]; ok {
		return false
	}
	r.peers[p.ID()] = registryEntry{peer: p, connectedAt: time.Now()}
	return true
}

// Remove 移除对端，返回是否存在
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// RemovePeer 仅当 ID 对应的仍是 p 时移除
func (r *Registry) RemovePeer(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[p.ID()]
	if !ok || e.peer != p {
		return false
	}
	delete(r.peers, p.ID())
	return true
}

// Get 查找对端
func (r *Registry) Get(id string) (Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	if !ok {
		return nil, errors.Wrap(ErrClientNotFound, id)
	}
	return e.peer, nil
}

// Len 返回当前对端数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// List 返回按连接时间排序的快照
func (r *Registry) List() []PeerInfo {
	r.mu.RLock()
	out := make([]PeerInfo, 0, len(r.peers))
	for id, e := range r.peers {
		out = append(out, PeerInfo{
			ID:          id,
			Transport:   e.peer.Transport(),
			Remote:      e.peer.RemoteAddr(),
			ConnectedAt: e.connectedAt,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// DisposeAll 清空注册表并关闭所有对端
// 关闭在锁外进行，对端的关闭回调可以安全地调用 Remove
func (r *Registry) DisposeAll() error {
	r.mu.Lock()
	peers := make([]Peer, 0, len(r.peers))
	for _, e := range r.peers {
		peers = append(peers, e.peer)
	}
	r.peers = make(map[string]registryEntry)
	r.mu.Unlock()

	var errs []error
	for _, p := range peers {
		if err := p.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "close peer %s failed", p.ID()))
		}
	}
	return stderrors.Join(errs...)
}
