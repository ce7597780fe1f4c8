package memory

import (
	"context"
	"sync"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
)

type peerEntry struct {
	mu    sync.RWMutex
	state *domain.PeerState
}

// MemoryPeerStateRepository keeps one lock per user so mutations to a given
// user's media record are serialized without a global bottleneck.
type MemoryPeerStateRepository struct {
	mu    sync.RWMutex
	peers map[domain.UserID]*peerEntry
}

func NewMemoryPeerStateRepository() ports.PeerStateRepository {
	return &MemoryPeerStateRepository{
		peers: make(map[domain.UserID]*peerEntry),
	}
}

func (r *MemoryPeerStateRepository) entry(id domain.UserID, create bool) *peerEntry {
	r.mu.RLock()
	e, ok := r.peers[id]
	r.mu.RUnlock()
	if ok || !create {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.peers[id]; ok {
		return e
	}
	e = &peerEntry{state: domain.NewPeerState(id)}
	r.peers[id] = e
	return e
}

func (r *MemoryPeerStateRepository) GetOrCreate(ctx context.Context, id domain.UserID) *domain.PeerState {
	return r.entry(id, true).state
}

func (r *MemoryPeerStateRepository) Update(ctx context.Context, id domain.UserID, fn func(*domain.PeerState) error) error {
	e := r.entry(id, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

func (r *MemoryPeerStateRepository) View(ctx context.Context, id domain.UserID, fn func(*domain.PeerState) error) error {
	e := r.entry(id, false)
	if e == nil {
		return domain.ErrPeerNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.state)
}

func (r *MemoryPeerStateRepository) Remove(ctx context.Context, id domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return domain.ErrPeerNotFound
	}
	delete(r.peers, id)
	return nil
}

func (r *MemoryPeerStateRepository) List(ctx context.Context) ([]*domain.PeerState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.PeerState, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.state)
	}
	return out, nil
}

func (r *MemoryPeerStateRepository) Count(ctx context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
