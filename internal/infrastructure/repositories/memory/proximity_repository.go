package memory

import (
	"context"
	"sync"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
)

// MemoryProximityRepository stores the in-range relation as adjacency sets per
// media kind. Both directions are written together under one lock, so the
// symmetry invariant holds at every observable point.
type MemoryProximityRepository struct {
	mu   sync.RWMutex
	sets map[domain.MediaKind]map[domain.UserID]map[domain.UserID]bool
}

func NewMemoryProximityRepository() ports.ProximityRepository {
	return &MemoryProximityRepository{
		sets: map[domain.MediaKind]map[domain.UserID]map[domain.UserID]bool{
			domain.MediaAudio: make(map[domain.UserID]map[domain.UserID]bool),
			domain.MediaVideo: make(map[domain.UserID]map[domain.UserID]bool),
		},
	}
}

func (r *MemoryProximityRepository) set(media domain.MediaKind) (map[domain.UserID]map[domain.UserID]bool, error) {
	s, ok := r.sets[media]
	if !ok {
		return nil, domain.ErrInvalidMediaKind
	}
	return s, nil
}

func (r *MemoryProximityRepository) Add(ctx context.Context, a, b domain.UserID, media domain.MediaKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.set(media)
	if err != nil {
		return false, err
	}
	if s[a][b] {
		return false, nil
	}
	if s[a] == nil {
		s[a] = make(map[domain.UserID]bool)
	}
	if s[b] == nil {
		s[b] = make(map[domain.UserID]bool)
	}
	s[a][b] = true
	s[b][a] = true
	return true, nil
}

func (r *MemoryProximityRepository) Remove(ctx context.Context, a, b domain.UserID, media domain.MediaKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.set(media)
	if err != nil {
		return false, err
	}
	if !s[a][b] {
		return false, nil
	}
	delete(s[a], b)
	delete(s[b], a)
	if len(s[a]) == 0 {
		delete(s, a)
	}
	if len(s[b]) == 0 {
		delete(s, b)
	}
	return true, nil
}

func (r *MemoryProximityRepository) InRange(ctx context.Context, a, b domain.UserID, media domain.MediaKind) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.set(media)
	if err != nil {
		return false, err
	}
	return s[a][b], nil
}

func (r *MemoryProximityRepository) Neighbors(ctx context.Context, u domain.UserID, media domain.MediaKind) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.set(media)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserID, 0, len(s[u]))
	for n := range s[u] {
		out = append(out, n)
	}
	return out, nil
}

func (r *MemoryProximityRepository) RemoveAll(ctx context.Context, u domain.UserID) (map[domain.MediaKind][]domain.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	former := make(map[domain.MediaKind][]domain.UserID, len(r.sets))
	for media, s := range r.sets {
		for n := range s[u] {
			former[media] = append(former[media], n)
			delete(s[n], u)
			if len(s[n]) == 0 {
				delete(s, n)
			}
		}
		delete(s, u)
	}
	return former, nil
}

func (r *MemoryProximityRepository) PairCount(ctx context.Context, media domain.MediaKind) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.set(media)
	if err != nil {
		return 0, err
	}
	edges := 0
	for _, neighbors := range s {
		edges += len(neighbors)
	}
	// Each pair is stored in both directions.
	return edges / 2, nil
}
