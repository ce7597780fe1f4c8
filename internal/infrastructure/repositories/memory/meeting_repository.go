package memory

import (
	"context"
	"sync"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
)

type meetingEntry struct {
	mu    sync.Mutex
	state *domain.MeetingState
}

// MemoryMeetingRepository guards each pair with its own mutex. Update runs
// the caller's closure under that mutex, so the accept transition is an
// atomic read-modify-write: two concurrent accepts for the same pair cannot
// both observe "nobody accepted yet".
type MemoryMeetingRepository struct {
	mu       sync.RWMutex
	meetings map[domain.PairKey]*meetingEntry
}

func NewMemoryMeetingRepository() ports.MeetingRepository {
	return &MemoryMeetingRepository{
		meetings: make(map[domain.PairKey]*meetingEntry),
	}
}

func (r *MemoryMeetingRepository) entry(key domain.PairKey) *meetingEntry {
	r.mu.RLock()
	e, ok := r.meetings[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.meetings[key]; ok {
		return e
	}
	e = &meetingEntry{state: domain.NewMeetingState(key)}
	r.meetings[key] = e
	return e
}

func (r *MemoryMeetingRepository) Update(ctx context.Context, key domain.PairKey, fn func(*domain.MeetingState) error) error {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

func (r *MemoryMeetingRepository) Get(ctx context.Context, key domain.PairKey) (domain.MeetingState, error) {
	e := r.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.state, nil
}

func (r *MemoryMeetingRepository) ActiveFor(ctx context.Context, u domain.UserID) ([]domain.PairKey, error) {
	r.mu.RLock()
	entries := make([]*meetingEntry, 0, len(r.meetings))
	for _, e := range r.meetings {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var keys []domain.PairKey
	for _, e := range entries {
		e.mu.Lock()
		if e.state.Active && e.state.Key.Contains(u) {
			keys = append(keys, e.state.Key)
		}
		e.mu.Unlock()
	}
	return keys, nil
}

func (r *MemoryMeetingRepository) Remove(ctx context.Context, key domain.PairKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meetings, key)
	return nil
}

func (r *MemoryMeetingRepository) Counts(ctx context.Context, nowMs int64) (int, int, error) {
	r.mu.RLock()
	entries := make([]*meetingEntry, 0, len(r.meetings))
	for _, e := range r.meetings {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	active, prompted := 0, 0
	for _, e := range entries {
		e.mu.Lock()
		switch e.state.Phase(nowMs) {
		case domain.MeetingActive:
			active++
		case domain.MeetingPrompted:
			prompted++
		}
		e.mu.Unlock()
	}
	return active, prompted, nil
}
