package ports

import (
	"context"

	"officemesh/internal/core/domain"
)

// PeerStateRepository owns the per-user media records. Implementations must
// serialize mutation per user key: Update runs fn while holding that user's
// lock, so read-modify-write cycles are atomic.
type PeerStateRepository interface {
	// GetOrCreate never fails; an unknown user gets a fresh record.
	GetOrCreate(ctx context.Context, id domain.UserID) *domain.PeerState
	// Update runs fn with exclusive access to the user's record, creating it
	// if needed.
	Update(ctx context.Context, id domain.UserID, fn func(*domain.PeerState) error) error
	// View runs fn with shared access to the user's record. fn must not
	// mutate. Returns domain.ErrPeerNotFound for unknown users.
	View(ctx context.Context, id domain.UserID, fn func(*domain.PeerState) error) error
	Remove(ctx context.Context, id domain.UserID) error
	List(ctx context.Context) ([]*domain.PeerState, error)
	Count(ctx context.Context) int
}

// ProximityRepository maintains the symmetric in-range relation per media kind.
type ProximityRepository interface {
	// Add returns false when the pair was already in range (idempotent enter).
	Add(ctx context.Context, a, b domain.UserID, media domain.MediaKind) (bool, error)
	// Remove returns false when the pair was not in range (no-op leave).
	Remove(ctx context.Context, a, b domain.UserID, media domain.MediaKind) (bool, error)
	InRange(ctx context.Context, a, b domain.UserID, media domain.MediaKind) (bool, error)
	Neighbors(ctx context.Context, u domain.UserID, media domain.MediaKind) ([]domain.UserID, error)
	// RemoveAll drops every pair involving u and returns the former neighbors
	// per media kind, so disconnect handling can treat them as leaves.
	RemoveAll(ctx context.Context, u domain.UserID) (map[domain.MediaKind][]domain.UserID, error)
	PairCount(ctx context.Context, media domain.MediaKind) (int, error)
}

// MeetingRepository owns consent state per unordered user pair. Update is the
// only mutation path and runs fn under the pair's lock: concurrent accepts for
// the same pair observe each other.
type MeetingRepository interface {
	Update(ctx context.Context, key domain.PairKey, fn func(*domain.MeetingState) error) error
	// Get returns a copy; mutating it has no effect on stored state.
	Get(ctx context.Context, key domain.PairKey) (domain.MeetingState, error)
	// ActiveFor lists pair keys of active meetings involving u.
	ActiveFor(ctx context.Context, u domain.UserID) ([]domain.PairKey, error)
	Remove(ctx context.Context, key domain.PairKey) error
	// Counts reports (active, prompted) pairs for stats.
	Counts(ctx context.Context, nowMs int64) (int, int, error)
}

// ActionQueue is the per-user FIFO of pending actions. The queue stays the
// source of truth until drained; redelivery after a failed push is safe
// because clients apply actions idempotently.
type ActionQueue interface {
	Enqueue(ctx context.Context, user domain.UserID, actions ...domain.Action) error
	// Drain removes and returns all pending actions in enqueue order.
	Drain(ctx context.Context, user domain.UserID) ([]domain.Action, error)
	// Requeue puts a drained batch back at the head of the queue, ahead of
	// anything enqueued since and in its original order, so a batch whose
	// delivery failed is redelivered first on the next drain.
	Requeue(ctx context.Context, user domain.UserID, actions ...domain.Action) error
	Len(ctx context.Context, user domain.UserID) (int, error)
	Clear(ctx context.Context, user domain.UserID) error
	Total(ctx context.Context) (int, error)
}

// PendingNotifier is told whenever a user's queue goes non-empty, so a push
// transport (or a peer instance via the event bus) can trigger a drain.
type PendingNotifier interface {
	NotifyPending(ctx context.Context, user domain.UserID)
}
