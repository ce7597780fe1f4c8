package memory

import (
	"context"
	"testing"

	"officemesh/internal/core/domain"
)

func TestPeerStateUpdateCreatesAndPersists(t *testing.T) {
	r := NewMemoryPeerStateRepository()
	ctx := context.Background()

	err := r.Update(ctx, "alice", func(st *domain.PeerState) error {
		st.VideoProducer = &domain.Producer{ID: "p1", Kind: domain.MediaVideo}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = r.View(ctx, "alice", func(st *domain.PeerState) error {
		if st.VideoProducer == nil || st.VideoProducer.ID != "p1" {
			t.Errorf("video producer not persisted: %+v", st.VideoProducer)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestPeerStateViewMissingPeer(t *testing.T) {
	r := NewMemoryPeerStateRepository()
	ctx := context.Background()

	err := r.View(ctx, "ghost", func(*domain.PeerState) error { return nil })
	if err != domain.ErrPeerNotFound {
		t.Errorf("err = %v, want ErrPeerNotFound", err)
	}
}

func TestPeerStateRemove(t *testing.T) {
	r := NewMemoryPeerStateRepository()
	ctx := context.Background()

	r.GetOrCreate(ctx, "alice")
	if r.Count(ctx) != 1 {
		t.Fatalf("count = %d, want 1", r.Count(ctx))
	}

	if err := r.Remove(ctx, "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if r.Count(ctx) != 0 {
		t.Errorf("count after remove = %d, want 0", r.Count(ctx))
	}
	if err := r.Remove(ctx, "alice"); err != domain.ErrPeerNotFound {
		t.Errorf("second remove err = %v, want ErrPeerNotFound", err)
	}
}

func TestPeerStateList(t *testing.T) {
	r := NewMemoryPeerStateRepository()
	ctx := context.Background()

	r.GetOrCreate(ctx, "alice")
	r.GetOrCreate(ctx, "bob")

	peers, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(peers) != 2 {
		t.Errorf("list returned %d peers, want 2", len(peers))
	}
}
