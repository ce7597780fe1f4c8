package memory

import (
	"context"
	"testing"

	"officemesh/internal/core/domain"
)

func TestProximityRepositorySymmetry(t *testing.T) {
	r := NewMemoryProximityRepository()
	ctx := context.Background()

	changed, err := r.Add(ctx, "alice", "bob", domain.MediaAudio)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !changed {
		t.Error("first add must report a change")
	}

	// Stored once, visible in both directions.
	for _, pair := range [][2]domain.UserID{{"alice", "bob"}, {"bob", "alice"}} {
		in, _ := r.InRange(ctx, pair[0], pair[1], domain.MediaAudio)
		if !in {
			t.Errorf("InRange(%s, %s) = false, want true", pair[0], pair[1])
		}
	}

	// Re-adding from the other direction is a no-op.
	changed, _ = r.Add(ctx, "bob", "alice", domain.MediaAudio)
	if changed {
		t.Error("duplicate add must not report a change")
	}

	changed, _ = r.Remove(ctx, "bob", "alice", domain.MediaAudio)
	if !changed {
		t.Error("remove of an existing edge must report a change")
	}
	in, _ := r.InRange(ctx, "alice", "bob", domain.MediaAudio)
	if in {
		t.Error("edge must be gone in both directions after remove")
	}

	changed, _ = r.Remove(ctx, "alice", "bob", domain.MediaAudio)
	if changed {
		t.Error("removing a missing edge must not report a change")
	}
}

func TestProximityRepositoryKindsAreIndependent(t *testing.T) {
	r := NewMemoryProximityRepository()
	ctx := context.Background()

	r.Add(ctx, "alice", "bob", domain.MediaAudio)

	in, _ := r.InRange(ctx, "alice", "bob", domain.MediaVideo)
	if in {
		t.Error("audio edge must not imply a video edge")
	}
}

func TestProximityRepositoryRejectsUnknownKind(t *testing.T) {
	r := NewMemoryProximityRepository()
	ctx := context.Background()

	if _, err := r.Add(ctx, "alice", "bob", domain.MediaKind("hologram")); err != domain.ErrInvalidMediaKind {
		t.Errorf("err = %v, want ErrInvalidMediaKind", err)
	}
}

func TestProximityRepositoryNeighbors(t *testing.T) {
	r := NewMemoryProximityRepository()
	ctx := context.Background()

	r.Add(ctx, "alice", "bob", domain.MediaAudio)
	r.Add(ctx, "alice", "carol", domain.MediaAudio)
	r.Add(ctx, "alice", "bob", domain.MediaVideo)

	audio, _ := r.Neighbors(ctx, "alice", domain.MediaAudio)
	if len(audio) != 2 {
		t.Errorf("audio neighbors = %v, want 2 entries", audio)
	}
	video, _ := r.Neighbors(ctx, "alice", domain.MediaVideo)
	if len(video) != 1 || video[0] != "bob" {
		t.Errorf("video neighbors = %v, want [bob]", video)
	}
}

func TestProximityRepositoryRemoveAll(t *testing.T) {
	r := NewMemoryProximityRepository()
	ctx := context.Background()

	r.Add(ctx, "alice", "bob", domain.MediaAudio)
	r.Add(ctx, "alice", "carol", domain.MediaAudio)
	r.Add(ctx, "alice", "bob", domain.MediaVideo)
	r.Add(ctx, "bob", "carol", domain.MediaAudio)

	former, err := r.RemoveAll(ctx, "alice")
	if err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if len(former[domain.MediaAudio]) != 2 {
		t.Errorf("former audio neighbors = %v, want 2", former[domain.MediaAudio])
	}
	if len(former[domain.MediaVideo]) != 1 {
		t.Errorf("former video neighbors = %v, want 1", former[domain.MediaVideo])
	}

	in, _ := r.InRange(ctx, "bob", "alice", domain.MediaAudio)
	if in {
		t.Error("reverse edges must be cleaned up")
	}
	in, _ = r.InRange(ctx, "bob", "carol", domain.MediaAudio)
	if !in {
		t.Error("unrelated edges must survive")
	}
}

func TestProximityRepositoryPairCount(t *testing.T) {
	r := NewMemoryProximityRepository()
	ctx := context.Background()

	r.Add(ctx, "alice", "bob", domain.MediaAudio)
	r.Add(ctx, "alice", "carol", domain.MediaAudio)
	r.Add(ctx, "alice", "bob", domain.MediaVideo)

	n, _ := r.PairCount(ctx, domain.MediaAudio)
	if n != 2 {
		t.Errorf("audio pair count = %d, want 2", n)
	}
	n, _ = r.PairCount(ctx, domain.MediaVideo)
	if n != 1 {
		t.Errorf("video pair count = %d, want 1", n)
	}
}
