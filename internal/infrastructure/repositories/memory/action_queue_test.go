package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"officemesh/internal/core/domain"
)

func TestActionQueueFIFO(t *testing.T) {
	q := NewMemoryActionQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := q.Enqueue(ctx, "alice", domain.Action{
			Type:       domain.ActionConsume,
			ProducerID: domain.ProducerID(fmt.Sprintf("p%d", i)),
		})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	actions, err := q.Drain(ctx, "alice")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(actions) != 5 {
		t.Fatalf("drained %d actions, want 5", len(actions))
	}
	for i, a := range actions {
		want := domain.ProducerID(fmt.Sprintf("p%d", i))
		if a.ProducerID != want {
			t.Errorf("position %d: got %s, want %s", i, a.ProducerID, want)
		}
	}
}

func TestActionQueueDrainEmpties(t *testing.T) {
	q := NewMemoryActionQueue()
	ctx := context.Background()

	q.Enqueue(ctx, "alice", domain.Action{Type: domain.ActionStop})
	if _, err := q.Drain(ctx, "alice"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	again, err := q.Drain(ctx, "alice")
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second drain returned %d actions, want 0", len(again))
	}
}

func TestActionQueueRequeueRestoresHead(t *testing.T) {
	q := NewMemoryActionQueue()
	ctx := context.Background()

	q.Enqueue(ctx, "alice",
		domain.Action{Type: domain.ActionConsume, ProducerID: "p1"},
		domain.Action{Type: domain.ActionConsume, ProducerID: "p2"},
	)
	batch, err := q.Drain(ctx, "alice")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	// New work arrives while the drained batch is in flight, then the
	// delivery fails and the batch comes back.
	q.Enqueue(ctx, "alice", domain.Action{Type: domain.ActionConsume, ProducerID: "p3"})
	if err := q.Requeue(ctx, "alice", batch...); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	actions, err := q.Drain(ctx, "alice")
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("drained %d actions, want 3", len(actions))
	}
	for i, want := range []domain.ProducerID{"p1", "p2", "p3"} {
		if actions[i].ProducerID != want {
			t.Errorf("position %d: got %s, want %s", i, actions[i].ProducerID, want)
		}
	}
}

func TestActionQueueIsolatedPerUser(t *testing.T) {
	q := NewMemoryActionQueue()
	ctx := context.Background()

	q.Enqueue(ctx, "alice", domain.Action{Type: domain.ActionConsume, ProducerID: "pa"})
	q.Enqueue(ctx, "bob", domain.Action{Type: domain.ActionConsume, ProducerID: "pb"})

	aliceActions, _ := q.Drain(ctx, "alice")
	if len(aliceActions) != 1 || aliceActions[0].ProducerID != "pa" {
		t.Errorf("alice got %v", aliceActions)
	}
	if n, _ := q.Len(ctx, "bob"); n != 1 {
		t.Errorf("bob's queue must be untouched, len = %d", n)
	}
}

func TestActionQueueClearAndTotal(t *testing.T) {
	q := NewMemoryActionQueue()
	ctx := context.Background()

	q.Enqueue(ctx, "alice", domain.Action{Type: domain.ActionStop}, domain.Action{Type: domain.ActionStop})
	q.Enqueue(ctx, "bob", domain.Action{Type: domain.ActionStop})

	if total, _ := q.Total(ctx); total != 3 {
		t.Errorf("Total = %d, want 3", total)
	}

	q.Clear(ctx, "alice")
	if total, _ := q.Total(ctx); total != 1 {
		t.Errorf("Total after clear = %d, want 1", total)
	}
}

func TestActionQueueConcurrentEnqueue(t *testing.T) {
	q := NewMemoryActionQueue()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(ctx, "alice", domain.Action{Type: domain.ActionConsume})
			}
		}()
	}
	wg.Wait()

	actions, _ := q.Drain(ctx, "alice")
	if len(actions) != 800 {
		t.Errorf("drained %d actions, want 800", len(actions))
	}
}
