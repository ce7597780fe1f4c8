package services

import (
	"context"
	"errors"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
)

// mediaPlanner decides between a fresh consume and a resume for one target
// user and one producer, then enqueues the result. If the target already
// holds a live consumer for the producer on its current recv transport we
// must not ask for a second decoder; a resume (plus a keyframe for video)
// is enough even when proximity toggles rapidly.
type mediaPlanner struct {
	peers ports.PeerStateRepository
	queue ports.ActionQueue
}

func newMediaPlanner(peers ports.PeerStateRepository, queue ports.ActionQueue) *mediaPlanner {
	return &mediaPlanner{peers: peers, queue: queue}
}

// EnqueueMedia enqueues consume or resume for producer p to target.
func (m *mediaPlanner) EnqueueMedia(ctx context.Context, target domain.UserID, p *domain.Producer) error {
	live := false
	err := m.peers.View(ctx, target, func(st *domain.PeerState) error {
		live = st.HasLiveConsumer(p.ID)
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrPeerNotFound) {
		return err
	}

	if live {
		return m.queue.Enqueue(ctx, target, domain.ResumeAction(p, p.Kind == domain.MediaVideo))
	}
	return m.queue.Enqueue(ctx, target, domain.ConsumeAction(p))
}

// EnqueueAllMedia enqueues consume/resume for every producer of owner to
// target. Audio producers first, then the video producer if present.
func (m *mediaPlanner) EnqueueAllMedia(ctx context.Context, target domain.UserID, owner *domain.PeerState) error {
	for _, p := range owner.Producers() {
		if err := m.EnqueueMedia(ctx, target, p); err != nil {
			return err
		}
	}
	return nil
}
