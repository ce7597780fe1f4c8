package services

import (
	"context"
	"fmt"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"

	"go.uber.org/zap"
)

// ProximityService on top of ports.ProximityService: the world layer reports
// range crossings, we keep the symmetric per-kind sets and surface whether the
// event actually changed anything. Eviction on disconnect is handled here too
// so the orchestrator gets back the neighbors it must notify.
type ProximityTracker interface {
	ports.ProximityService
	// Evict removes u from every set and returns the former neighbors per
	// media kind.
	Evict(ctx context.Context, u domain.UserID) (map[domain.MediaKind][]domain.UserID, error)
	PairCount(ctx context.Context, media domain.MediaKind) (int, error)
}

type proximityService struct {
	repo   ports.ProximityRepository
	logger *zap.SugaredLogger
}

func NewProximityService(repo ports.ProximityRepository, logger *zap.SugaredLogger) ProximityTracker {
	return &proximityService{
		repo:   repo,
		logger: logger,
	}
}

func (s *proximityService) Apply(ctx context.Context, ev domain.ProximityEvent) (domain.Transition, error) {
	tr := domain.Transition{Type: ev.Type, UserA: ev.UserA, UserB: ev.UserB, Media: ev.Media}

	if !ev.Media.Valid() {
		return tr, domain.ErrInvalidMediaKind
	}
	if ev.UserA == "" || ev.UserB == "" || ev.UserA == ev.UserB {
		return tr, fmt.Errorf("proximity event requires two distinct users, got %q/%q", ev.UserA, ev.UserB)
	}

	var (
		changed bool
		err     error
	)
	switch ev.Type {
	case domain.ProximityEnter:
		changed, err = s.repo.Add(ctx, ev.UserA, ev.UserB, ev.Media)
	case domain.ProximityLeave:
		changed, err = s.repo.Remove(ctx, ev.UserA, ev.UserB, ev.Media)
	default:
		return tr, fmt.Errorf("unknown proximity event type: %s", ev.Type)
	}
	if err != nil {
		return tr, err
	}

	tr.Changed = changed
	if changed {
		s.logger.Debugw("proximity transition",
			"type", ev.Type,
			"user_a", ev.UserA,
			"user_b", ev.UserB,
			"media", ev.Media,
		)
	}
	return tr, nil
}

func (s *proximityService) Neighbors(ctx context.Context, u domain.UserID, media domain.MediaKind) ([]domain.UserID, error) {
	return s.repo.Neighbors(ctx, u, media)
}

func (s *proximityService) InRange(ctx context.Context, a, b domain.UserID, media domain.MediaKind) (bool, error) {
	return s.repo.InRange(ctx, a, b, media)
}

func (s *proximityService) Evict(ctx context.Context, u domain.UserID) (map[domain.MediaKind][]domain.UserID, error) {
	return s.repo.RemoveAll(ctx, u)
}

func (s *proximityService) PairCount(ctx context.Context, media domain.MediaKind) (int, error) {
	return s.repo.PairCount(ctx, media)
}
