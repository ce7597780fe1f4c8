package services

import (
	"context"
	"errors"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
	"officemesh/pkg/utils"

	"go.uber.org/zap"
)

// MeetingConfig carries the negotiator's wall-clock policy.
type MeetingConfig struct {
	PromptTTL time.Duration // how long both sides have to accept
	Cooldown  time.Duration // re-prompt suppression after decline/expiry/end
}

func DefaultMeetingConfig() MeetingConfig {
	return MeetingConfig{
		PromptTTL: 15 * time.Second,
		Cooldown:  10 * time.Second,
	}
}

// meetingService is the two-party consent state machine:
// IDLE -> PROMPTED -> ACTIVE -> IDLE(cooldown). Deadlines are wall-clock
// values checked lazily at the next event touching the pair; no timer
// goroutine per pending prompt.
type meetingService struct {
	meetings  ports.MeetingRepository
	peers     ports.PeerStateRepository
	proximity ports.ProximityRepository
	queue     ports.ActionQueue
	planner   *mediaPlanner

	cfg MeetingConfig
	now func() time.Time

	logger *zap.SugaredLogger
}

func NewMeetingService(
	meetings ports.MeetingRepository,
	peers ports.PeerStateRepository,
	proximity ports.ProximityRepository,
	queue ports.ActionQueue,
	cfg MeetingConfig,
	logger *zap.SugaredLogger,
) ports.MeetingService {
	if cfg.PromptTTL <= 0 {
		cfg.PromptTTL = DefaultMeetingConfig().PromptTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultMeetingConfig().Cooldown
	}
	return &meetingService{
		meetings:  meetings,
		peers:     peers,
		proximity: proximity,
		queue:     queue,
		planner:   newMediaPlanner(peers, queue),
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *meetingService) nowMs() int64 {
	return s.now().UnixMilli()
}

// resolveExpiry applies the lazy PROMPTED -> IDLE(cooldown) transition for a
// prompt whose deadline has passed. Returns true when it fired.
func (s *meetingService) resolveExpiry(st *domain.MeetingState, nowMs int64) bool {
	if !st.PromptExpired(nowMs) {
		return false
	}
	st.ClearPrompt()
	st.CooldownUntil = nowMs + s.cfg.Cooldown.Milliseconds()
	return true
}

func (s *meetingService) HandleVideoEnter(ctx context.Context, a, b domain.UserID) error {
	key := domain.MakePairKey(a, b)
	now := s.nowMs()

	return s.meetings.Update(ctx, key, func(st *domain.MeetingState) error {
		s.resolveExpiry(st, now)

		// Active meetings and unexpired prompts are left alone; cooldown
		// suppresses re-prompting after a recent decline/expiry/end.
		if st.Active || st.RequestID != "" || st.InCooldown(now) {
			return nil
		}

		st.RequestID = domain.RequestID(utils.GenerateRequestID())
		st.ExpiresAt = now + s.cfg.PromptTTL.Milliseconds()
		st.AcceptA = false
		st.AcceptB = false

		s.logger.Infow("meeting prompt issued",
			"pair", key,
			"request_id", st.RequestID,
			"expires_at", st.ExpiresAt,
		)

		ua, ub := key.Users()
		if err := s.queue.Enqueue(ctx, ua, domain.Action{
			Type:      domain.ActionMeetingPrompt,
			PeerID:    ub,
			RequestID: st.RequestID,
			ExpiresAt: st.ExpiresAt,
		}); err != nil {
			return err
		}
		return s.queue.Enqueue(ctx, ub, domain.Action{
			Type:      domain.ActionMeetingPrompt,
			PeerID:    ua,
			RequestID: st.RequestID,
			ExpiresAt: st.ExpiresAt,
		})
	})
}

func (s *meetingService) HandleVideoLeave(ctx context.Context, a, b domain.UserID) error {
	key := domain.MakePairKey(a, b)
	now := s.nowMs()

	return s.meetings.Update(ctx, key, func(st *domain.MeetingState) error {
		if s.resolveExpiry(st, now) {
			return nil
		}
		// A live meeting survives walking out of range; ending it is an
		// explicit user action.
		if st.Active {
			return nil
		}
		// Un-prompt: walking away while PROMPTED cancels the request and
		// starts the cooldown window.
		if st.RequestID != "" {
			s.logger.Debugw("meeting prompt cancelled by leave", "pair", key, "request_id", st.RequestID)
			st.ClearPrompt()
			st.CooldownUntil = now + s.cfg.Cooldown.Milliseconds()
		}
		return nil
	})
}

func (s *meetingService) Respond(ctx context.Context, from, peer domain.UserID, requestID domain.RequestID, accept bool) error {
	key := domain.MakePairKey(from, peer)
	now := s.nowMs()

	return s.meetings.Update(ctx, key, func(st *domain.MeetingState) error {
		// A response racing with expiry resets the pair but is otherwise
		// absorbed; the client's prompt was already dead.
		if s.resolveExpiry(st, now) {
			s.logger.Debugw("meeting response after expiry", "pair", key, "request_id", requestID)
			return nil
		}
		// Stale or mismatched request ids are ignored silently: the prompt
		// this response refers to no longer exists.
		if st.RequestID == "" || st.RequestID != requestID {
			s.logger.Debugw("stale meeting response", "pair", key, "request_id", requestID, "current", st.RequestID)
			return nil
		}

		if !accept {
			st.ClearPrompt()
			st.CooldownUntil = now + s.cfg.Cooldown.Milliseconds()
			s.logger.Infow("meeting declined", "pair", key, "by", from)
			return nil
		}

		st.SetAccept(from)
		if !st.BothAccepted() {
			// Partial acceptance: stay PROMPTED until the other side answers
			// or the deadline passes.
			return nil
		}

		st.Active = true
		st.ClearPrompt()
		s.logger.Infow("meeting started", "pair", key)

		ua, ub := key.Users()
		if err := s.queue.Enqueue(ctx, ua, domain.Action{Type: domain.ActionMeetingStart, PeerID: ub}); err != nil {
			return err
		}
		if err := s.queue.Enqueue(ctx, ub, domain.Action{Type: domain.ActionMeetingStart, PeerID: ua}); err != nil {
			return err
		}
		// This is the moment camera/mic sharing becomes mutually visible:
		// cross-enqueue every existing producer of each side to the other.
		if err := s.enqueueMeetingMedia(ctx, ua, ub); err != nil {
			return err
		}
		return s.enqueueMeetingMedia(ctx, ub, ua)
	})
}

// enqueueMeetingMedia sends consume/resume for every producer of owner to
// target (all audio producers plus the video producer if present).
func (s *meetingService) enqueueMeetingMedia(ctx context.Context, owner, target domain.UserID) error {
	var producers []*domain.Producer
	err := s.peers.View(ctx, owner, func(st *domain.PeerState) error {
		producers = st.Producers()
		return nil
	})
	if errors.Is(err, domain.ErrPeerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, p := range producers {
		if err := s.planner.EnqueueMedia(ctx, target, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *meetingService) End(ctx context.Context, from, peer domain.UserID) error {
	key := domain.MakePairKey(from, peer)
	return s.meetings.Update(ctx, key, func(st *domain.MeetingState) error {
		return s.endLocked(ctx, st)
	})
}

func (s *meetingService) EndAllFor(ctx context.Context, u domain.UserID) error {
	keys, err := s.meetings.ActiveFor(ctx, u)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.meetings.Update(ctx, key, func(st *domain.MeetingState) error {
			return s.endLocked(ctx, st)
		}); err != nil {
			return err
		}
	}
	return nil
}

// endLocked runs under the pair lock. Ending twice is a no-op success:
// double-release is expected when both sides hang up at once.
func (s *meetingService) endLocked(ctx context.Context, st *domain.MeetingState) error {
	now := s.nowMs()
	if !st.Active {
		s.resolveExpiry(st, now)
		return nil
	}

	st.Active = false
	st.ClearPrompt()
	st.CooldownUntil = now + s.cfg.Cooldown.Milliseconds()

	ua, ub := st.Key.Users()
	s.logger.Infow("meeting ended", "pair", st.Key)

	if err := s.queue.Enqueue(ctx, ua, domain.Action{Type: domain.ActionMeetingEnd, PeerID: ub}); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, ub, domain.Action{Type: domain.ActionMeetingEnd, PeerID: ua}); err != nil {
		return err
	}

	// Two users who end a meeting while still standing next to each other
	// keep hearing each other: audio is only released when they are out of
	// audio range. Video is paused, not stopped, so a follow-up meeting can
	// resume the same consumer with a keyframe.
	audioNear, err := s.proximity.InRange(ctx, ua, ub, domain.MediaAudio)
	if err != nil {
		return err
	}

	if err := s.enqueueEndMedia(ctx, ua, ub, audioNear); err != nil {
		return err
	}
	return s.enqueueEndMedia(ctx, ub, ua, audioNear)
}

// enqueueEndMedia tells target to pause owner's video and, when the pair is
// no longer in audio range, to stop owner's audio producers.
func (s *meetingService) enqueueEndMedia(ctx context.Context, owner, target domain.UserID, audioNear bool) error {
	var actions []domain.Action
	err := s.peers.View(ctx, owner, func(st *domain.PeerState) error {
		if st.VideoProducer != nil {
			actions = append(actions, domain.PauseAction(st.VideoProducer))
		}
		if !audioNear {
			for _, p := range st.AudioProducers {
				actions = append(actions, domain.StopAction(p))
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrPeerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}
	return s.queue.Enqueue(ctx, target, actions...)
}

func (s *meetingService) Counts(ctx context.Context) (int, int, error) {
	return s.meetings.Counts(ctx, s.nowMs())
}

func (s *meetingService) ActivePeers(ctx context.Context, u domain.UserID) ([]domain.UserID, error) {
	keys, err := s.meetings.ActiveFor(ctx, u)
	if err != nil {
		return nil, err
	}
	peers := make([]domain.UserID, 0, len(keys))
	for _, key := range keys {
		a, b := key.Users()
		if a == u {
			peers = append(peers, b)
		} else {
			peers = append(peers, a)
		}
	}
	return peers, nil
}
