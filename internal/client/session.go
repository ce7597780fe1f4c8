package client

import (
	"context"
	"fmt"
	"sync"

	"officemesh/internal/core/domain"

	"go.uber.org/zap"
)

// MediaControl is the client-side media stack: whatever wraps the local
// peer connection and signal channel. All calls are synchronous RPCs.
type MediaControl interface {
	Consume(ctx context.Context, producerID domain.ProducerID, kind domain.MediaKind) (domain.ConsumerID, error)
	StopConsumer(ctx context.Context, id domain.ConsumerID) error
	PauseConsumer(ctx context.Context, id domain.ConsumerID) error
	ResumeConsumer(ctx context.Context, id domain.ConsumerID) error
	RequestKeyframe(ctx context.Context, producerID domain.ProducerID) error
}

// PromptHandler receives meeting prompts for the UI layer.
type PromptHandler func(peer domain.UserID, requestID domain.RequestID, expiresAtMs int64)

type consumerState struct {
	id   domain.ConsumerID
	kind domain.MediaKind
}

// Session applies orchestrator actions on the client. Actions that arrive
// before the media stack is ready are buffered and replayed in order, so
// the server never has to care about client startup timing.
type Session struct {
	ctrl     MediaControl
	recovery *Recovery

	mu      sync.Mutex
	ready   bool
	pending []domain.Action

	// consumers keyed by producer so duplicate consume actions collapse
	// into a resume of the existing consumer.
	consumers map[domain.ProducerID]*consumerState

	// meetings is the authoritative set; localAccepted is the optimistic
	// overlay cleared whenever the server speaks.
	meetings      map[domain.UserID]bool
	localAccepted map[domain.UserID]domain.RequestID

	onPrompt PromptHandler
	logger   *zap.SugaredLogger
}

func NewSession(ctrl MediaControl, recovery *Recovery, logger *zap.SugaredLogger) *Session {
	s := &Session{
		ctrl:          ctrl,
		recovery:      recovery,
		consumers:     make(map[domain.ProducerID]*consumerState),
		meetings:      make(map[domain.UserID]bool),
		localAccepted: make(map[domain.UserID]domain.RequestID),
		logger:        logger,
	}
	if recovery != nil {
		recovery.bind(s)
	}
	return s
}

// OnPrompt registers the UI callback for incoming meeting prompts.
func (s *Session) OnPrompt(h PromptHandler) {
	s.mu.Lock()
	s.onPrompt = h
	s.mu.Unlock()
}

// SetReady marks the media stack usable and flushes everything buffered
// while it was not, in arrival order.
func (s *Session) SetReady(ctx context.Context) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil
	}
	s.ready = true
	buffered := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, action := range buffered {
		if err := s.apply(ctx, action); err != nil {
			s.logger.Warnw("buffered action failed",
				"type", action.Type, "producer_id", action.ProducerID, "error", err)
		}
	}
	return nil
}

// Apply handles a drained batch. Failures on one action do not stop the
// rest; the orchestrator re-emits anything that matters.
func (s *Session) Apply(ctx context.Context, actions ...domain.Action) {
	for _, action := range actions {
		s.mu.Lock()
		if !s.ready && actionNeedsMedia(action.Type) {
			s.pending = append(s.pending, action)
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		if err := s.apply(ctx, action); err != nil {
			s.logger.Warnw("action failed",
				"type", action.Type, "producer_id", action.ProducerID, "error", err)
		}
	}
}

// actionNeedsMedia gates the readiness buffer. Media actions wait for the
// stack and replay FIFO; meeting actions deliberately skip the buffer: they
// touch no consumer state, and a prompt held back during startup could burn
// its whole expiry window before the user ever sees it.
func actionNeedsMedia(t domain.ActionType) bool {
	switch t {
	case domain.ActionConsume, domain.ActionStop, domain.ActionPause, domain.ActionResume:
		return true
	}
	return false
}

func (s *Session) apply(ctx context.Context, action domain.Action) error {
	switch action.Type {
	case domain.ActionConsume:
		return s.applyConsume(ctx, action)
	case domain.ActionStop:
		return s.applyStop(ctx, action.ProducerID)
	case domain.ActionPause:
		return s.applyPause(ctx, action.ProducerID)
	case domain.ActionResume:
		return s.applyResume(ctx, action)
	case domain.ActionMeetingPrompt:
		s.applyPrompt(action)
		return nil
	case domain.ActionMeetingStart:
		s.applyMeetingStart(action.PeerID)
		return nil
	case domain.ActionMeetingEnd:
		s.applyMeetingEnd(action.PeerID)
		return nil
	default:
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
}

// applyConsume starts a consumer, or revives the one we already hold for
// this producer. Re-consuming a live stream would glitch it for nothing.
func (s *Session) applyConsume(ctx context.Context, action domain.Action) error {
	s.mu.Lock()
	existing := s.consumers[action.ProducerID]
	s.mu.Unlock()

	if existing != nil {
		if err := s.ctrl.ResumeConsumer(ctx, existing.id); err != nil {
			return err
		}
		if existing.kind == domain.MediaVideo {
			return s.ctrl.RequestKeyframe(ctx, action.ProducerID)
		}
		return nil
	}

	consumerID, err := s.ctrl.Consume(ctx, action.ProducerID, action.Kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.consumers[action.ProducerID] = &consumerState{id: consumerID, kind: action.Kind}
	s.mu.Unlock()

	if s.recovery != nil {
		s.recovery.Watch(consumerID, action.ProducerID, action.Kind)
	}
	if action.RequestKeyframe && action.Kind == domain.MediaVideo {
		return s.ctrl.RequestKeyframe(ctx, action.ProducerID)
	}
	return nil
}

func (s *Session) applyStop(ctx context.Context, producerID domain.ProducerID) error {
	s.mu.Lock()
	state := s.consumers[producerID]
	delete(s.consumers, producerID)
	s.mu.Unlock()

	if state == nil {
		return nil
	}
	if s.recovery != nil {
		// Synchronous: no recovery attempt may fire after stop returns.
		s.recovery.Unwatch(state.id)
	}
	return s.ctrl.StopConsumer(ctx, state.id)
}

func (s *Session) applyPause(ctx context.Context, producerID domain.ProducerID) error {
	s.mu.Lock()
	state := s.consumers[producerID]
	s.mu.Unlock()
	if state == nil {
		return nil
	}
	return s.ctrl.PauseConsumer(ctx, state.id)
}

func (s *Session) applyResume(ctx context.Context, action domain.Action) error {
	s.mu.Lock()
	state := s.consumers[action.ProducerID]
	s.mu.Unlock()
	if state == nil {
		// Nothing to resume; fall back to a fresh consume.
		return s.applyConsume(ctx, domain.ConsumeAction(&domain.Producer{
			ID:    action.ProducerID,
			Owner: action.ProducerOwner,
			Kind:  action.Kind,
		}))
	}
	if err := s.ctrl.ResumeConsumer(ctx, state.id); err != nil {
		return err
	}
	if action.RequestKeyframe && state.kind == domain.MediaVideo {
		return s.ctrl.RequestKeyframe(ctx, action.ProducerID)
	}
	return nil
}

func (s *Session) applyPrompt(action domain.Action) {
	s.mu.Lock()
	h := s.onPrompt
	s.mu.Unlock()
	if h != nil {
		h(action.PeerID, action.RequestID, action.ExpiresAt)
	}
}

func (s *Session) applyMeetingStart(peer domain.UserID) {
	s.mu.Lock()
	s.meetings[peer] = true
	delete(s.localAccepted, peer)
	s.mu.Unlock()
}

func (s *Session) applyMeetingEnd(peer domain.UserID) {
	s.mu.Lock()
	delete(s.meetings, peer)
	delete(s.localAccepted, peer)
	s.mu.Unlock()
}

// AcceptLocally records an optimistic accept so the UI can flip to meeting
// mode before the server answer lands. The authoritative start or end
// action always replaces it.
func (s *Session) AcceptLocally(peer domain.UserID, requestID domain.RequestID) {
	s.mu.Lock()
	s.localAccepted[peer] = requestID
	s.mu.Unlock()
}

// InMeeting reports whether the UI should render the meeting state with
// peer, counting optimistic accepts.
func (s *Session) InMeeting(peer domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meetings[peer] {
		return true
	}
	_, optimistic := s.localAccepted[peer]
	return optimistic
}

// ActiveConsumers returns the producers currently consumed, for tests and
// debug overlays.
func (s *Session) ActiveConsumers() map[domain.ProducerID]domain.ConsumerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ProducerID]domain.ConsumerID, len(s.consumers))
	for pid, state := range s.consumers {
		out[pid] = state.id
	}
	return out
}

// reconsume is the recovery path: drop the broken consumer and start over.
func (s *Session) reconsume(ctx context.Context, consumerID domain.ConsumerID, producerID domain.ProducerID, kind domain.MediaKind) (domain.ConsumerID, error) {
	s.mu.Lock()
	state := s.consumers[producerID]
	if state == nil || state.id != consumerID {
		s.mu.Unlock()
		return "", fmt.Errorf("consumer %s no longer current", consumerID)
	}
	delete(s.consumers, producerID)
	s.mu.Unlock()

	if err := s.ctrl.StopConsumer(ctx, consumerID); err != nil {
		s.logger.Debugw("stale consumer stop failed", "consumer_id", consumerID, "error", err)
	}

	newID, err := s.ctrl.Consume(ctx, producerID, kind)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.consumers[producerID] = &consumerState{id: newID, kind: kind}
	s.mu.Unlock()

	if kind == domain.MediaVideo {
		if err := s.ctrl.RequestKeyframe(ctx, producerID); err != nil {
			s.logger.Debugw("keyframe after reconsume failed", "producer_id", producerID, "error", err)
		}
	}
	return newID, nil
}
