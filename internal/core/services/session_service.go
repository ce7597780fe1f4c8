package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"

	"go.uber.org/zap"
)

// sessionService receives proximity transitions and producer lifecycle events,
// updates the per-user media state and enqueues the resulting actions for the
// affected peers. Lock discipline: the per-user peer lock is never held while
// touching a meeting pair lock, so meeting code may freely read peer state.
type sessionService struct {
	peers     ports.PeerStateRepository
	proximity ProximityTracker
	meetings  ports.MeetingService
	queue     ports.ActionQueue
	engine    ports.MediaEngine
	planner   *mediaPlanner

	notifier ports.PendingNotifier

	logger *zap.SugaredLogger
}

// SessionOrchestrator is the session service plus its wiring hook. The push
// notifier depends on the service, so it attaches after construction.
type SessionOrchestrator interface {
	ports.SessionService
	SetNotifier(ports.PendingNotifier)
}

func NewSessionService(
	peers ports.PeerStateRepository,
	proximity ProximityTracker,
	meetings ports.MeetingService,
	queue ports.ActionQueue,
	engine ports.MediaEngine,
	logger *zap.SugaredLogger,
) SessionOrchestrator {
	return &sessionService{
		peers:     peers,
		proximity: proximity,
		meetings:  meetings,
		queue:     queue,
		engine:    engine,
		planner:   newMediaPlanner(peers, queue),
		logger:    logger,
	}
}

// SetNotifier installs the push notifier. Set once at wiring time, before the
// service receives traffic; the signal server needs the service first, hence
// the setter instead of a constructor argument.
func (s *sessionService) SetNotifier(n ports.PendingNotifier) {
	s.notifier = n
}

func (s *sessionService) notify(ctx context.Context, users ...domain.UserID) {
	if s.notifier == nil {
		return
	}
	seen := make(map[domain.UserID]bool, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		s.notifier.NotifyPending(ctx, u)
	}
}

func (s *sessionService) Connect(ctx context.Context, user domain.UserID) error {
	if user == "" {
		return fmt.Errorf("user id is required")
	}
	s.peers.GetOrCreate(ctx, user)
	s.logger.Infow("user connected", "user_id", user)
	return nil
}

// HandleProximity applies one world-layer event and fans out its consequences.
func (s *sessionService) HandleProximity(ctx context.Context, ev domain.ProximityEvent) error {
	tr, err := s.proximity.Apply(ctx, ev)
	if err != nil {
		return err
	}
	if !tr.Changed {
		// Redundant enter/leave: idempotent, nothing downstream.
		return nil
	}

	switch ev.Media {
	case domain.MediaVideo:
		// Video is consent-gated: range transitions feed the negotiator, no
		// direct media actions.
		if ev.Type == domain.ProximityEnter {
			err = s.meetings.HandleVideoEnter(ctx, ev.UserA, ev.UserB)
		} else {
			err = s.meetings.HandleVideoLeave(ctx, ev.UserA, ev.UserB)
		}
		if err != nil {
			return err
		}
	case domain.MediaAudio:
		if err := s.handleAudioTransition(ctx, tr); err != nil {
			return err
		}
	}

	s.notify(ctx, ev.UserA, ev.UserB)
	return nil
}

func (s *sessionService) handleAudioTransition(ctx context.Context, tr domain.Transition) error {
	// Meeting audio is managed by the negotiator; ambient proximity audio
	// only applies to pairs without an active meeting.
	active, err := s.pairActive(ctx, tr.UserA, tr.UserB)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	if tr.Type == domain.ProximityEnter {
		if err := s.enqueueAudioConsume(ctx, tr.UserA, tr.UserB); err != nil {
			return err
		}
		return s.enqueueAudioConsume(ctx, tr.UserB, tr.UserA)
	}
	if err := s.enqueueAudioStop(ctx, tr.UserA, tr.UserB); err != nil {
		return err
	}
	return s.enqueueAudioStop(ctx, tr.UserB, tr.UserA)
}

// enqueueAudioConsume tells target to consume every audio producer of owner.
func (s *sessionService) enqueueAudioConsume(ctx context.Context, owner, target domain.UserID) error {
	producers, err := s.audioProducers(ctx, owner)
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

func (s *sessionService) enqueueAudioStop(ctx context.Context, owner, target domain.UserID) error {
	producers, err := s.audioProducers(ctx, owner)
	if err != nil {
		return err
	}
	var actions []domain.Action
	for _, p := range producers {
		actions = append(actions, domain.StopAction(p))
	}
	if len(actions) == 0 {
		return nil
	}
	return s.queue.Enqueue(ctx, target, actions...)
}

func (s *sessionService) audioProducers(ctx context.Context, owner domain.UserID) ([]*domain.Producer, error) {
	var producers []*domain.Producer
	err := s.peers.View(ctx, owner, func(st *domain.PeerState) error {
		for _, p := range st.AudioProducers {
			producers = append(producers, p)
		}
		return nil
	})
	if errors.Is(err, domain.ErrPeerNotFound) {
		return nil, nil
	}
	return producers, err
}

func (s *sessionService) pairActive(ctx context.Context, a, b domain.UserID) (bool, error) {
	peers, err := s.meetings.ActivePeers(ctx, a)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		if p == b {
			return true, nil
		}
	}
	return false, nil
}

func (s *sessionService) CreateTransport(ctx context.Context, user domain.UserID, dir domain.TransportDirection) (ports.TransportInfo, error) {
	if dir != domain.DirectionSend && dir != domain.DirectionRecv {
		return ports.TransportInfo{}, fmt.Errorf("unknown transport direction: %s", dir)
	}

	info, err := s.engine.CreateTransport(ctx, user, dir)
	if err != nil {
		return ports.TransportInfo{}, err
	}

	var droppedProducers []*domain.Producer
	err = s.peers.Update(ctx, user, func(st *domain.PeerState) error {
		t := &domain.Transport{ID: info.ID, Owner: user, Direction: dir, CreatedAt: time.Now()}
		switch dir {
		case domain.DirectionSend:
			if st.SendTransport != nil {
				// Stale-transport invariant: the replacement closes the old
				// endpoint and everything produced on it.
				s.closeTransportQuiet(ctx, st.SendTransport.ID)
				for id, p := range st.AudioProducers {
					s.closeProducerQuiet(ctx, id)
					droppedProducers = append(droppedProducers, p)
				}
				st.AudioProducers = make(map[domain.ProducerID]*domain.Producer)
				if st.VideoProducer != nil {
					s.closeProducerQuiet(ctx, st.VideoProducer.ID)
					droppedProducers = append(droppedProducers, st.VideoProducer)
					st.VideoProducer = nil
				}
			}
			st.SendTransport = t
		case domain.DirectionRecv:
			if st.RecvTransport != nil {
				s.closeTransportQuiet(ctx, st.RecvTransport.ID)
				// A consumer cannot outlive the transport it was created on.
				for _, c := range st.Consumers {
					s.closeConsumerQuiet(ctx, c.ID)
				}
				st.Consumers = make(map[domain.ProducerID]*domain.Consumer)
			}
			st.RecvTransport = t
		}
		return nil
	})
	if err != nil {
		return ports.TransportInfo{}, err
	}

	notified, ferr := s.fanoutStops(ctx, user, droppedProducers)
	if ferr != nil {
		return ports.TransportInfo{}, ferr
	}
	s.notify(ctx, notified...)

	s.logger.Infow("transport created", "user_id", user, "transport_id", info.ID, "direction", dir)
	return info, nil
}

func (s *sessionService) ConnectTransport(ctx context.Context, user domain.UserID, id domain.TransportID, params json.RawMessage) error {
	owned := false
	err := s.peers.View(ctx, user, func(st *domain.PeerState) error {
		owned = (st.SendTransport != nil && st.SendTransport.ID == id) ||
			(st.RecvTransport != nil && st.RecvTransport.ID == id)
		return nil
	})
	if err != nil {
		return err
	}
	if !owned {
		return domain.ErrTransportNotFound
	}
	return s.engine.ConnectTransport(ctx, id, params)
}

func (s *sessionService) Produce(ctx context.Context, user domain.UserID, kind domain.MediaKind, params json.RawMessage) (domain.ProducerID, error) {
	if !kind.Valid() {
		return "", domain.ErrInvalidMediaKind
	}

	var (
		created  *domain.Producer
		replaced *domain.Producer
	)
	err := s.peers.Update(ctx, user, func(st *domain.PeerState) error {
		if st.SendTransport == nil {
			return domain.ErrTransportNotFound
		}
		id, err := s.engine.Produce(ctx, user, st.SendTransport.ID, kind, params)
		if err != nil {
			return err
		}
		p := &domain.Producer{ID: id, Owner: user, Kind: kind, CreatedAt: time.Now()}
		if kind == domain.MediaVideo {
			// At most one live camera track; the new one supersedes the old.
			replaced = st.VideoProducer
			st.VideoProducer = p
		} else {
			st.AudioProducers[id] = p
		}
		created = p
		return nil
	})
	if err != nil {
		return "", err
	}

	if replaced != nil {
		s.closeProducerQuiet(ctx, replaced.ID)
	}

	meetingPeers, err := s.meetings.ActivePeers(ctx, user)
	if err != nil {
		return "", err
	}

	// Fan-out targets: meeting peers always; for audio additionally every
	// user in the owner's audio range. Proximity and meeting effects are
	// independent and additive, but one action per target suffices.
	targets := make(map[domain.UserID]bool, len(meetingPeers))
	for _, p := range meetingPeers {
		targets[p] = true
	}
	if kind == domain.MediaAudio {
		neighbors, err := s.proximity.Neighbors(ctx, user, domain.MediaAudio)
		if err != nil {
			return "", err
		}
		for _, n := range neighbors {
			targets[n] = true
		}
	}

	notified := make([]domain.UserID, 0, len(targets))
	for t := range targets {
		if replaced != nil {
			if err := s.queue.Enqueue(ctx, t, domain.StopAction(replaced)); err != nil {
				return "", err
			}
		}
		if err := s.planner.EnqueueMedia(ctx, t, created); err != nil {
			return "", err
		}
		notified = append(notified, t)
	}
	s.notify(ctx, notified...)

	s.logger.Infow("producer created",
		"user_id", user,
		"producer_id", created.ID,
		"kind", kind,
		"targets", len(targets),
	)
	return created.ID, nil
}

func (s *sessionService) CloseProducer(ctx context.Context, user domain.UserID, id domain.ProducerID) error {
	var closed *domain.Producer
	err := s.peers.Update(ctx, user, func(st *domain.PeerState) error {
		if p, ok := st.AudioProducers[id]; ok {
			closed = p
			delete(st.AudioProducers, id)
		} else if st.VideoProducer != nil && st.VideoProducer.ID == id {
			closed = st.VideoProducer
			st.VideoProducer = nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	if closed == nil {
		// Already released; double-close is expected under races.
		return nil
	}

	s.closeProducerQuiet(ctx, id)

	notified, err := s.fanoutStops(ctx, user, []*domain.Producer{closed})
	if err != nil {
		return err
	}
	s.notify(ctx, notified...)
	return nil
}

// fanoutStops enqueues stop for the given producers of owner to every party
// that may be consuming them: meeting peers, plus audio neighbors for audio
// producers. Returns the users touched.
func (s *sessionService) fanoutStops(ctx context.Context, owner domain.UserID, producers []*domain.Producer) ([]domain.UserID, error) {
	if len(producers) == 0 {
		return nil, nil
	}

	meetingPeers, err := s.meetings.ActivePeers(ctx, owner)
	if err != nil {
		return nil, err
	}
	audioNeighbors, err := s.proximity.Neighbors(ctx, owner, domain.MediaAudio)
	if err != nil {
		return nil, err
	}

	var notified []domain.UserID
	for _, p := range producers {
		targets := make(map[domain.UserID]bool, len(meetingPeers))
		for _, mp := range meetingPeers {
			targets[mp] = true
		}
		if p.Kind == domain.MediaAudio {
			for _, n := range audioNeighbors {
				targets[n] = true
			}
		}
		for t := range targets {
			if err := s.queue.Enqueue(ctx, t, domain.StopAction(p)); err != nil {
				return nil, err
			}
			notified = append(notified, t)
		}
	}
	return notified, nil
}

func (s *sessionService) Consume(ctx context.Context, user domain.UserID, producerID domain.ProducerID, caps json.RawMessage) (ports.ConsumerInfo, error) {
	var info ports.ConsumerInfo
	err := s.peers.Update(ctx, user, func(st *domain.PeerState) error {
		if st.RecvTransport == nil {
			return domain.ErrTransportNotFound
		}
		if c, ok := st.Consumers[producerID]; ok {
			if c.TransportID == st.RecvTransport.ID {
				// At most one live consumer per producer: hand back the
				// existing one instead of spinning up a second decoder.
				info = ports.ConsumerInfo{
					ID:            c.ID,
					ProducerID:    c.ProducerID,
					ProducerOwner: c.ProducerOwner,
					Kind:          c.Kind,
				}
				return nil
			}
			// Leftover from a replaced recv transport.
			s.closeConsumerQuiet(ctx, c.ID)
			delete(st.Consumers, producerID)
		}

		ci, err := s.engine.Consume(ctx, user, st.RecvTransport.ID, producerID, caps)
		if err != nil {
			return err
		}
		st.Consumers[producerID] = &domain.Consumer{
			ID:            ci.ID,
			Owner:         user,
			ProducerID:    producerID,
			ProducerOwner: ci.ProducerOwner,
			Kind:          ci.Kind,
			TransportID:   st.RecvTransport.ID,
			Paused:        true,
			CreatedAt:     time.Now(),
		}
		info = ci
		return nil
	})
	return info, err
}

func (s *sessionService) ConsumerReady(ctx context.Context, user domain.UserID, producerID domain.ProducerID) error {
	return s.peers.Update(ctx, user, func(st *domain.PeerState) error {
		c, ok := st.Consumers[producerID]
		if !ok || st.RecvTransport == nil || c.TransportID != st.RecvTransport.ID {
			// Raced with teardown; the consumer the client is confirming no
			// longer exists.
			s.logger.Debugw("consumer ready for gone consumer", "user_id", user, "producer_id", producerID)
			return nil
		}
		if err := s.engine.ResumeConsumer(ctx, c.ID); err != nil && !errors.Is(err, domain.ErrConsumerNotFound) {
			return err
		}
		c.Paused = false
		if c.Kind == domain.MediaVideo {
			// Video stayed paused until now so the keyframe lands on a
			// decoder that is actually listening.
			if err := s.engine.RequestKeyframe(ctx, producerID); err != nil && !errors.Is(err, domain.ErrProducerNotFound) {
				return err
			}
		}
		return nil
	})
}

func (s *sessionService) StopConsumer(ctx context.Context, user domain.UserID, producerID domain.ProducerID) error {
	return s.peers.Update(ctx, user, func(st *domain.PeerState) error {
		c, ok := st.Consumers[producerID]
		if !ok {
			return nil
		}
		s.closeConsumerQuiet(ctx, c.ID)
		delete(st.Consumers, producerID)
		return nil
	})
}

func (s *sessionService) RequestKeyframe(ctx context.Context, user domain.UserID, producerID domain.ProducerID) error {
	err := s.engine.RequestKeyframe(ctx, producerID)
	if errors.Is(err, domain.ErrProducerNotFound) {
		s.logger.Debugw("keyframe request for gone producer", "user_id", user, "producer_id", producerID)
		return nil
	}
	return err
}

func (s *sessionService) MeetingRespond(ctx context.Context, user, peer domain.UserID, requestID domain.RequestID, accept bool) error {
	if err := s.meetings.Respond(ctx, user, peer, requestID, accept); err != nil {
		return err
	}
	s.notify(ctx, user, peer)
	return nil
}

func (s *sessionService) MeetingEnd(ctx context.Context, user, peer domain.UserID) error {
	if err := s.meetings.End(ctx, user, peer); err != nil {
		return err
	}
	s.notify(ctx, user, peer)
	return nil
}

// Disconnect treats the departure as a leave for every proximity pair and an
// implicit end for every active meeting, then releases the user's media
// resources. Watchdogs keyed on the user die with the queue clear.
func (s *sessionService) Disconnect(ctx context.Context, user domain.UserID) error {
	former, err := s.proximity.Evict(ctx, user)
	if err != nil {
		return err
	}

	var notified []domain.UserID

	for _, n := range former[domain.MediaAudio] {
		if err := s.enqueueAudioStop(ctx, user, n); err != nil {
			return err
		}
		notified = append(notified, n)
	}
	for _, n := range former[domain.MediaVideo] {
		if err := s.meetings.HandleVideoLeave(ctx, user, n); err != nil {
			return err
		}
		notified = append(notified, n)
	}

	// Audio proximity is already gone, so EndAllFor stops audio for the
	// meeting peers; the paused video consumer is released explicitly below.
	meetingPeers, err := s.meetings.ActivePeers(ctx, user)
	if err != nil {
		return err
	}
	if err := s.meetings.EndAllFor(ctx, user); err != nil {
		return err
	}

	var video *domain.Producer
	_ = s.peers.View(ctx, user, func(st *domain.PeerState) error {
		video = st.VideoProducer
		return nil
	})
	if video != nil {
		for _, p := range meetingPeers {
			if err := s.queue.Enqueue(ctx, p, domain.StopAction(video)); err != nil {
				return err
			}
		}
	}
	notified = append(notified, meetingPeers...)

	// Release engine resources. Teardown errors are absorbed: a resource
	// that is already gone is the outcome we wanted.
	err = s.peers.Update(ctx, user, func(st *domain.PeerState) error {
		for _, c := range st.Consumers {
			s.closeConsumerQuiet(ctx, c.ID)
		}
		for id := range st.AudioProducers {
			s.closeProducerQuiet(ctx, id)
		}
		if st.VideoProducer != nil {
			s.closeProducerQuiet(ctx, st.VideoProducer.ID)
		}
		if st.SendTransport != nil {
			s.closeTransportQuiet(ctx, st.SendTransport.ID)
		}
		if st.RecvTransport != nil {
			s.closeTransportQuiet(ctx, st.RecvTransport.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.peers.Remove(ctx, user); err != nil && !errors.Is(err, domain.ErrPeerNotFound) {
		return err
	}
	if err := s.queue.Clear(ctx, user); err != nil {
		return err
	}

	s.notify(ctx, notified...)
	s.logger.Infow("user disconnected", "user_id", user)
	return nil
}

func (s *sessionService) Drain(ctx context.Context, user domain.UserID) ([]domain.Action, error) {
	_ = s.peers.Update(ctx, user, func(st *domain.PeerState) error {
		st.LastSeen = time.Now()
		return nil
	})
	return s.queue.Drain(ctx, user)
}

// Requeue puts a drained batch back so a failed delivery is not a lost one.
// The queue stays the source of truth until the transport confirms the write.
func (s *sessionService) Requeue(ctx context.Context, user domain.UserID, actions ...domain.Action) error {
	return s.queue.Requeue(ctx, user, actions...)
}

func (s *sessionService) Stats(ctx context.Context) (domain.SessionStats, error) {
	stats := domain.SessionStats{Timestamp: time.Now()}
	stats.ConnectedUsers = s.peers.Count(ctx)

	var err error
	if stats.AudioPairs, err = s.proximity.PairCount(ctx, domain.MediaAudio); err != nil {
		return stats, err
	}
	if stats.VideoPairs, err = s.proximity.PairCount(ctx, domain.MediaVideo); err != nil {
		return stats, err
	}
	if stats.ActiveMeetings, stats.PendingPrompts, err = s.meetings.Counts(ctx); err != nil {
		return stats, err
	}
	if stats.QueuedActions, err = s.queue.Total(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *sessionService) UserStats(ctx context.Context, user domain.UserID) (domain.UserStats, error) {
	us := domain.UserStats{UserID: user}
	err := s.peers.View(ctx, user, func(st *domain.PeerState) error {
		us.AudioProducers = len(st.AudioProducers)
		us.HasVideo = st.VideoProducer != nil
		us.Consumers = len(st.Consumers)
		us.LastSeen = st.LastSeen
		return nil
	})
	if err != nil {
		return us, err
	}
	us.QueuedActions, err = s.queue.Len(ctx, user)
	return us, err
}

func (s *sessionService) closeProducerQuiet(ctx context.Context, id domain.ProducerID) {
	if err := s.engine.CloseProducer(ctx, id); err != nil && !errors.Is(err, domain.ErrProducerNotFound) {
		s.logger.Warnw("producer close failed", "producer_id", id, "error", err)
	}
}

func (s *sessionService) closeConsumerQuiet(ctx context.Context, id domain.ConsumerID) {
	if err := s.engine.CloseConsumer(ctx, id); err != nil && !errors.Is(err, domain.ErrConsumerNotFound) {
		s.logger.Warnw("consumer close failed", "consumer_id", id, "error", err)
	}
}

func (s *sessionService) closeTransportQuiet(ctx context.Context, id domain.TransportID) {
	if err := s.engine.CloseTransport(ctx, id); err != nil && !errors.Is(err, domain.ErrTransportNotFound) {
		s.logger.Warnw("transport close failed", "transport_id", id, "error", err)
	}
}
