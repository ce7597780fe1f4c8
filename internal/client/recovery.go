package client

import (
	"context"
	"sync"
	"time"

	"officemesh/internal/core/domain"

	"go.uber.org/zap"
)

// RecoveryConfig tunes the stall watchdog.
type RecoveryConfig struct {
	// StallGrace is how long a consumer may go without packets before the
	// soft nudge (resume plus keyframe).
	StallGrace time.Duration
	// StallWindow is how long before the consumer is torn down and
	// re-consumed from scratch.
	StallWindow time.Duration
	// MaxReconsume caps hard recoveries per consumer lineage.
	MaxReconsume int
	// Interval is the watchdog tick.
	Interval time.Duration
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		StallGrace:   4 * time.Second,
		StallWindow:  10 * time.Second,
		MaxReconsume: 3,
		Interval:     time.Second,
	}
}

type watch struct {
	consumerID domain.ConsumerID
	producerID domain.ProducerID
	kind       domain.MediaKind

	lastPacket time.Time
	nudged     bool
	// reconsumes carries across hard recoveries of the same producer.
	reconsumes int
	gaveUp     bool
}

// Recovery watches consumer liveness and escalates on stalls: first a
// resume with a keyframe request, then a full re-consume, finally giving up
// so a broken producer cannot burn retries forever.
type Recovery struct {
	cfg     RecoveryConfig
	session *Session

	mu      sync.Mutex
	watches map[domain.ConsumerID]*watch

	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewRecovery(cfg RecoveryConfig, logger *zap.SugaredLogger) *Recovery {
	return &Recovery{
		cfg:     cfg,
		watches: make(map[domain.ConsumerID]*watch),
		now:     time.Now,
		logger:  logger,
	}
}

func (r *Recovery) bind(s *Session) {
	r.session = s
}

// Watch starts stall tracking for a fresh consumer.
func (r *Recovery) Watch(consumerID domain.ConsumerID, producerID domain.ProducerID, kind domain.MediaKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watches[consumerID] = &watch{
		consumerID: consumerID,
		producerID: producerID,
		kind:       kind,
		lastPacket: r.now(),
	}
}

// Unwatch stops tracking. It is synchronous: once it returns, no recovery
// action for this consumer will run.
func (r *Recovery) Unwatch(consumerID domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watches, consumerID)
}

// NotePacket is called by the media stack on every received packet.
func (r *Recovery) NotePacket(consumerID domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w := r.watches[consumerID]; w != nil {
		w.lastPacket = r.now()
		w.nudged = false
		// A healthy stream earns its retry budget back.
		w.reconsumes = 0
		w.gaveUp = false
	}
}

// Run ticks the watchdog until ctx is cancelled.
func (r *Recovery) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Recovery) sweep(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	var nudge, hard []*watch
	for _, w := range r.watches {
		if w.gaveUp {
			continue
		}
		stalled := now.Sub(w.lastPacket)
		switch {
		case stalled >= r.cfg.StallWindow:
			hard = append(hard, w)
		case stalled >= r.cfg.StallGrace && !w.nudged:
			w.nudged = true
			nudge = append(nudge, w)
		}
	}
	r.mu.Unlock()

	for _, w := range nudge {
		r.softRecover(ctx, w)
	}
	for _, w := range hard {
		r.hardRecover(ctx, w)
	}
}

func (r *Recovery) softRecover(ctx context.Context, w *watch) {
	r.logger.Infow("consumer stalled, nudging",
		"consumer_id", w.consumerID, "producer_id", w.producerID)

	if err := r.session.ctrl.ResumeConsumer(ctx, w.consumerID); err != nil {
		r.logger.Warnw("stall resume failed", "consumer_id", w.consumerID, "error", err)
		return
	}
	if w.kind == domain.MediaVideo {
		if err := r.session.ctrl.RequestKeyframe(ctx, w.producerID); err != nil {
			r.logger.Warnw("stall keyframe failed", "producer_id", w.producerID, "error", err)
		}
	}
}

func (r *Recovery) hardRecover(ctx context.Context, w *watch) {
	r.mu.Lock()
	current, ok := r.watches[w.consumerID]
	if !ok || current != w {
		// Unwatched or replaced since the sweep snapshot.
		r.mu.Unlock()
		return
	}
	if w.reconsumes >= r.cfg.MaxReconsume {
		w.gaveUp = true
		r.mu.Unlock()
		r.logger.Errorw("consumer recovery exhausted",
			"consumer_id", w.consumerID, "producer_id", w.producerID,
			"attempts", w.reconsumes)
		return
	}
	attempts := w.reconsumes + 1
	delete(r.watches, w.consumerID)
	r.mu.Unlock()

	r.logger.Warnw("consumer stalled past window, re-consuming",
		"consumer_id", w.consumerID, "producer_id", w.producerID, "attempt", attempts)

	newID, err := r.session.reconsume(ctx, w.consumerID, w.producerID, w.kind)
	if err != nil {
		r.logger.Errorw("re-consume failed",
			"producer_id", w.producerID, "error", err)
		return
	}

	r.mu.Lock()
	r.watches[newID] = &watch{
		consumerID: newID,
		producerID: w.producerID,
		kind:       w.kind,
		lastPacket: r.now(),
		reconsumes: attempts,
	}
	r.mu.Unlock()
}
