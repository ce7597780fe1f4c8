package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"officemesh/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventActionsPending EventType = "actions.pending"
	EventUserConnected  EventType = "user.connected"
	EventUserGone       EventType = "user.gone"
	EventMeetingStarted EventType = "meeting.started"
	EventMeetingEnded   EventType = "meeting.ended"
)

// Event is a coordination message between orchestrator instances. The main
// use is pending-action nudges: the instance holding the user's signal
// connection forwards the nudge even when another instance enqueued.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	UserID     domain.UserID   `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventBus provides event publishing and subscription across instances.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	channels   []string
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channels:   []string{"officemesh:events"},
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channels[0], data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event", "type", event.Type, "user_id", event.UserID)
	return nil
}

// NotifyPending satisfies ports.PendingNotifier by broadcasting the nudge.
// Whichever instance holds the user's connection reacts; publish failures
// only degrade push latency, the queue itself is durable.
func (eb *EventBus) NotifyPending(ctx context.Context, user domain.UserID) {
	if err := eb.Publish(ctx, &Event{Type: EventActionsPending, UserID: user}); err != nil {
		eb.logger.Warnw("pending nudge publish failed", "user_id", user, "error", err)
	}
}

// Subscribe subscribes to events and calls handler for each event until ctx
// is cancelled. Events published by this instance are skipped.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channels...)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("malformed event payload", "error", err)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(&event); err != nil {
				eb.logger.Warnw("event handler failed", "type", event.Type, "error", err)
			}
		}
	}
}
