package ports

import (
	"context"
	"encoding/json"

	"officemesh/internal/core/domain"
)

// ProximityService applies world-layer range events and answers range queries.
type ProximityService interface {
	Apply(ctx context.Context, ev domain.ProximityEvent) (domain.Transition, error)
	Neighbors(ctx context.Context, u domain.UserID, media domain.MediaKind) ([]domain.UserID, error)
	InRange(ctx context.Context, a, b domain.UserID, media domain.MediaKind) (bool, error)
}

// MeetingService is the two-party consent state machine layered above video
// range transitions.
type MeetingService interface {
	// HandleVideoEnter may issue a fresh prompt to both users (unless an
	// unexpired request or cooldown blocks it).
	HandleVideoEnter(ctx context.Context, a, b domain.UserID) error
	// HandleVideoLeave un-prompts a PROMPTED pair. Active meetings survive
	// walking out of range.
	HandleVideoLeave(ctx context.Context, a, b domain.UserID) error
	// Respond records accept/decline. Stale request ids are absorbed silently.
	Respond(ctx context.Context, from, peer domain.UserID, requestID domain.RequestID, accept bool) error
	// End finishes the active meeting between from and peer.
	End(ctx context.Context, from, peer domain.UserID) error
	// EndAllFor implicitly ends every active meeting involving u (disconnect).
	EndAllFor(ctx context.Context, u domain.UserID) error
	ActivePeers(ctx context.Context, u domain.UserID) ([]domain.UserID, error)
	// Counts reports (active, prompted) pairs for stats.
	Counts(ctx context.Context) (int, int, error)
}

// SessionService wires producer lifecycle, proximity transitions and meeting
// consent into the per-user action queues. It is the single inbound surface
// the transports (HTTP, WebSocket) call into.
type SessionService interface {
	Connect(ctx context.Context, user domain.UserID) error
	Disconnect(ctx context.Context, user domain.UserID) error

	HandleProximity(ctx context.Context, ev domain.ProximityEvent) error

	CreateTransport(ctx context.Context, user domain.UserID, dir domain.TransportDirection) (TransportInfo, error)
	ConnectTransport(ctx context.Context, user domain.UserID, id domain.TransportID, params json.RawMessage) error
	Produce(ctx context.Context, user domain.UserID, kind domain.MediaKind, params json.RawMessage) (domain.ProducerID, error)
	CloseProducer(ctx context.Context, user domain.UserID, id domain.ProducerID) error
	// Consume creates a paused consumer for the given remote producer on the
	// user's current recv transport.
	Consume(ctx context.Context, user domain.UserID, producerID domain.ProducerID, caps json.RawMessage) (ConsumerInfo, error)
	// ConsumerReady resumes a consumer once the client can decode, requesting
	// a keyframe for video.
	ConsumerReady(ctx context.Context, user domain.UserID, producerID domain.ProducerID) error
	StopConsumer(ctx context.Context, user domain.UserID, producerID domain.ProducerID) error
	RequestKeyframe(ctx context.Context, user domain.UserID, producerID domain.ProducerID) error

	MeetingRespond(ctx context.Context, user, peer domain.UserID, requestID domain.RequestID, accept bool) error
	MeetingEnd(ctx context.Context, user, peer domain.UserID) error

	Drain(ctx context.Context, user domain.UserID) ([]domain.Action, error)
	// Requeue restores a drained batch whose delivery failed. It lands at
	// the head of the user's queue so the next drain replays it first.
	Requeue(ctx context.Context, user domain.UserID, actions ...domain.Action) error
	Stats(ctx context.Context) (domain.SessionStats, error)
	UserStats(ctx context.Context, user domain.UserID) (domain.UserStats, error)
}

// TransportInfo is what the client needs to connect a transport. Parameters
// is the engine's ICE/DTLS blob, opaque to the orchestration layer.
type TransportInfo struct {
	ID         domain.TransportID        `json:"id"`
	Direction  domain.TransportDirection `json:"direction"`
	Parameters json.RawMessage           `json:"parameters,omitempty"`
}

// ConsumerInfo is returned from Consume; Parameters carries the engine's
// negotiated RTP blob.
type ConsumerInfo struct {
	ID            domain.ConsumerID `json:"id"`
	ProducerID    domain.ProducerID `json:"producer_id"`
	ProducerOwner domain.UserID     `json:"producer_owner"`
	Kind          domain.MediaKind  `json:"kind"`
	Parameters    json.RawMessage   `json:"parameters,omitempty"`
}

// MediaEngine is the capability boundary to the actual SFU. Consumers are
// created paused; negotiation payloads stay opaque. Engine failures on
// teardown paths map to domain sentinel errors so double-release stays a
// no-op success upstream.
type MediaEngine interface {
	CreateTransport(ctx context.Context, owner domain.UserID, dir domain.TransportDirection) (TransportInfo, error)
	ConnectTransport(ctx context.Context, id domain.TransportID, params json.RawMessage) error
	CloseTransport(ctx context.Context, id domain.TransportID) error

	Produce(ctx context.Context, owner domain.UserID, transportID domain.TransportID, kind domain.MediaKind, params json.RawMessage) (domain.ProducerID, error)
	CloseProducer(ctx context.Context, id domain.ProducerID) error

	Consume(ctx context.Context, owner domain.UserID, transportID domain.TransportID, producerID domain.ProducerID, caps json.RawMessage) (ConsumerInfo, error)
	PauseConsumer(ctx context.Context, id domain.ConsumerID) error
	ResumeConsumer(ctx context.Context, id domain.ConsumerID) error
	CloseConsumer(ctx context.Context, id domain.ConsumerID) error

	RequestKeyframe(ctx context.Context, producerID domain.ProducerID) error
}
