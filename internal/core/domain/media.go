package domain

import "time"

type ProducerID string
type ConsumerID string
type TransportID string

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// Transport is a network endpoint owned by one user. A user holds at most one
// live transport per direction; creating a replacement closes the previous one.
type Transport struct {
	ID        TransportID
	Owner     UserID
	Direction TransportDirection
	CreatedAt time.Time
}

// Producer is a media source (mic or camera track) owned by exactly one user.
type Producer struct {
	ID        ProducerID
	Owner     UserID
	Kind      MediaKind
	Paused    bool
	CreatedAt time.Time
}

// Consumer is a decode endpoint a user holds for one specific remote producer,
// created on that user's current recv transport. At most one live consumer per
// (consuming user, producer id). Consumers start paused; the orchestration
// layer resumes them once the client signals readiness.
type Consumer struct {
	ID            ConsumerID
	Owner         UserID // consuming side
	ProducerID    ProducerID
	ProducerOwner UserID
	Kind          MediaKind
	TransportID   TransportID // recv transport it was created on
	Paused        bool
	CreatedAt     time.Time
}
