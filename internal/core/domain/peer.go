package domain

import "time"

// PeerState is the per-user record of everything the media plane holds for a
// user: both transports, all producers and all consumers. Mutations go through
// the PeerStateRepository which serializes them per user.
type PeerState struct {
	UserID UserID

	SendTransport *Transport
	RecvTransport *Transport

	// A user may hold several audio producers but at most one video producer;
	// producing a new camera track closes the old one.
	AudioProducers map[ProducerID]*Producer
	VideoProducer  *Producer

	// Consumers keyed by the remote producer they decode.
	Consumers map[ProducerID]*Consumer

	ConnectedAt time.Time
	LastSeen    time.Time
}

func NewPeerState(id UserID) *PeerState {
	now := time.Now()
	return &PeerState{
		UserID:         id,
		AudioProducers: make(map[ProducerID]*Producer),
		Consumers:      make(map[ProducerID]*Consumer),
		ConnectedAt:    now,
		LastSeen:       now,
	}
}

// Producers returns every live producer of the peer, audio first.
func (p *PeerState) Producers() []*Producer {
	out := make([]*Producer, 0, len(p.AudioProducers)+1)
	for _, prod := range p.AudioProducers {
		out = append(out, prod)
	}
	if p.VideoProducer != nil {
		out = append(out, p.VideoProducer)
	}
	return out
}

// HasLiveConsumer reports whether the peer holds a consumer for the producer
// that was created on its current recv transport. A consumer created on a
// replaced transport is stale and does not count.
func (p *PeerState) HasLiveConsumer(producerID ProducerID) bool {
	c, ok := p.Consumers[producerID]
	if !ok {
		return false
	}
	return p.RecvTransport != nil && c.TransportID == p.RecvTransport.ID
}
