package domain

import "errors"

var (
	ErrPeerNotFound       = errors.New("peer not found")
	ErrTransportNotFound  = errors.New("transport not found")
	ErrProducerNotFound   = errors.New("producer not found")
	ErrConsumerNotFound   = errors.New("consumer not found")
	ErrCapabilityMismatch = errors.New("capability mismatch")
	ErrStaleRequest       = errors.New("stale meeting request")
	ErrMeetingNotActive   = errors.New("meeting not active")
	ErrInvalidMediaKind   = errors.New("invalid media kind")
)
