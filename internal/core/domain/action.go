package domain

type ActionType string

const (
	ActionConsume       ActionType = "consume"
	ActionStop          ActionType = "stop"
	ActionPause         ActionType = "pause"
	ActionResume        ActionType = "resume"
	ActionMeetingPrompt ActionType = "meetingPrompt"
	ActionMeetingStart  ActionType = "meetingStart"
	ActionMeetingEnd    ActionType = "meetingEnd"
)

// Action is one directed instruction for exactly one target user. Actions are
// queued FIFO per user and delivered at least once; the client applies them
// idempotently per producer id.
type Action struct {
	Type ActionType `json:"type"`

	// Media actions.
	ProducerID    ProducerID `json:"producer_id,omitempty"`
	ProducerOwner UserID     `json:"producer_owner,omitempty"`
	Kind          MediaKind  `json:"kind,omitempty"`
	// Set on resume when the decoder needs a fresh reference frame.
	RequestKeyframe bool `json:"request_keyframe,omitempty"`

	// Meeting actions.
	PeerID    UserID    `json:"peer_id,omitempty"`
	RequestID RequestID `json:"request_id,omitempty"`
	ExpiresAt int64     `json:"expires_at,omitempty"` // epoch ms
}

func ConsumeAction(p *Producer) Action {
	return Action{Type: ActionConsume, ProducerID: p.ID, ProducerOwner: p.Owner, Kind: p.Kind}
}

func StopAction(p *Producer) Action {
	return Action{Type: ActionStop, ProducerID: p.ID, ProducerOwner: p.Owner, Kind: p.Kind}
}

func PauseAction(p *Producer) Action {
	return Action{Type: ActionPause, ProducerID: p.ID, ProducerOwner: p.Owner, Kind: p.Kind}
}

func ResumeAction(p *Producer, keyframe bool) Action {
	return Action{Type: ActionResume, ProducerID: p.ID, ProducerOwner: p.Owner, Kind: p.Kind, RequestKeyframe: keyframe}
}
