package domain

type ProximityEventType string

const (
	ProximityEnter ProximityEventType = "enter"
	ProximityLeave ProximityEventType = "leave"
)

// ProximityEvent is what the world/movement system reports when two avatars
// cross a range boundary. Audio and video ranges are tracked independently.
type ProximityEvent struct {
	Type  ProximityEventType `json:"type"`
	UserA UserID             `json:"user_a"`
	UserB UserID             `json:"user_b"`
	Media MediaKind          `json:"media"`
}

// Transition is the result of applying a proximity event. Changed is false
// when the event was redundant (enter while already in range, leave while
// already out of range).
type Transition struct {
	Type    ProximityEventType
	UserA   UserID
	UserB   UserID
	Media   MediaKind
	Changed bool
}
