package domain

import "time"

// SessionStats is a point-in-time snapshot of the orchestration layer,
// exposed on the stats endpoint and mirrored into prometheus.
type SessionStats struct {
	ConnectedUsers int
	AudioPairs     int
	VideoPairs     int
	ActiveMeetings int
	PendingPrompts int
	QueuedActions  int
	Timestamp      time.Time
}

// UserStats describes one user's media footprint.
type UserStats struct {
	UserID         UserID
	AudioProducers int
	HasVideo       bool
	Consumers      int
	QueuedActions  int
	LastSeen       time.Time
}
