package domain

import "time"

// UserID is the opaque identifier the identity layer hands us.
// The core never interprets it.
type UserID string

type User struct {
	ID          UserID
	DisplayName string
	ConnectedAt time.Time
}
