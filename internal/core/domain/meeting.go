package domain

import "strings"

type RequestID string

// PairKey identifies the unordered user pair of a meeting. Both orderings of
// the same two users map to the same key.
type PairKey string

const pairKeySep = "|"

func MakePairKey(a, b UserID) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey(string(a) + pairKeySep + string(b))
}

// Users returns the pair in key order (UserA < UserB).
func (k PairKey) Users() (UserID, UserID) {
	parts := strings.SplitN(string(k), pairKeySep, 2)
	if len(parts) != 2 {
		return "", ""
	}
	return UserID(parts[0]), UserID(parts[1])
}

func (k PairKey) Contains(u UserID) bool {
	a, b := k.Users()
	return u == a || u == b
}

type MeetingPhase string

const (
	MeetingIdle     MeetingPhase = "idle"
	MeetingPrompted MeetingPhase = "prompted"
	MeetingActive   MeetingPhase = "active"
)

// MeetingState is the consent state for one user pair. Invariants: Active and
// a live RequestID are mutually exclusive; no fresh prompt may be issued while
// CooldownUntil is in the future or an unexpired request exists.
type MeetingState struct {
	Key PairKey

	// Pending prompt. RequestID is empty when no prompt is outstanding.
	RequestID RequestID
	AcceptA   bool  // acceptance of the key-order-first user
	AcceptB   bool
	ExpiresAt int64 // epoch ms, 0 when no prompt

	Active        bool
	CooldownUntil int64 // epoch ms
}

func NewMeetingState(key PairKey) *MeetingState {
	return &MeetingState{Key: key}
}

// Phase resolves the current phase, treating an expired prompt as idle.
func (m *MeetingState) Phase(nowMs int64) MeetingPhase {
	switch {
	case m.Active:
		return MeetingActive
	case m.RequestID != "" && nowMs < m.ExpiresAt:
		return MeetingPrompted
	default:
		return MeetingIdle
	}
}

func (m *MeetingState) PromptExpired(nowMs int64) bool {
	return m.RequestID != "" && nowMs >= m.ExpiresAt
}

func (m *MeetingState) InCooldown(nowMs int64) bool {
	return nowMs < m.CooldownUntil
}

// Peer returns the other side of the pair, or "" when u is not part of it.
func (m *MeetingState) Peer(u UserID) UserID {
	a, b := m.Key.Users()
	switch u {
	case a:
		return b
	case b:
		return a
	default:
		return ""
	}
}

// SetAccept records one side's acceptance. Duplicate accepts are no-ops.
func (m *MeetingState) SetAccept(u UserID) {
	a, _ := m.Key.Users()
	if u == a {
		m.AcceptA = true
	} else {
		m.AcceptB = true
	}
}

func (m *MeetingState) BothAccepted() bool {
	return m.AcceptA && m.AcceptB
}

// ClearPrompt drops any outstanding request without touching cooldown.
func (m *MeetingState) ClearPrompt() {
	m.RequestID = ""
	m.AcceptA = false
	m.AcceptB = false
	m.ExpiresAt = 0
}
