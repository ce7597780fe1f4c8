package domain

import "testing"

func TestMakePairKey(t *testing.T) {
	tests := []struct {
		name string
		a, b UserID
		want PairKey
	}{
		{name: "already ordered", a: "alice", b: "bob", want: "alice|bob"},
		{name: "reversed", a: "bob", b: "alice", want: "alice|bob"},
		{name: "same pair either direction", a: "zoe", b: "adam", want: "adam|zoe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MakePairKey(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("MakePairKey(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestPairKeyUsers(t *testing.T) {
	key := MakePairKey("bob", "alice")
	a, b := key.Users()
	if a != "alice" || b != "bob" {
		t.Errorf("Users() = (%q, %q), want (alice, bob)", a, b)
	}
	if !key.Contains("alice") || !key.Contains("bob") {
		t.Error("Contains should hold for both members")
	}
	if key.Contains("carol") {
		t.Error("Contains should not hold for a stranger")
	}
}

func TestMeetingStatePhase(t *testing.T) {
	now := int64(1_000_000)

	tests := []struct {
		name  string
		state MeetingState
		want  MeetingPhase
	}{
		{name: "fresh state is idle", state: MeetingState{}, want: MeetingIdle},
		{
			name:  "pending prompt",
			state: MeetingState{RequestID: "r1", ExpiresAt: now + 5000},
			want:  MeetingPrompted,
		},
		{
			name:  "expired prompt reads as idle",
			state: MeetingState{RequestID: "r1", ExpiresAt: now - 1},
			want:  MeetingIdle,
		},
		{
			name:  "active meeting",
			state: MeetingState{Active: true},
			want:  MeetingActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Phase(now); got != tt.want {
				t.Errorf("Phase() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeetingStateAccept(t *testing.T) {
	st := MeetingState{Key: MakePairKey("bob", "alice"), RequestID: "r1"}

	st.SetAccept("alice")
	if st.BothAccepted() {
		t.Fatal("one accept must not complete the handshake")
	}
	// The same user accepting twice changes nothing.
	st.SetAccept("alice")
	if st.BothAccepted() {
		t.Fatal("duplicate accept from the same user must not count for the peer")
	}

	st.SetAccept("bob")
	if !st.BothAccepted() {
		t.Fatal("both sides accepted, handshake should be complete")
	}
}

func TestMeetingStateClearPrompt(t *testing.T) {
	st := MeetingState{RequestID: "r1", ExpiresAt: 42, AcceptA: true, AcceptB: true}
	st.ClearPrompt()

	if st.RequestID != "" || st.ExpiresAt != 0 || st.AcceptA || st.AcceptB {
		t.Errorf("ClearPrompt left residue: %+v", st)
	}
}

func TestMeetingStateCooldown(t *testing.T) {
	st := MeetingState{CooldownUntil: 10_000}

	if !st.InCooldown(9_999) {
		t.Error("before the deadline the pair is in cooldown")
	}
	if st.InCooldown(10_000) {
		t.Error("at the deadline the cooldown is over")
	}
}
