package services

import (
	"context"
	"testing"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
	"officemesh/internal/infrastructure/repositories/memory"

	"go.uber.org/zap/zaptest"
)

type meetingHarness struct {
	svc       *meetingService
	meetings  ports.MeetingRepository
	peers     ports.PeerStateRepository
	proximity ports.ProximityRepository
	queue     ports.ActionQueue
	clock     *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newMeetingHarness(t *testing.T) *meetingHarness {
	t.Helper()

	meetings := memory.NewMemoryMeetingRepository()
	peers := memory.NewMemoryPeerStateRepository()
	proximity := memory.NewMemoryProximityRepository()
	queue := memory.NewMemoryActionQueue()

	svc := NewMeetingService(meetings, peers, proximity, queue,
		DefaultMeetingConfig(), zaptest.NewLogger(t).Sugar()).(*meetingService)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	svc.now = clock.Now

	return &meetingHarness{
		svc:       svc,
		meetings:  meetings,
		peers:     peers,
		proximity: proximity,
		queue:     queue,
		clock:     clock,
	}
}

func (h *meetingHarness) drain(t *testing.T, user domain.UserID) []domain.Action {
	t.Helper()
	actions, err := h.queue.Drain(context.Background(), user)
	if err != nil {
		t.Fatalf("drain %s: %v", user, err)
	}
	return actions
}

func (h *meetingHarness) promptID(t *testing.T, a, b domain.UserID) domain.RequestID {
	t.Helper()
	st, err := h.meetings.Get(context.Background(), domain.MakePairKey(a, b))
	if err != nil {
		t.Fatalf("get meeting state: %v", err)
	}
	return st.RequestID
}

func findAction(actions []domain.Action, typ domain.ActionType) *domain.Action {
	for i := range actions {
		if actions[i].Type == typ {
			return &actions[i]
		}
	}
	return nil
}

func TestMeetingPromptOnVideoEnter(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	if err := h.svc.HandleVideoEnter(ctx, "alice", "bob"); err != nil {
		t.Fatalf("HandleVideoEnter: %v", err)
	}

	aliceActions := h.drain(t, "alice")
	bobActions := h.drain(t, "bob")

	ap := findAction(aliceActions, domain.ActionMeetingPrompt)
	bp := findAction(bobActions, domain.ActionMeetingPrompt)
	if ap == nil || bp == nil {
		t.Fatal("both users must receive a prompt")
	}
	if ap.RequestID == "" || ap.RequestID != bp.RequestID {
		t.Errorf("prompts must share a request id, got %q and %q", ap.RequestID, bp.RequestID)
	}
	if ap.PeerID != "bob" || bp.PeerID != "alice" {
		t.Errorf("prompts must name the other side, got %q and %q", ap.PeerID, bp.PeerID)
	}
	wantExpiry := h.clock.Now().UnixMilli() + DefaultMeetingConfig().PromptTTL.Milliseconds()
	if ap.ExpiresAt != wantExpiry {
		t.Errorf("ExpiresAt = %d, want %d", ap.ExpiresAt, wantExpiry)
	}
}

func TestMeetingNoRepromptWhilePending(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	first := h.promptID(t, "alice", "bob")

	// In-range flapping must not spawn a second request.
	if err := h.svc.HandleVideoEnter(ctx, "bob", "alice"); err != nil {
		t.Fatalf("HandleVideoEnter: %v", err)
	}
	if got := h.promptID(t, "alice", "bob"); got != first {
		t.Errorf("request id changed on duplicate enter: %q -> %q", first, got)
	}

	h.drain(t, "alice")
	if actions := h.drain(t, "alice"); len(actions) != 0 {
		t.Errorf("second enter enqueued %d extra actions", len(actions))
	}
}

func TestMeetingAcceptHandshake(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	req := h.promptID(t, "alice", "bob")
	h.drain(t, "alice")
	h.drain(t, "bob")

	if err := h.svc.Respond(ctx, "alice", "bob", req, true); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	st, _ := h.meetings.Get(ctx, domain.MakePairKey("alice", "bob"))
	if st.Active {
		t.Fatal("meeting must not start on a single accept")
	}
	if len(h.drain(t, "bob")) != 0 {
		t.Fatal("partial acceptance must not enqueue anything")
	}

	if err := h.svc.Respond(ctx, "bob", "alice", req, true); err != nil {
		t.Fatalf("second accept: %v", err)
	}
	st, _ = h.meetings.Get(ctx, domain.MakePairKey("alice", "bob"))
	if !st.Active {
		t.Fatal("meeting must be active after mutual accept")
	}
	if st.RequestID != "" {
		t.Error("prompt must be cleared once the meeting starts")
	}

	for _, u := range []domain.UserID{"alice", "bob"} {
		if findAction(h.drain(t, u), domain.ActionMeetingStart) == nil {
			t.Errorf("%s missing meetingStart", u)
		}
	}
}

func TestMeetingStartCrossEnqueuesMedia(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	// Bob already shares mic and camera.
	audio := &domain.Producer{ID: "p-audio", Owner: "bob", Kind: domain.MediaAudio}
	video := &domain.Producer{ID: "p-video", Owner: "bob", Kind: domain.MediaVideo}
	h.peers.Update(ctx, "bob", func(st *domain.PeerState) error {
		st.AudioProducers[audio.ID] = audio
		st.VideoProducer = video
		return nil
	})

	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	req := h.promptID(t, "alice", "bob")
	h.drain(t, "alice")
	h.drain(t, "bob")

	h.svc.Respond(ctx, "alice", "bob", req, true)
	h.svc.Respond(ctx, "bob", "alice", req, true)

	aliceActions := h.drain(t, "alice")
	var consumed []domain.ProducerID
	for _, a := range aliceActions {
		if a.Type == domain.ActionConsume {
			consumed = append(consumed, a.ProducerID)
		}
	}
	if len(consumed) != 2 {
		t.Fatalf("alice should consume bob's audio and video, got %v", consumed)
	}
}

func TestMeetingDeclineSetsCooldown(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	req := h.promptID(t, "alice", "bob")
	h.drain(t, "alice")
	h.drain(t, "bob")

	if err := h.svc.Respond(ctx, "bob", "alice", req, false); err != nil {
		t.Fatalf("decline: %v", err)
	}

	// Inside cooldown no fresh prompt appears.
	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	if id := h.promptID(t, "alice", "bob"); id != "" {
		t.Fatalf("prompt issued during cooldown: %q", id)
	}

	// After cooldown a new prompt with a new id is allowed.
	h.clock.Advance(DefaultMeetingConfig().Cooldown + time.Second)
	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	newID := h.promptID(t, "alice", "bob")
	if newID == "" {
		t.Fatal("prompt must be issued after cooldown")
	}
	if newID == req {
		t.Error("a fresh prompt must carry a fresh request id")
	}
}

func TestMeetingPromptExpiry(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	req := h.promptID(t, "alice", "bob")
	h.drain(t, "alice")
	h.drain(t, "bob")

	h.clock.Advance(DefaultMeetingConfig().PromptTTL + time.Second)

	// A late accept is absorbed, not an error, and does not start anything.
	if err := h.svc.Respond(ctx, "alice", "bob", req, true); err != nil {
		t.Fatalf("late accept: %v", err)
	}
	st, _ := h.meetings.Get(ctx, domain.MakePairKey("alice", "bob"))
	if st.Active || st.RequestID != "" {
		t.Errorf("expired prompt must resolve to idle, got %+v", st)
	}
	if st.CooldownUntil <= h.clock.Now().UnixMilli() {
		t.Error("expiry must start the cooldown window")
	}
}

func TestMeetingStaleRequestIgnored(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	h.drain(t, "alice")
	h.drain(t, "bob")

	if err := h.svc.Respond(ctx, "alice", "bob", "bogus-request", true); err != nil {
		t.Fatalf("stale respond: %v", err)
	}
	st, _ := h.meetings.Get(ctx, domain.MakePairKey("alice", "bob"))
	if st.AcceptA || st.AcceptB || st.Active {
		t.Errorf("mismatched request id must not mutate consent: %+v", st)
	}
}

func TestMeetingLeaveCancelsPrompt(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	if err := h.svc.HandleVideoLeave(ctx, "alice", "bob"); err != nil {
		t.Fatalf("HandleVideoLeave: %v", err)
	}

	st, _ := h.meetings.Get(ctx, domain.MakePairKey("alice", "bob"))
	if st.RequestID != "" {
		t.Error("leaving range must cancel the prompt")
	}
	if !st.InCooldown(h.clock.Now().UnixMilli()) {
		t.Error("cancelled prompt must start cooldown")
	}
}

func TestMeetingActiveSurvivesLeave(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.startMeeting(t, "alice", "bob")

	if err := h.svc.HandleVideoLeave(ctx, "alice", "bob"); err != nil {
		t.Fatalf("HandleVideoLeave: %v", err)
	}
	st, _ := h.meetings.Get(ctx, domain.MakePairKey("alice", "bob"))
	if !st.Active {
		t.Error("walking out of range must not end an active meeting")
	}
}

func TestMeetingEndInAudioRangeKeepsAudio(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	audio := &domain.Producer{ID: "p-audio", Owner: "bob", Kind: domain.MediaAudio}
	video := &domain.Producer{ID: "p-video", Owner: "bob", Kind: domain.MediaVideo}
	h.peers.Update(ctx, "bob", func(st *domain.PeerState) error {
		st.AudioProducers[audio.ID] = audio
		st.VideoProducer = video
		return nil
	})
	h.proximity.Add(ctx, "alice", "bob", domain.MediaAudio)

	h.startMeeting(t, "alice", "bob")
	h.drain(t, "alice")
	h.drain(t, "bob")

	if err := h.svc.End(ctx, "alice", "bob"); err != nil {
		t.Fatalf("End: %v", err)
	}

	aliceActions := h.drain(t, "alice")
	if findAction(aliceActions, domain.ActionMeetingEnd) == nil {
		t.Error("alice missing meetingEnd")
	}
	pause := findAction(aliceActions, domain.ActionPause)
	if pause == nil || pause.ProducerID != video.ID {
		t.Error("video must be paused, not stopped, on meeting end")
	}
	if stop := findAction(aliceActions, domain.ActionStop); stop != nil {
		t.Errorf("audio must keep flowing while still in audio range, got stop for %s", stop.ProducerID)
	}
}

func TestMeetingEndOutOfAudioRangeStopsAudio(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	audio := &domain.Producer{ID: "p-audio", Owner: "bob", Kind: domain.MediaAudio}
	h.peers.Update(ctx, "bob", func(st *domain.PeerState) error {
		st.AudioProducers[audio.ID] = audio
		return nil
	})

	h.startMeeting(t, "alice", "bob")
	h.drain(t, "alice")
	h.drain(t, "bob")

	if err := h.svc.End(ctx, "bob", "alice"); err != nil {
		t.Fatalf("End: %v", err)
	}

	aliceActions := h.drain(t, "alice")
	stop := findAction(aliceActions, domain.ActionStop)
	if stop == nil || stop.ProducerID != audio.ID {
		t.Error("out of audio range, meeting end must stop the audio producer")
	}
}

func TestMeetingDoubleEndIsNoop(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.startMeeting(t, "alice", "bob")
	h.drain(t, "alice")
	h.drain(t, "bob")

	if err := h.svc.End(ctx, "alice", "bob"); err != nil {
		t.Fatalf("first end: %v", err)
	}
	h.drain(t, "alice")
	h.drain(t, "bob")

	if err := h.svc.End(ctx, "bob", "alice"); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if n := len(h.drain(t, "alice")) + len(h.drain(t, "bob")); n != 0 {
		t.Errorf("double end enqueued %d actions", n)
	}
}

func TestMeetingCounts(t *testing.T) {
	h := newMeetingHarness(t)
	ctx := context.Background()

	h.svc.HandleVideoEnter(ctx, "alice", "bob")
	h.startMeeting(t, "carol", "dave")

	active, prompted, err := h.svc.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if active != 1 || prompted != 1 {
		t.Errorf("Counts = (%d, %d), want (1, 1)", active, prompted)
	}
}

// startMeeting runs the full prompt/accept handshake for the pair.
func (h *meetingHarness) startMeeting(t *testing.T, a, b domain.UserID) {
	t.Helper()
	ctx := context.Background()

	if err := h.svc.HandleVideoEnter(ctx, a, b); err != nil {
		t.Fatalf("HandleVideoEnter: %v", err)
	}
	req := h.promptID(t, a, b)
	if req == "" {
		t.Fatal("no prompt issued")
	}
	if err := h.svc.Respond(ctx, a, b, req, true); err != nil {
		t.Fatalf("accept by %s: %v", a, err)
	}
	if err := h.svc.Respond(ctx, b, a, req, true); err != nil {
		t.Fatalf("accept by %s: %v", b, err)
	}
}
