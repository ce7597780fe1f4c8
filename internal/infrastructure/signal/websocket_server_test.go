package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
	"officemesh/internal/core/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubOrchestrator hands out one canned batch and records what comes back.
// Only the drain and requeue paths are wired; nothing else is called here.
type stubOrchestrator struct {
	ports.SessionService

	mu       sync.Mutex
	pending  []domain.Action
	requeued []domain.Action
}

func (s *stubOrchestrator) Drain(ctx context.Context, user domain.UserID) ([]domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch, nil
}

func (s *stubOrchestrator) Requeue(ctx context.Context, user domain.UserID, actions ...domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeued = append(s.requeued, actions...)
	return nil
}

func newTestServer(t *testing.T, stub *stubOrchestrator) *WebSocketServer {
	auth := services.NewAuthService("test-secret", time.Hour)
	return NewWebSocketServer(stub, auth, 100, 200, 64*1024, zaptest.NewLogger(t).Sugar())
}

// newConnPair dials a real websocket against a throwaway server and returns
// both ends.
func newConnPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	upg := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upg.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverCh <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server = <-serverCh
	t.Cleanup(func() { server.Close() })
	return server, client
}

func (s *WebSocketServer) register(user domain.UserID, conn *websocket.Conn) {
	s.mu.Lock()
	s.connections[user] = conn
	s.mu.Unlock()
}

func TestNotifyPendingDeliversBatch(t *testing.T) {
	stub := &stubOrchestrator{pending: []domain.Action{
		{Type: domain.ActionConsume, ProducerID: "p1", Kind: domain.MediaAudio},
	}}
	s := newTestServer(t, stub)

	serverConn, clientConn := newConnPair(t)
	s.register("alice", serverConn)

	s.NotifyPending(context.Background(), "alice")

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type    string          `json:"type"`
		Actions []domain.Action `json:"actions"`
	}
	require.NoError(t, clientConn.ReadJSON(&frame))
	assert.Equal(t, "actions", frame.Type)
	require.Len(t, frame.Actions, 1)
	assert.Equal(t, domain.ProducerID("p1"), frame.Actions[0].ProducerID)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Empty(t, stub.requeued, "a delivered batch must not be requeued")
}

func TestNotifyPendingFailedPushRequeuesBatch(t *testing.T) {
	stub := &stubOrchestrator{pending: []domain.Action{
		{Type: domain.ActionConsume, ProducerID: "p1", Kind: domain.MediaAudio},
		{Type: domain.ActionStop, ProducerID: "p2", Kind: domain.MediaVideo},
	}}
	s := newTestServer(t, stub)

	// The registered connection is already dead, as after a reconnect
	// displacement racing the push.
	serverConn, _ := newConnPair(t)
	serverConn.Close()
	s.register("alice", serverConn)

	s.NotifyPending(context.Background(), "alice")

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.requeued, 2, "failed push must restore the drained batch")
	assert.Equal(t, domain.ProducerID("p1"), stub.requeued[0].ProducerID)
	assert.Equal(t, domain.ProducerID("p2"), stub.requeued[1].ProducerID)
}

func TestNotifyPendingWithoutConnectionLeavesQueue(t *testing.T) {
	stub := &stubOrchestrator{pending: []domain.Action{
		{Type: domain.ActionConsume, ProducerID: "p1"},
	}}
	s := newTestServer(t, stub)

	s.NotifyPending(context.Background(), "ghost")

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Len(t, stub.pending, 1, "no connection must mean no drain")
	assert.Empty(t, stub.requeued)
}
