package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
	"officemesh/internal/core/services"
	"officemesh/pkg/utils"
	"officemesh/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketServer is the realtime signal plane: clients drive the session
// API over it and receive a nudge whenever their action queue grows. It is
// the in-process ports.PendingNotifier.
type WebSocketServer struct {
	sessions ports.SessionService
	auth     services.AuthService

	connections map[domain.UserID]*websocket.Conn
	mu          sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	msgRate        rate.Limit
	msgBurst       int
	maxMessageSize int64

	logger *zap.SugaredLogger
}

var _ ports.SignalServer = (*WebSocketServer)(nil)

type SignalMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ProximityPayload struct {
	Event domain.ProximityEventType `json:"event"`
	Other domain.UserID             `json:"other"`
	Media domain.MediaKind          `json:"media"`
}

type CreateTransportPayload struct {
	Direction domain.TransportDirection `json:"direction"`
}

type ConnectTransportPayload struct {
	TransportID domain.TransportID `json:"transport_id"`
	Parameters  json.RawMessage    `json:"parameters"`
}

type ProducePayload struct {
	Kind       domain.MediaKind `json:"kind"`
	Parameters json.RawMessage  `json:"parameters"`
}

type CloseProducerPayload struct {
	ProducerID domain.ProducerID `json:"producer_id"`
}

type ConsumePayload struct {
	ProducerID   domain.ProducerID `json:"producer_id"`
	Capabilities json.RawMessage   `json:"capabilities,omitempty"`
}

type ConsumerReadyPayload struct {
	ProducerID domain.ProducerID `json:"producer_id"`
}

type StopConsumerPayload struct {
	ProducerID domain.ProducerID `json:"producer_id"`
}

type KeyframePayload struct {
	ProducerID domain.ProducerID `json:"producer_id"`
}

type MeetingResponsePayload struct {
	Peer      domain.UserID    `json:"peer"`
	RequestID domain.RequestID `json:"request_id"`
	Accept    bool             `json:"accept"`
}

type MeetingEndPayload struct {
	Peer domain.UserID `json:"peer"`
}

func NewWebSocketServer(sessions ports.SessionService, auth services.AuthService, msgRate float64, msgBurst int, maxMessageSize int64, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		sessions:       sessions,
		auth:           auth,
		connections:    make(map[domain.UserID]*websocket.Conn),
		pingInterval:   30 * time.Second,
		readTimeout:    60 * time.Second,
		writeTimeout:   10 * time.Second,
		msgRate:        rate.Limit(msgRate),
		msgBurst:       msgBurst,
		maxMessageSize: maxMessageSize,
		logger:         logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// NotifyPending pushes a pending-actions nudge. Users without a live
// connection pick their queue up on reconnect; a failed write is not an
// error for the caller.
func (s *WebSocketServer) NotifyPending(ctx context.Context, user domain.UserID) {
	s.mu.RLock()
	conn := s.connections[user]
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	actions, err := s.sessions.Drain(ctx, user)
	if err != nil {
		s.logger.Warnw("drain on notify failed", "user_id", user, "error", err)
		return
	}
	if len(actions) == 0 {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteJSON(map[string]interface{}{
		"type":           "actions",
		"actions":        actions,
		"server_time_ms": utils.NowMs(),
	}); err != nil {
		// The queue is the source of truth until the write succeeds. Put
		// the batch back so a reconnecting client drains it instead of
		// losing it to a dying connection.
		s.logger.Warnw("pending push failed, requeueing batch",
			"user_id", user, "actions", len(actions), "error", err)
		if rqErr := s.sessions.Requeue(ctx, user, actions...); rqErr != nil {
			s.logger.Errorw("requeue after failed push failed",
				"user_id", user, "actions", len(actions), "error", rqErr)
		}
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID := domain.UserID(claims.UserID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}

	// A reconnect displaces the previous connection but keeps the server
	// side session, so queued actions survive.
	s.mu.Lock()
	existing, isReconnect := s.connections[userID]
	if isReconnect && existing != nil {
		existing.Close()
	}
	s.connections[userID] = conn
	s.mu.Unlock()

	ctx := r.Context()
	if err := s.sessions.Connect(ctx, userID); err != nil {
		s.logger.Errorw("session connect failed", "user_id", userID, "error", err)
		s.dropConnection(userID, conn)
		return
	}

	s.logger.Infow("user connected", "user_id", userID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	// Flush anything queued while the user was away.
	s.NotifyPending(ctx, userID)

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(s.msgRate, s.msgBurst)
	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if !limiter.Allow() {
				s.sendError(conn, msg.RequestID, "rate limit exceeded")
				continue
			}
			if err := s.handleMessage(context.Background(), userID, conn, msg); err != nil {
				s.logger.Infow("message handling failed",
					"user_id", userID, "type", msg.Type, "error", err)
				s.sendError(conn, msg.RequestID, err.Error())
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("ping failed", "user_id", userID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "user_id", userID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	displaced := s.dropConnection(userID, conn)
	if displaced {
		// A newer connection owns the session now.
		s.logger.Infow("connection displaced", "user_id", userID)
		return
	}

	if err := s.sessions.Disconnect(context.Background(), userID); err != nil {
		s.logger.Warnw("session disconnect failed", "user_id", userID, "error", err)
	}
	s.logger.Infow("user disconnected", "user_id", userID)
}

// dropConnection removes conn from the registry. Returns true when a newer
// connection has already replaced it.
func (s *WebSocketServer) dropConnection(user domain.UserID, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.connections[user]
	if !ok {
		return false
	}
	if current != conn {
		return true
	}
	delete(s.connections, user)
	return false
}

func (s *WebSocketServer) handleMessage(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	switch msg.Type {
	case "proximity_event":
		return s.handleProximity(ctx, userID, msg)
	case "create_transport":
		return s.handleCreateTransport(ctx, userID, conn, msg)
	case "connect_transport":
		return s.handleConnectTransport(ctx, userID, conn, msg)
	case "produce":
		return s.handleProduce(ctx, userID, conn, msg)
	case "close_producer":
		return s.handleCloseProducer(ctx, userID, conn, msg)
	case "consume":
		return s.handleConsume(ctx, userID, conn, msg)
	case "consumer_ready":
		return s.handleConsumerReady(ctx, userID, conn, msg)
	case "stop_consumer":
		return s.handleStopConsumer(ctx, userID, conn, msg)
	case "request_keyframe":
		return s.handleKeyframe(ctx, userID, conn, msg)
	case "meeting_response":
		return s.handleMeetingResponse(ctx, userID, conn, msg)
	case "meeting_end":
		return s.handleMeetingEnd(ctx, userID, conn, msg)
	case "drain":
		return s.handleDrain(ctx, userID, conn, msg)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleProximity(ctx context.Context, userID domain.UserID, msg SignalMessage) error {
	var payload ProximityPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid proximity_event payload: %w", err)
	}
	if payload.Other == "" {
		return fmt.Errorf("other is required")
	}

	return s.sessions.HandleProximity(ctx, domain.ProximityEvent{
		Type:  payload.Event,
		UserA: userID,
		UserB: payload.Other,
		Media: payload.Media,
	})
}

func (s *WebSocketServer) handleCreateTransport(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload CreateTransportPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid create_transport payload: %w", err)
	}

	info, err := s.sessions.CreateTransport(ctx, userID, payload.Direction)
	if err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "transport_created", map[string]interface{}{
		"transport_id": info.ID,
		"direction":    info.Direction,
		"parameters":   info.Parameters,
	})
}

func (s *WebSocketServer) handleConnectTransport(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload ConnectTransportPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid connect_transport payload: %w", err)
	}
	if payload.TransportID == "" {
		return fmt.Errorf("transport_id is required")
	}

	if err := s.sessions.ConnectTransport(ctx, userID, payload.TransportID, payload.Parameters); err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "transport_connected", map[string]interface{}{
		"transport_id": payload.TransportID,
	})
}

func (s *WebSocketServer) handleProduce(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload ProducePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid produce payload: %w", err)
	}
	if !payload.Kind.Valid() {
		return domain.ErrInvalidMediaKind
	}

	producerID, err := s.sessions.Produce(ctx, userID, payload.Kind, payload.Parameters)
	if err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "produced", map[string]interface{}{
		"producer_id": producerID,
		"kind":        payload.Kind,
	})
}

func (s *WebSocketServer) handleCloseProducer(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload CloseProducerPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid close_producer payload: %w", err)
	}

	if err := s.sessions.CloseProducer(ctx, userID, payload.ProducerID); err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "producer_closed", map[string]interface{}{
		"producer_id": payload.ProducerID,
	})
}

func (s *WebSocketServer) handleConsume(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload ConsumePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid consume payload: %w", err)
	}
	if err := validation.ValidateResourceID(string(payload.ProducerID)); err != nil {
		return err
	}

	info, err := s.sessions.Consume(ctx, userID, payload.ProducerID, payload.Capabilities)
	if err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "consumed", map[string]interface{}{
		"consumer_id":    info.ID,
		"producer_id":    info.ProducerID,
		"producer_owner": info.ProducerOwner,
		"kind":           info.Kind,
		"parameters":     info.Parameters,
	})
}

func (s *WebSocketServer) handleConsumerReady(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload ConsumerReadyPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid consumer_ready payload: %w", err)
	}

	if err := s.sessions.ConsumerReady(ctx, userID, payload.ProducerID); err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "consumer_resumed", map[string]interface{}{
		"producer_id": payload.ProducerID,
	})
}

func (s *WebSocketServer) handleStopConsumer(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload StopConsumerPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid stop_consumer payload: %w", err)
	}

	if err := s.sessions.StopConsumer(ctx, userID, payload.ProducerID); err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "consumer_stopped", map[string]interface{}{
		"producer_id": payload.ProducerID,
	})
}

func (s *WebSocketServer) handleKeyframe(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload KeyframePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid request_keyframe payload: %w", err)
	}

	return s.sessions.RequestKeyframe(ctx, userID, payload.ProducerID)
}

func (s *WebSocketServer) handleMeetingResponse(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload MeetingResponsePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid meeting_response payload: %w", err)
	}
	if payload.Peer == "" || payload.RequestID == "" {
		return fmt.Errorf("peer and request_id are required")
	}

	if err := s.sessions.MeetingRespond(ctx, userID, payload.Peer, payload.RequestID, payload.Accept); err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "meeting_response_ack", map[string]interface{}{
		"peer":   payload.Peer,
		"accept": payload.Accept,
	})
}

func (s *WebSocketServer) handleMeetingEnd(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	var payload MeetingEndPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid meeting_end payload: %w", err)
	}
	if payload.Peer == "" {
		return fmt.Errorf("peer is required")
	}

	if err := s.sessions.MeetingEnd(ctx, userID, payload.Peer); err != nil {
		return err
	}
	return s.sendResponse(conn, msg.RequestID, "meeting_end_ack", map[string]interface{}{
		"peer": payload.Peer,
	})
}

func (s *WebSocketServer) handleDrain(ctx context.Context, userID domain.UserID, conn *websocket.Conn, msg SignalMessage) error {
	actions, err := s.sessions.Drain(ctx, userID)
	if err != nil {
		return err
	}
	err = s.sendResponse(conn, msg.RequestID, "actions", map[string]interface{}{
		"actions":        actions,
		"server_time_ms": utils.NowMs(),
	})
	if err != nil && len(actions) > 0 {
		if rqErr := s.sessions.Requeue(ctx, userID, actions...); rqErr != nil {
			s.logger.Errorw("requeue after failed drain response failed",
				"user_id", userID, "actions", len(actions), "error", rqErr)
		}
	}
	return err
}

func (s *WebSocketServer) sendResponse(conn *websocket.Conn, requestID, msgType string, body map[string]interface{}) error {
	response := map[string]interface{}{"type": msgType}
	if requestID != "" {
		response["request_id"] = requestID
	}
	for k, v := range body {
		response[k] = v
	}
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteJSON(response)
}

func (s *WebSocketServer) sendError(conn *websocket.Conn, requestID, message string) {
	response := map[string]interface{}{
		"type":  "error",
		"error": message,
	}
	if requestID != "" {
		response["request_id"] = requestID
	}
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteJSON(response); err != nil {
		s.logger.Debugw("error response write failed", "error", err)
	}
}

// ConnectedUsers reports how many users hold a live signal connection.
func (s *WebSocketServer) ConnectedUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
