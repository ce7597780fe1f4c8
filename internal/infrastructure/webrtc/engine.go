package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
	"officemesh/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// EngineConfig carries the ICE/port setup for the in-process SFU.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Engine is the media capability boundary: transports, producers and
// consumers over pion peer connections. The orchestration layer above only
// sees opaque negotiation blobs and ids.
type Engine struct {
	api    *webrtc.API
	config EngineConfig

	mu         sync.RWMutex
	transports map[domain.TransportID]*transport
	producers  map[domain.ProducerID]*producer
	consumers  map[domain.ConsumerID]*consumer

	logger *zap.SugaredLogger
}

type transport struct {
	id        domain.TransportID
	owner     domain.UserID
	direction domain.TransportDirection
	pc        *webrtc.PeerConnection
	createdAt time.Time
}

type producer struct {
	id          domain.ProducerID
	owner       domain.UserID
	kind        domain.MediaKind
	transportID domain.TransportID

	mu     sync.RWMutex
	remote *webrtc.TrackRemote // nil until the client's track arrives
	// consumers subscribed to this producer's packets
	subscribers map[domain.ConsumerID]*consumer
	done        chan struct{}
}

type consumer struct {
	id            domain.ConsumerID
	owner         domain.UserID
	producerID    domain.ProducerID
	producerOwner domain.UserID
	kind          domain.MediaKind
	transportID   domain.TransportID

	mu     sync.RWMutex
	paused bool
	local  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
}

// sdpPayload is the shape of the opaque negotiation blobs on the wire.
type sdpPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type,omitempty"`
}

// consumeCaps is the (optional) capability blob a consume RPC may carry.
type consumeCaps struct {
	MimeTypes []string `json:"mime_types,omitempty"`
}

func NewEngine(cfg EngineConfig, logger *zap.SugaredLogger) (*Engine, error) {
	se := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set udp port range: %w", err)
		}
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	return &Engine{
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(m)),
		config:     cfg,
		transports: make(map[domain.TransportID]*transport),
		producers:  make(map[domain.ProducerID]*producer),
		consumers:  make(map[domain.ConsumerID]*consumer),
		logger:     logger,
	}, nil
}

func (e *Engine) newPeerConnection() (*webrtc.PeerConnection, error) {
	return e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.config.ICEServers})
}

// CreateTransport builds a peer connection and a server-side offer. Send
// transports get recvonly transceivers so the client can publish mic and
// camera; recv transports start empty and grow senders as consumers attach.
func (e *Engine) CreateTransport(ctx context.Context, owner domain.UserID, dir domain.TransportDirection) (ports.TransportInfo, error) {
	pc, err := e.newPeerConnection()
	if err != nil {
		return ports.TransportInfo{}, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &transport{
		id:        domain.TransportID(utils.GenerateTransportID()),
		owner:     owner,
		direction: dir,
		pc:        pc,
		createdAt: time.Now(),
	}

	if dir == domain.DirectionSend {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return ports.TransportInfo{}, fmt.Errorf("failed to add transceiver: %w", err)
			}
		}
		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			e.bindRemoteTrack(t.id, remote)
		})
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return ports.TransportInfo{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return ports.TransportInfo{}, fmt.Errorf("failed to set local description: %w", err)
	}

	params, err := json.Marshal(sdpPayload{SDP: offer.SDP, Type: offer.Type.String()})
	if err != nil {
		pc.Close()
		return ports.TransportInfo{}, err
	}

	e.mu.Lock()
	e.transports[t.id] = t
	e.mu.Unlock()

	e.logger.Infow("transport created", "transport_id", t.id, "owner", owner, "direction", dir)
	return ports.TransportInfo{ID: t.id, Direction: dir, Parameters: params}, nil
}

// ConnectTransport applies the client's SDP answer.
func (e *Engine) ConnectTransport(ctx context.Context, id domain.TransportID, params json.RawMessage) error {
	t := e.transport(id)
	if t == nil {
		return domain.ErrTransportNotFound
	}

	var payload sdpPayload
	if err := json.Unmarshal(params, &payload); err != nil {
		return fmt.Errorf("invalid transport parameters: %w", err)
	}
	if payload.SDP == "" {
		return fmt.Errorf("transport parameters require an sdp")
	}

	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  payload.SDP,
	})
}

func (e *Engine) CloseTransport(ctx context.Context, id domain.TransportID) error {
	e.mu.Lock()
	t, ok := e.transports[id]
	if ok {
		delete(e.transports, id)
	}
	e.mu.Unlock()
	if !ok {
		return domain.ErrTransportNotFound
	}
	return t.pc.Close()
}

// Produce registers a producer on a send transport. The RTP starts flowing
// once the client's track shows up on the peer connection; until then the
// producer exists but forwards nothing.
func (e *Engine) Produce(ctx context.Context, owner domain.UserID, transportID domain.TransportID, kind domain.MediaKind, params json.RawMessage) (domain.ProducerID, error) {
	t := e.transport(transportID)
	if t == nil {
		return "", domain.ErrTransportNotFound
	}
	if t.direction != domain.DirectionSend {
		return "", fmt.Errorf("produce requires a send transport, got %s", t.direction)
	}

	p := &producer{
		id:          domain.ProducerID(utils.GenerateProducerID()),
		owner:       owner,
		kind:        kind,
		transportID: transportID,
		subscribers: make(map[domain.ConsumerID]*consumer),
		done:        make(chan struct{}),
	}

	e.mu.Lock()
	e.producers[p.id] = p
	e.mu.Unlock()

	e.logger.Infow("producer registered", "producer_id", p.id, "owner", owner, "kind", kind)
	return p.id, nil
}

// bindRemoteTrack attaches an incoming client track to the matching pending
// producer on the same transport and starts the forwarding loop.
func (e *Engine) bindRemoteTrack(transportID domain.TransportID, remote *webrtc.TrackRemote) {
	kind := domain.MediaAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaVideo
	}

	e.mu.RLock()
	var target *producer
	for _, p := range e.producers {
		if p.transportID == transportID && p.kind == kind {
			p.mu.RLock()
			unbound := p.remote == nil
			p.mu.RUnlock()
			if unbound {
				target = p
				break
			}
		}
	}
	e.mu.RUnlock()

	if target == nil {
		e.logger.Warnw("incoming track without matching producer",
			"transport_id", transportID, "kind", kind)
		return
	}

	target.mu.Lock()
	target.remote = remote
	target.mu.Unlock()

	e.logger.Infow("producer track bound", "producer_id", target.id, "kind", kind, "ssrc", remote.SSRC())
	go e.forward(target, remote)
}

// forward copies RTP from the remote track into every non-paused subscriber.
func (e *Engine) forward(p *producer, remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			if err != io.EOF {
				e.logger.Debugw("producer read ended", "producer_id", p.id, "error", err)
			}
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			e.logger.Debugw("malformed rtp packet", "producer_id", p.id, "error", err)
			continue
		}

		p.mu.RLock()
		for _, c := range p.subscribers {
			c.mu.RLock()
			paused, local := c.paused, c.local
			c.mu.RUnlock()
			if paused || local == nil {
				continue
			}
			if err := local.WriteRTP(pkt); err != nil && err != io.ErrClosedPipe {
				e.logger.Debugw("consumer write failed", "consumer_id", c.id, "error", err)
			}
		}
		p.mu.RUnlock()
	}
}

func (e *Engine) CloseProducer(ctx context.Context, id domain.ProducerID) error {
	e.mu.Lock()
	p, ok := e.producers[id]
	if ok {
		delete(e.producers, id)
	}
	e.mu.Unlock()
	if !ok {
		return domain.ErrProducerNotFound
	}

	close(p.done)
	p.mu.Lock()
	subscribers := p.subscribers
	p.subscribers = make(map[domain.ConsumerID]*consumer)
	p.mu.Unlock()

	for _, c := range subscribers {
		if err := e.CloseConsumer(ctx, c.id); err != nil && err != domain.ErrConsumerNotFound {
			e.logger.Warnw("consumer close on producer teardown failed", "consumer_id", c.id, "error", err)
		}
	}
	return nil
}

// Consume attaches a paused consumer for producerID on the given recv
// transport. The local track mirrors the producer's codec; Parameters
// carries the renegotiation offer the client must answer.
func (e *Engine) Consume(ctx context.Context, owner domain.UserID, transportID domain.TransportID, producerID domain.ProducerID, caps json.RawMessage) (ports.ConsumerInfo, error) {
	t := e.transport(transportID)
	if t == nil {
		return ports.ConsumerInfo{}, domain.ErrTransportNotFound
	}
	if t.direction != domain.DirectionRecv {
		return ports.ConsumerInfo{}, fmt.Errorf("consume requires a recv transport, got %s", t.direction)
	}

	e.mu.RLock()
	p, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok {
		return ports.ConsumerInfo{}, domain.ErrProducerNotFound
	}

	mimeType := webrtc.MimeTypeOpus
	if p.kind == domain.MediaVideo {
		mimeType = webrtc.MimeTypeVP8
	}
	if err := checkCaps(caps, mimeType); err != nil {
		return ports.ConsumerInfo{}, err
	}

	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		string(p.kind),
		fmt.Sprintf("officemesh-%s", p.owner),
	)
	if err != nil {
		return ports.ConsumerInfo{}, fmt.Errorf("failed to create local track: %w", err)
	}

	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return ports.ConsumerInfo{}, fmt.Errorf("failed to add track: %w", err)
	}
	// Drain sender RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	c := &consumer{
		id:            domain.ConsumerID(utils.GenerateConsumerID()),
		owner:         owner,
		producerID:    producerID,
		producerOwner: p.owner,
		kind:          p.kind,
		transportID:   transportID,
		paused:        true, // stays silent until the client signals readiness
		local:         local,
		sender:        sender,
	}

	e.mu.Lock()
	e.consumers[c.id] = c
	e.mu.Unlock()

	p.mu.Lock()
	p.subscribers[c.id] = c
	p.mu.Unlock()

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return ports.ConsumerInfo{}, fmt.Errorf("failed to create renegotiation offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return ports.ConsumerInfo{}, fmt.Errorf("failed to set local description: %w", err)
	}
	params, err := json.Marshal(sdpPayload{SDP: offer.SDP, Type: offer.Type.String()})
	if err != nil {
		return ports.ConsumerInfo{}, err
	}

	e.logger.Infow("consumer created",
		"consumer_id", c.id, "owner", owner, "producer_id", producerID, "kind", p.kind)

	return ports.ConsumerInfo{
		ID:            c.id,
		ProducerID:    producerID,
		ProducerOwner: p.owner,
		Kind:          p.kind,
		Parameters:    params,
	}, nil
}

func checkCaps(caps json.RawMessage, mimeType string) error {
	if len(caps) == 0 {
		return nil
	}
	var cc consumeCaps
	if err := json.Unmarshal(caps, &cc); err != nil {
		return fmt.Errorf("invalid consumer capabilities: %w", err)
	}
	if len(cc.MimeTypes) == 0 {
		return nil
	}
	for _, mt := range cc.MimeTypes {
		if strings.EqualFold(mt, mimeType) {
			return nil
		}
	}
	return domain.ErrCapabilityMismatch
}

func (e *Engine) PauseConsumer(ctx context.Context, id domain.ConsumerID) error {
	c := e.consumer(id)
	if c == nil {
		return domain.ErrConsumerNotFound
	}
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (e *Engine) ResumeConsumer(ctx context.Context, id domain.ConsumerID) error {
	c := e.consumer(id)
	if c == nil {
		return domain.ErrConsumerNotFound
	}
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (e *Engine) CloseConsumer(ctx context.Context, id domain.ConsumerID) error {
	e.mu.Lock()
	c, ok := e.consumers[id]
	if ok {
		delete(e.consumers, id)
	}
	e.mu.Unlock()
	if !ok {
		return domain.ErrConsumerNotFound
	}

	e.mu.RLock()
	p := e.producers[c.producerID]
	t := e.transports[c.transportID]
	e.mu.RUnlock()

	if p != nil {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
	if t != nil && c.sender != nil {
		if err := t.pc.RemoveTrack(c.sender); err != nil {
			e.logger.Debugw("sender removal failed", "consumer_id", id, "error", err)
		}
	}
	return nil
}

// RequestKeyframe sends a PLI towards the producing client so its encoder
// emits a fresh reference frame.
func (e *Engine) RequestKeyframe(ctx context.Context, producerID domain.ProducerID) error {
	e.mu.RLock()
	p, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok {
		return domain.ErrProducerNotFound
	}

	p.mu.RLock()
	remote := p.remote
	p.mu.RUnlock()
	if remote == nil {
		// Track not bound yet; there is no stream to refresh.
		return nil
	}

	t := e.transport(p.transportID)
	if t == nil {
		return domain.ErrTransportNotFound
	}

	return t.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
	})
}

func (e *Engine) transport(id domain.TransportID) *transport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transports[id]
}

func (e *Engine) consumer(id domain.ConsumerID) *consumer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.consumers[id]
}

// Close tears down every peer connection. Used on shutdown.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range e.producers {
		close(p.done)
		delete(e.producers, id)
	}
	for id, t := range e.transports {
		t.pc.Close()
		delete(e.transports, id)
	}
	e.consumers = make(map[domain.ConsumerID]*consumer)
	return nil
}
